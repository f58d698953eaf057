// Package constants provides centralized constant definitions for the supportchat service.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// HTTP Status Codes
const (
	StatusOK                 = 200
	StatusTooManyRequests    = 429
	StatusServiceUnavailable = 503
)

// Timeouts for various operations
const (
	DefaultIdleTimeout  = 5 * time.Minute // Visitor inactivity before a session is force-ended
	HealthCheckTimeout  = 2 * time.Second // Health check operations
	ShutdownGracePeriod = 10 * time.Second
	NotifySendTimeout   = 15 * time.Second // Email alert delivery
)

// Sizes and Limits
const (
	DefaultMaxMessageSize   = 65536 // 64KB per WebSocket frame: chat text, not file transfer
	DefaultVisitorRateLimit = 30    // Visitor messages per minute per user
	DefaultStaffRateLimit   = 60    // Staff console requests per minute
	MaxConnectionsPerUser   = 4     // Simultaneous gateway connections per user ID
	MaxEventsPerUser        = 1000  // Maximum rate limit events tracked per user
	MaxUsersTracked         = 100000
	PublicEndpointRate      = 60 // Requests per minute for healthz, readyz, metrics
	MinJWTSecretLength      = 32
)

// HTTP Server Timeouts (for standalone server mode)
const (
	HTTPReadTimeout  = 15 * time.Second
	HTTPWriteTimeout = 60 * time.Second
	HTTPIdleTimeout  = 120 * time.Second
)

// Durations for background operations
const (
	DefaultRateWindow      = 1 * time.Minute  // Rate limiting window
	DefaultCleanupInterval = 1 * time.Minute  // Registry sweep interval
	DefaultBotSessionTTL   = 30 * time.Minute // Idle BOT-mode sessions swept after this
	EndedSessionLinger     = 1 * time.Minute  // ENDED sessions kept briefly for late acks
	ConnCloseDelay         = 100 * time.Millisecond
)

// Role Names for staff authorization
const (
	RoleStaff     = "staff"
	RoleChatStaff = "chat_staff"
	RoleAdmin     = "admin"
)

// Identity defaults
const (
	AnonymousUserID = "anonymous"
)

// Session termination reasons, sent verbatim to the visitor channel
const (
	ReasonInactivity  = "inactivity"
	ReasonStaffEnded  = "ended by support staff"
	ReasonVisitorExit = "visitor left the chat"
	ReasonSuperseded  = "replaced by a newer connection"
)

// Default Configuration Values
const (
	DefaultPort       = 8080
	DefaultLogLevel   = "info"
	DefaultPathPrefix = "/supportchat" // Default HTTP path prefix for all routes

	DefaultGreeting = "Hello! I am the Silver Pines assistant. Ask me about registration, meals, rooms or donations, or type \"support\" to reach a staff member."
	DefaultFallback = "I am sorry, I did not understand that. You can ask about registration, meals, rooms or donations, or type \"support\" to talk to a staff member."
)

// HTTP Headers
const (
	HeaderAuthorization = "Authorization"
	HeaderRetryAfter    = "Retry-After"
	BearerPrefix        = "Bearer "
)

// Error Messages
const (
	ErrMsgInvalidAuthHeader = "Invalid or missing Authorization header"
	ErrMsgInvalidToken      = "Invalid or expired token"
	ErrMsgForbidden         = "Insufficient permissions"
	ErrMsgInternalError     = "Internal server error"
	ErrMsgRateLimitExceeded = "Too many requests. Please try again later."
	ErrMsgSessionIDRequired = "Session ID is required"
)

// Retry-After conversion
const (
	MillisecondsPerSecond = 1000
	MinRetryAfterSeconds  = 1
)

// DefaultEscalationKeywords are the phrases that switch a bot session into
// escalation. Checked case-insensitively before the regular bot rules.
var DefaultEscalationKeywords = []string{
	"support", "help", "human", "staff", "agent", "talk to someone",
}

// WeakSecrets are common placeholder values that must never be used as a JWT secret.
var WeakSecrets = []string{
	"secret", "password", "changeme", "default", "test", "example",
	"12345", "qwerty", "admin",
}

// DefaultTrustedProxies restricts X-Forwarded-For trust to private networks.
const DefaultTrustedProxies = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"

// DefaultMetricsAllowedNetworks restricts the Prometheus endpoint to cluster-internal callers.
const DefaultMetricsAllowedNetworks = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8"
