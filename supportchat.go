// Package supportchat provides the main service registration for the
// live support chat router. It wires the connection gateway, session
// registry, bot responder, support router, and staff console endpoints
// onto a gin engine.
package supportchat

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/silverpines/supportchat/internal/auth"
	"github.com/silverpines/supportchat/internal/bot"
	"github.com/silverpines/supportchat/internal/config"
	"github.com/silverpines/supportchat/internal/constants"
	"github.com/silverpines/supportchat/internal/httperrors"
	"github.com/silverpines/supportchat/internal/metrics"
	"github.com/silverpines/supportchat/internal/notification"
	"github.com/silverpines/supportchat/internal/ratelimit"
	"github.com/silverpines/supportchat/internal/router"
	"github.com/silverpines/supportchat/internal/session"
	"github.com/silverpines/supportchat/internal/util"
	"github.com/silverpines/supportchat/internal/websocket"
)

var (
	// Global references for graceful shutdown
	globalWSHandler     *websocket.Handler
	globalRegistry      *session.Registry
	globalSupportRouter *router.SupportRouter
	globalPublicLimiter *ratelimit.MessageLimiter
	globalStaffLimiter  *ratelimit.MessageLimiter
	globalLogger        *zap.SugaredLogger
	shutdownMu          sync.Mutex
)

// Register registers the support chat service on the given gin engine.
// Configuration must already be validated; Register fails fast on
// anything Validate() cannot catch (path prefix format, CIDR parsing).
func Register(r *gin.Engine, cfg *config.Config, logger *zap.SugaredLogger) error {
	svcLogger := logger.Named("supportchat")
	svcLogger.Infow("initializing support chat service")

	// Validate JWT secret strength before serving any traffic
	// No else needed: early return pattern (guard clause)
	if err := validateJWTSecret(cfg.Security.JWTSecret); err != nil {
		svcLogger.Errorw("configuration validation failed", "error", err)
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	pathPrefix := cfg.Server.PathPrefix
	if pathPrefix == "" {
		pathPrefix = constants.DefaultPathPrefix
	}
	// No else needed: early return pattern (guard clause)
	if !strings.HasPrefix(pathPrefix, "/") {
		return fmt.Errorf("path prefix must start with '/' (got: %s)", pathPrefix)
	}

	// Session registry with the watchdog idle timeout and bot greeting
	registry := session.NewRegistry(cfg.Chat.IdleTimeout, cfg.Bot.Greeting, svcLogger)
	registry.SetBotSessionTTL(cfg.Chat.BotSessionTTL)

	// Bot responder: default rule set, configurable fallback and escalation triggers
	responder := bot.NewResponder(bot.DefaultRules(), cfg.Bot.Fallback, cfg.Bot.EscalationKeywords)

	// Email alerts for escalations that arrive while no staff console is online
	notificationService := notification.NewNotificationService(notification.Config{
		SMTPHost:    cfg.Notification.SMTPHost,
		SMTPPort:    cfg.Notification.SMTPPort,
		SMTPUser:    cfg.Notification.SMTPUser,
		SMTPPass:    cfg.Notification.SMTPPass,
		FromAddress: cfg.Notification.FromAddress,
		StaffEmails: cfg.Notification.StaffEmails,
		ConsoleURL:  cfg.Notification.ConsoleURL,
	}, svcLogger)

	// Support router wires the registry, responder, and notification service
	supportRouter := router.NewSupportRouter(registry, responder, notificationService, svcLogger)
	supportRouter.SetVisitorRateLimit(constants.DefaultRateWindow, cfg.Chat.VisitorRateLimit)

	// JWT validator for staff channels and the staff REST endpoints
	validator := auth.NewJWTValidator(cfg.Security.JWTSecret)

	// WebSocket gateway
	wsHandler := websocket.NewHandler(validator, supportRouter, svcLogger, cfg.Chat.MaxMessageSize)
	wsHandler.SetMaxConnectionsPerUser(cfg.Chat.MaxConnsPerUser)

	// SECURITY: when no origins are configured, ALL origins are accepted.
	// Acceptable only in development. In production, always configure
	// security.allowed_origins to prevent cross-site WebSocket hijacking.
	// No else needed: optional operation (origin configuration with fallback logging)
	if len(cfg.Security.AllowedOrigins) > 0 {
		wsHandler.SetAllowedOrigins(cfg.Security.AllowedOrigins)
	} else {
		svcLogger.Warnw("no allowed origins configured, allowing all origins (development mode)")
	}

	// Rate limiters for HTTP endpoints. The staff limiter is keyed by
	// staff ID, the public limiter by client IP.
	staffLimiter := ratelimit.NewMessageLimiter(constants.DefaultRateWindow, constants.DefaultStaffRateLimit)
	publicLimiter := ratelimit.NewMessageLimiter(constants.DefaultRateWindow, constants.PublicEndpointRate)

	// Start background goroutines only after all validation is complete,
	// so we don't leak goroutines if Register() returns an error.
	registry.StartCleanup()
	staffLimiter.StartCleanup()
	publicLimiter.StartCleanup()

	// Store global references for graceful shutdown.
	// Stop any previously-registered instances to prevent goroutine leaks
	// when Register() is called multiple times (tests, hot-reload).
	shutdownMu.Lock()
	if globalRegistry != nil {
		globalRegistry.StopCleanup()
	}
	if globalSupportRouter != nil {
		globalSupportRouter.Shutdown()
	}
	if globalStaffLimiter != nil {
		globalStaffLimiter.StopCleanup()
	}
	if globalPublicLimiter != nil {
		globalPublicLimiter.StopCleanup()
	}
	if globalWSHandler != nil {
		_ = globalWSHandler.ShutdownWithContext(context.Background())
	}
	globalWSHandler = wsHandler
	globalRegistry = registry
	globalSupportRouter = supportRouter
	globalStaffLimiter = staffLimiter
	globalPublicLimiter = publicLimiter
	globalLogger = svcLogger
	shutdownMu.Unlock()

	// CORS for the staff console origin
	// No else needed: optional operation (CORS configuration with fallback logging)
	if len(cfg.Security.AllowedOrigins) > 0 {
		corsConfig := cors.Config{
			AllowOrigins:     cfg.Security.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		r.Use(cors.New(corsConfig))

		svcLogger.Infow("CORS middleware configured",
			"allowed_origins", cfg.Security.AllowedOrigins)
	} else {
		svcLogger.Warnw("no CORS origins configured, CORS middleware not enabled")
	}

	// Configure trusted proxies to prevent X-Forwarded-For spoofing.
	// c.ClientIP() will only trust X-Forwarded-For from these networks.
	if len(cfg.Server.TrustedProxies) > 0 {
		// No else needed: optional operation (logging based on result)
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			svcLogger.Warnw("failed to set trusted proxies", "error", err)
		} else {
			svcLogger.Infow("trusted proxies configured", "proxies", cfg.Server.TrustedProxies)
		}
	}

	r.Use(securityHeadersMiddleware())
	r.Use(metricsMiddleware())

	svcLogger.Infow("using HTTP path prefix", "prefix", pathPrefix)

	chatGroup := r.Group(pathPrefix)
	{
		// Visitor WebSocket endpoint. No authentication: visitors may be
		// anonymous, identified only by the userId query parameter.
		chatGroup.GET("/ws", func(c *gin.Context) {
			wsHandler.HandleVisitorWebSocket(c.Writer, c.Request)
		})

		// Staff console WebSocket endpoint. If the JWT is in a query
		// param, move it to the Authorization header and redact it from
		// the URL so it never appears in gin access logs.
		chatGroup.GET("/staff/ws", func(c *gin.Context) {
			if token := c.Query("token"); token != "" {
				if c.Request.Header.Get(constants.HeaderAuthorization) == "" {
					c.Request.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)
				}
				q := c.Request.URL.Query()
				q.Del("token")
				c.Request.URL.RawQuery = q.Encode()
			}
			wsHandler.HandleStaffWebSocket(c.Writer, c.Request)
		})

		// Staff REST endpoints for the console's initial view
		staffGroup := chatGroup.Group("/staff")
		staffGroup.Use(staffAuthMiddleware(validator, svcLogger))
		staffGroup.Use(staffRateLimitMiddleware(staffLimiter, svcLogger))
		{
			staffGroup.GET("/sessions", handleListSessions(registry))
			staffGroup.GET("/escalations", handleListEscalations(registry))
		}

		// Health check endpoints (rate limited to prevent abuse)
		chatGroup.GET("/healthz", publicRateLimitMiddleware(publicLimiter, svcLogger), handleHealthCheck)
		chatGroup.GET("/readyz", publicRateLimitMiddleware(publicLimiter, svcLogger), handleReadyCheck(registry, supportRouter, notificationService))

		// Prometheus metrics endpoint, restricted to configured networks
		metricsNets := parseNetworks(cfg.Security.MetricsAllowedNetworks, svcLogger)
		chatGroup.GET("/metrics/prometheus",
			metricsNetworkMiddleware(metricsNets, svcLogger),
			publicRateLimitMiddleware(publicLimiter, svcLogger),
			gin.WrapH(promhttp.Handler()),
		)
	}

	svcLogger.Infow("support chat service registered",
		"visitor_endpoint", pathPrefix+"/ws",
		"staff_endpoint", pathPrefix+"/staff/ws",
		"staff_rest", pathPrefix+"/staff/sessions, "+pathPrefix+"/staff/escalations",
		"health_endpoints", pathPrefix+"/healthz, "+pathPrefix+"/readyz",
		"metrics_endpoint", pathPrefix+"/metrics/prometheus",
	)

	return nil
}

// securityHeadersMiddleware adds standard HTTP security headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration for Prometheus monitoring
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"endpoint": c.FullPath(),
			"method":   c.Request.Method,
		}).Observe(time.Since(start).Seconds())
	}
}

// staffAuthMiddleware creates a gin middleware for JWT authentication on
// the staff REST endpoints. Requires one of the support roles.
func staffAuthMiddleware(validator *auth.JWTValidator, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		token, err := util.ExtractBearerToken(authHeader)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			httperrors.RespondUnauthorized(c, httperrors.MsgInvalidAuthHeader)
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(token)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			// Log detailed error server-side, send generic error to client
			logger.Warnw("token validation failed",
				"error", err,
				"component", "auth")
			httperrors.RespondInvalidToken(c)
			c.Abort()
			return
		}

		// No else needed: early return pattern (guard clause)
		if !util.HasRole(claims.Roles, constants.RoleStaff, constants.RoleChatStaff, constants.RoleAdmin) {
			logger.Warnw("insufficient permissions for staff endpoint",
				"staff_id", claims.StaffID,
				"roles", claims.Roles,
				"component", "auth")
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

// staffRateLimitMiddleware rate limits the staff REST endpoints per staff ID.
func staffRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsInterface, exists := c.Get("claims")
		// No else needed: early return pattern (guard clause - let staffAuthMiddleware handle missing claims)
		if !exists {
			c.Next()
			return
		}

		claims, ok := claimsInterface.(*auth.Claims)
		// No else needed: early return pattern (guard clause)
		if !ok {
			util.LogError(logger, "staff_rate_limit", "validate claims type", fmt.Errorf("invalid claims type in context"))
			httperrors.RespondInternalError(c)
			c.Abort()
			return
		}

		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(claims.StaffID) {
			retryAfter := limiter.GetRetryAfter(claims.StaffID)

			logger.Warnw("staff rate limit exceeded",
				"staff_id", claims.StaffID,
				"endpoint", c.Request.URL.Path,
				"retry_after_ms", retryAfter,
				"component", "staff_rate_limit")

			setRetryAfterHeader(c, retryAfter)
			c.JSON(constants.StatusTooManyRequests, gin.H{
				"error":          "rate_limit_exceeded",
				"message":        constants.ErrMsgRateLimitExceeded,
				"retry_after_ms": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// publicRateLimitMiddleware rate limits public endpoints (healthz,
// readyz, metrics) by client IP to prevent abuse.
func publicRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// ClientIP() respects trusted proxies, preventing X-Forwarded-For spoofing
		clientIP := c.ClientIP()

		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(clientIP) {
			setRetryAfterHeader(c, limiter.GetRetryAfter(clientIP))
			c.JSON(constants.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": constants.ErrMsgRateLimitExceeded,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// setRetryAfterHeader converts a retry-after in milliseconds to seconds,
// rounding up so the client never retries inside the window.
func setRetryAfterHeader(c *gin.Context, retryAfterMs int) {
	retryAfterSeconds := (retryAfterMs + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
	// No else needed: optional operation (minimum retry after enforcement)
	if retryAfterSeconds < constants.MinRetryAfterSeconds {
		retryAfterSeconds = constants.MinRetryAfterSeconds
	}
	c.Header(constants.HeaderRetryAfter, fmt.Sprintf("%d", retryAfterSeconds))
}

// handleListSessions returns a handler listing live sessions for the staff console.
func handleListSessions(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := registry.ActiveSessions()
		c.JSON(constants.StatusOK, gin.H{
			"sessions": sessions,
			"count":    len(sessions),
		})
	}
}

// handleListEscalations returns a handler listing pending escalations.
// A staff console polls this on load; later escalations arrive on its
// WebSocket feed.
func handleListEscalations(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		pending := registry.PendingRequests()
		c.JSON(constants.StatusOK, gin.H{
			"escalations": pending,
			"count":       len(pending),
		})
	}
}

// handleHealthCheck is the liveness probe endpoint.
// If we can respond, we're alive.
func handleHealthCheck(c *gin.Context) {
	c.JSON(constants.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyCheck is the readiness probe endpoint. The service holds
// all state in memory, so readiness reduces to the core components
// being wired; the counters are reported for operator visibility.
func handleReadyCheck(registry *session.Registry, supportRouter *router.SupportRouter, notificationService *notification.NotificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := make(map[string]interface{})
		allReady := true

		// No else needed: optional operation (readiness check recording)
		if registry == nil {
			checks["sessions"] = map[string]interface{}{
				"status": "not ready",
				"reason": "session registry not initialized",
			}
			allReady = false
		} else {
			checks["sessions"] = map[string]interface{}{
				"status": "ready",
				"active": registry.Count(),
			}
		}

		// No else needed: optional operation (readiness check recording)
		if supportRouter == nil {
			checks["router"] = map[string]interface{}{
				"status": "not ready",
				"reason": "support router not initialized",
			}
			allReady = false
		} else {
			checks["router"] = map[string]interface{}{
				"status":         "ready",
				"staff_consoles": supportRouter.StaffConnectionCount(),
			}
		}

		// Email alerts are optional; report state without failing readiness
		if notificationService != nil {
			checks["notifications"] = map[string]interface{}{
				"enabled": notificationService.Enabled(),
			}
		}

		status := "ready"
		statusCode := constants.StatusOK
		// No else needed: optional operation (status code adjustment based on health)
		if !allReady {
			status = "not ready"
			statusCode = constants.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		})
	}
}

// Shutdown gracefully shuts down the support chat service. It stops the
// background sweeps, ends router goroutines, and closes all active
// WebSocket connections. Respects the context deadline and forces
// shutdown if the deadline is exceeded.
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()

	// No else needed: optional operation (logging during shutdown)
	if globalLogger != nil {
		globalLogger.Infow("starting graceful shutdown of support chat service")
	}

	// No else needed: optional operation (cleanup stop)
	if globalRegistry != nil {
		globalRegistry.StopCleanup()
	}

	// No else needed: optional operation (cleanup stop)
	if globalSupportRouter != nil {
		globalSupportRouter.Shutdown()
	}

	// No else needed: optional operation (cleanup stop)
	if globalStaffLimiter != nil {
		globalStaffLimiter.StopCleanup()
	}

	if globalPublicLimiter != nil {
		globalPublicLimiter.StopCleanup()
	}

	// No else needed: optional operation (WebSocket shutdown with error handling)
	if globalWSHandler != nil {
		// No else needed: early return pattern (guard clause)
		if err := globalWSHandler.ShutdownWithContext(ctx); err != nil {
			// No else needed: optional operation (error logging)
			if globalLogger != nil {
				globalLogger.Warnw("websocket handler shutdown error", "error", err)
			}
			return err
		}
	}

	// No else needed: optional operation (final logging)
	if globalLogger != nil {
		globalLogger.Infow("support chat service shutdown complete")
	}

	return nil
}

// validateJWTSecret validates the JWT secret strength.
// Returns error if the secret is empty, too short, or contains weak patterns.
func validateJWTSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if len(secret) < constants.MinJWTSecretLength {
		return fmt.Errorf(
			"JWT secret must be at least %d characters (got %d). "+
				"Generate a strong secret with: openssl rand -base64 32",
			constants.MinJWTSecretLength, len(secret))
	}

	// No else needed: early return pattern (guard clause)
	if weak, pattern := util.ContainsWeakPattern(secret, constants.WeakSecrets); weak {
		return fmt.Errorf(
			"JWT secret appears to be weak (contains '%s'). "+
				"Use a cryptographically random secret generated with: openssl rand -base64 32",
			pattern)
	}

	return nil
}

// parseNetworks parses a list of CIDR network strings, skipping invalid entries.
func parseNetworks(cidrs []string, logger *zap.SugaredLogger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warnw("invalid CIDR in metrics_allowed_networks", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// metricsNetworkMiddleware restricts access to the metrics endpoint to configured networks.
func metricsNetworkMiddleware(allowedNets []*net.IPNet, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// If no networks configured, allow all (development mode)
		if len(allowedNets) == 0 {
			c.Next()
			return
		}

		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			logger.Warnw("could not parse client IP for metrics access", "ip", c.ClientIP())
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		for _, ipNet := range allowedNets {
			if ipNet.Contains(clientIP) {
				c.Next()
				return
			}
		}

		logger.Warnw("metrics access denied from unauthorized network",
			"client_ip", c.ClientIP(),
			"component", "metrics")
		httperrors.RespondForbidden(c)
		c.Abort()
	}
}
