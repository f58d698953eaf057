// Package websocket implements the connection gateway: one persistent
// duplex channel per client, upgraded from HTTP. Visitors connect
// anonymously; staff consoles authenticate with a JWT.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/silverpines/supportchat/internal/auth"
	"github.com/silverpines/supportchat/internal/constants"
	chaterrors "github.com/silverpines/supportchat/internal/errors"
	"github.com/silverpines/supportchat/internal/message"
	"github.com/silverpines/supportchat/internal/metrics"
	"github.com/silverpines/supportchat/internal/ratelimit"
	"github.com/silverpines/supportchat/internal/util"
)

var (
	// upgrader configures the WebSocket upgrade
	// SECURITY: In production, this service MUST be deployed behind a reverse proxy
	// that terminates TLS, so all WebSocket connections use WSS.
	// The CheckOrigin function is configured per-handler to validate allowed origins.
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// CheckOrigin is set per-handler instance
	}

	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod is the interval for sending ping messages (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second
)

// Connection represents an active WebSocket connection with client context
type Connection struct {
	// conn is the underlying WebSocket connection
	conn *websocket.Conn

	// ConnectionID is a unique identifier for this connection
	ConnectionID string

	// UserID is the visitor identity, or the staff ID for staff connections
	UserID string

	// Name is the display name; for visitors it mirrors UserID
	Name string

	// SessionID is the chat session this channel is bound to
	SessionID string

	// Roles are the staff roles from the JWT; empty for visitors
	Roles []string

	// IsStaff marks connections on the staff feed
	IsStaff bool

	// limitKey is the connection limiter key this connection holds
	limitKey string

	// send is a buffered channel for outbound events
	send chan []byte

	// closing indicates the connection is being torn down.
	// Set before closing the send channel to prevent send-on-closed-channel panics.
	closing atomic.Bool

	// mu protects concurrent access to the connection
	mu sync.RWMutex
}

// NewConnection creates a bare Connection for testing purposes
func NewConnection(userID string, roles []string) *Connection {
	return &Connection{
		UserID: userID,
		Name:   userID,
		Roles:  roles,
		send:   make(chan []byte, 256),
	}
}

// NewStaffConnection creates a bare staff Connection for testing purposes
func NewStaffConnection(staffID, name string, roles []string) *Connection {
	return &Connection{
		UserID:  staffID,
		Name:    name,
		Roles:   roles,
		IsStaff: true,
		send:    make(chan []byte, 256),
	}
}

// GetUserID returns the user ID for this connection
func (c *Connection) GetUserID() string {
	return c.UserID
}

// GetSessionID returns the session ID for this connection
func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SessionID
}

// EventRouter is the routing surface the gateway hands events to
type EventRouter interface {
	RouteVisitorEvent(conn *Connection, ev *message.Event) error
	RouteStaffEvent(conn *Connection, ev *message.Event) error
	RegisterConnection(sessionID string, conn *Connection) error
	UnregisterConnection(sessionID string)
	RegisterStaffConnection(staffID string, conn *Connection) error
	UnregisterStaffConnection(staffID string)
}

// Handler manages WebSocket upgrades and the set of live connections
type Handler struct {
	validator      *auth.JWTValidator
	logger         *zap.SugaredLogger
	connLimiter    *ratelimit.ConnectionLimiter
	router         EventRouter
	allowedOrigins map[string]bool
	maxMessageSize int64

	// connections tracks active connections by client key and connection ID
	connections map[string]map[string]*Connection
	mu          sync.RWMutex
}

// NewHandler creates a new WebSocket handler
func NewHandler(validator *auth.JWTValidator, router EventRouter, logger *zap.SugaredLogger, maxMessageSize int64) *Handler {
	wsLogger := logger.Named("websocket")
	if maxMessageSize <= 0 {
		maxMessageSize = constants.DefaultMaxMessageSize
	}
	return &Handler{
		validator:      validator,
		router:         router,
		logger:         wsLogger,
		connLimiter:    ratelimit.NewConnectionLimiter(constants.MaxConnectionsPerUser),
		allowedOrigins: make(map[string]bool),
		maxMessageSize: maxMessageSize,
		connections:    make(map[string]map[string]*Connection),
	}
}

// SetMaxConnectionsPerUser replaces the per-client connection limiter.
// Call before serving upgrade traffic.
func (h *Handler) SetMaxConnectionsPerUser(max int) {
	// No else needed: early return pattern (guard clause)
	if max <= 0 {
		return
	}
	h.connLimiter = ratelimit.NewConnectionLimiter(max)
}

// SetAllowedOrigins configures the allowed origins for WebSocket connections.
// If no origins are set, all origins are allowed (development mode).
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.allowedOrigins = make(map[string]bool)
	for _, origin := range origins {
		h.allowedOrigins[origin] = true
	}

	h.logger.Infow("configured allowed origins",
		"count", len(origins),
		"origins", origins)
}

// IsOpenOrigin returns true when no allowed origins are configured,
// meaning all origins are accepted.
// SECURITY: When true, any website can establish WebSocket connections.
// Acceptable only behind a reverse proxy that performs its own origin
// validation.
func (h *Handler) IsOpenOrigin() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allowedOrigins) == 0
}

// checkOrigin validates the origin of a WebSocket upgrade request
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.allowedOrigins) == 0 {
		return true
	}

	if h.allowedOrigins[origin] {
		return true
	}

	h.logger.Warnw("origin not allowed",
		"origin", origin)
	return false
}

// HandleVisitorWebSocket upgrades a visitor channel. Visitors are
// anonymous: identity is whatever userId the client supplies, falling
// back to the anonymous placeholder.
func (h *Handler) HandleVisitorWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	// No else needed: conditional assignment (default value)
	if userID == "" {
		userID = constants.AnonymousUserID
	}

	// Anonymous visitors share a user ID, so the connection limit keys
	// on the client address for them.
	limitKey := userID
	if userID == constants.AnonymousUserID {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			limitKey = constants.AnonymousUserID + "@" + host
		}
	}

	// No else needed: early return pattern (guard clause)
	if !h.connLimiter.Allow(limitKey) {
		h.logger.Warnw("visitor connection limit exceeded",
			"userId", userID,
			"remoteAddr", r.RemoteAddr)
		chatErr := chaterrors.ErrConnectionLimitExceeded(5000)
		http.Error(w, chatErr.Message, http.StatusTooManyRequests)
		return
	}

	localUpgrader := upgrader
	localUpgrader.CheckOrigin = h.checkOrigin

	conn, err := localUpgrader.Upgrade(w, r, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		h.connLimiter.Release(limitKey)
		util.LogError(h.logger, "websocket", "upgrade visitor connection", err)
		return
	}

	conn.SetReadLimit(h.maxMessageSize)

	connection := h.createConnection(conn, userID, userID, nil, false)
	connection.limitKey = limitKey

	h.registerConnection(connection)

	h.logger.Infow("visitor connection established",
		"userId", userID,
		"connectionId", connection.ConnectionID)

	util.SafeGo(h.logger, "readPump", func() { connection.readPump(h) })
	util.SafeGo(h.logger, "writePump", func() { connection.writePump() })
}

// HandleStaffWebSocket upgrades a staff console channel. Staff must
// present a valid JWT carrying a support role; the connection is put on
// the support feed immediately so pending escalations replay to it.
func (h *Handler) HandleStaffWebSocket(w http.ResponseWriter, r *http.Request) {
	// Prefer the Authorization header, fall back to the query parameter
	var token string
	authHeader := r.Header.Get(constants.HeaderAuthorization)
	if len(authHeader) > len(constants.BearerPrefix) && authHeader[:len(constants.BearerPrefix)] == constants.BearerPrefix {
		token = authHeader[len(constants.BearerPrefix):]
	}
	if token == "" {
		token = r.URL.Query().Get("token")
		if token != "" {
			h.logger.Warnw("JWT provided via query parameter (deprecated, use Authorization header)")
		}
	}

	// No else needed: early return pattern (guard clause)
	if token == "" {
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := h.validator.ValidateToken(token)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		h.logger.Warnw("staff JWT validation failed",
			"error", err)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	// No else needed: early return pattern (guard clause)
	if !hasSupportRole(claims.Roles) {
		h.logger.Warnw("staff connection without support role",
			"staffId", claims.StaffID,
			"roles", claims.Roles)
		http.Error(w, constants.ErrMsgForbidden, http.StatusForbidden)
		return
	}

	// No else needed: early return pattern (guard clause)
	if !h.connLimiter.Allow(claims.StaffID) {
		h.logger.Warnw("staff connection limit exceeded",
			"staffId", claims.StaffID)
		chatErr := chaterrors.ErrConnectionLimitExceeded(5000)
		http.Error(w, chatErr.Message, http.StatusTooManyRequests)
		return
	}

	localUpgrader := upgrader
	localUpgrader.CheckOrigin = h.checkOrigin

	conn, err := localUpgrader.Upgrade(w, r, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		h.connLimiter.Release(claims.StaffID)
		util.LogError(h.logger, "websocket", "upgrade staff connection", err)
		return
	}

	conn.SetReadLimit(h.maxMessageSize)

	connection := h.createConnection(conn, claims.StaffID, claims.Name, claims.Roles, true)
	connection.limitKey = claims.StaffID

	h.registerConnection(connection)

	if err := h.router.RegisterStaffConnection(claims.StaffID, connection); err != nil {
		util.LogError(h.logger, "websocket", "register staff connection", err,
			"staffId", claims.StaffID)
	}

	h.logger.Infow("staff connection established",
		"staffId", claims.StaffID,
		"connectionId", connection.ConnectionID)

	util.SafeGo(h.logger, "readPump", func() { connection.readPump(h) })
	util.SafeGo(h.logger, "writePump", func() { connection.writePump() })
}

// hasSupportRole reports whether any role grants access to the support feed
func hasSupportRole(roles []string) bool {
	for _, role := range roles {
		switch role {
		case constants.RoleStaff, constants.RoleChatStaff, constants.RoleAdmin:
			return true
		}
	}
	return false
}

// createConnection creates a new Connection with client context.
// The connection ID is clientID-uuid, unique even for rapid reconnects
// from the same client.
func (h *Handler) createConnection(conn *websocket.Conn, userID, name string, roles []string, isStaff bool) *Connection {
	connectionID := fmt.Sprintf("%s-%s", userID, uuid.NewString())

	return &Connection{
		conn:         conn,
		ConnectionID: connectionID,
		UserID:       userID,
		Name:         name,
		Roles:        roles,
		IsStaff:      isStaff,
		send:         make(chan []byte, 256),
	}
}

// registerConnection adds a connection to the active connections map
func (h *Handler) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// No else needed: lazy initialization
	if h.connections[conn.UserID] == nil {
		h.connections[conn.UserID] = make(map[string]*Connection)
	}

	h.connections[conn.UserID][conn.ConnectionID] = conn

	metrics.WebSocketConnections.Inc()
}

// RegisterConnectionForTest registers a connection for testing purposes
func (h *Handler) RegisterConnectionForTest(conn *Connection) {
	h.registerConnection(conn)
}

// unregisterConnection removes a connection from the active connections map
func (h *Handler) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if userConns, ok := h.connections[conn.UserID]; ok {
		if _, exists := userConns[conn.ConnectionID]; exists {
			delete(userConns, conn.ConnectionID)
			conn.closing.Store(true)
			close(conn.send)

			key := conn.limitKey
			if key == "" {
				key = conn.UserID
			}
			h.connLimiter.Release(key)

			metrics.WebSocketConnections.Dec()

			if len(userConns) == 0 {
				delete(h.connections, conn.UserID)
			}
		}
	}
}

// Shutdown gracefully closes all active WebSocket connections
// Deprecated: Use ShutdownWithContext instead
func (h *Handler) Shutdown() {
	h.ShutdownWithContext(context.Background())
}

// ShutdownWithContext gracefully closes all active WebSocket connections.
// It respects the context deadline and forces shutdown when exceeded.
func (h *Handler) ShutdownWithContext(ctx context.Context) error {
	h.logger.Infow("shutting down gateway, closing all connections")

	h.mu.Lock()
	connections := make([]*Connection, 0)
	for _, userConns := range h.connections {
		for _, conn := range userConns {
			connections = append(connections, conn)
		}
	}
	h.mu.Unlock()

	var wg sync.WaitGroup

	for _, conn := range connections {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			c.mu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
			}
			c.mu.Unlock()

			if err := c.Close(); err != nil {
				h.logger.Debugw("close during shutdown",
					"connectionId", c.ConnectionID,
					"error", err)
			}
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Infow("all connections closed gracefully")
		return nil
	case <-ctx.Done():
		h.logger.Warnw("shutdown deadline exceeded, forcing closure",
			"remainingConnections", len(connections))
		return ctx.Err()
	}
}

// Close gracefully closes the WebSocket connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SetClosing marks the connection as closing.
// After this call, SafeSend will return false.
func (c *Connection) SetClosing() {
	c.closing.Store(true)
}

// SafeSend attempts to send data to the connection's send channel.
// Returns false if the connection is closing or the channel is full.
// This is the only safe way to hand data to a connection from outside.
func (c *Connection) SafeSend(data []byte) bool {
	if c.closing.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ReceiveForTest returns the send channel as a receive channel for
// verifying events delivered to the connection in tests.
func (c *Connection) ReceiveForTest() <-chan []byte {
	return c.send
}

// sendErrorResponse sends a structured error event to the client.
// Uses a select/default guard to avoid blocking if the channel is full.
func (c *Connection) sendErrorResponse(code chaterrors.ErrorCode, msg string) {
	errorEv := &message.Event{
		Type:   message.TypeError,
		Sender: message.SenderSystem,
		Error: &message.ErrorInfo{
			Code:        string(code),
			Message:     msg,
			Recoverable: true,
		},
		Timestamp: time.Now(),
	}
	if errorBytes, err := util.MarshalJSON(errorEv); err == nil {
		select {
		case c.send <- errorBytes:
		default:
		}
	}
}

// readPump reads events from the WebSocket connection:
// - read deadline driven by the pong heartbeat
// - parse, sanitize, and validate each inbound event
// - hand the event to the router for its channel type
// - graceful cleanup on close or error
func (c *Connection) readPump(h *Handler) {
	defer func() {
		sid := c.GetSessionID()
		h.logger.Infow("connection closed",
			"userId", c.UserID,
			"sessionId", sid,
			"staff", c.IsStaff)

		// A dropped channel is treated exactly like an explicit leave:
		// the session persists and the watchdog governs termination.
		if h.router != nil {
			if c.IsStaff {
				h.router.UnregisterStaffConnection(c.UserID)
			} else if sid != "" {
				h.router.UnregisterConnection(sid)
			}
		}

		h.unregisterConnection(c)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		// No else needed: error handling with break (exits loop)
		if err != nil {
			// No else needed: specific error handling before break
			if errors.Is(err, websocket.ErrReadLimit) {
				h.logger.Warnw("message size limit exceeded",
					"userId", c.UserID,
					"connectionId", c.ConnectionID,
					"limit", h.maxMessageSize)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				util.LogError(h.logger, "websocket", "handle unexpected close", err,
					"userId", c.UserID,
					"sessionId", c.GetSessionID(),
					"connectionId", c.ConnectionID)
			}
			break
		}

		var ev message.Event
		// No else needed: error handling with continue (skips to next iteration)
		if err := util.UnmarshalJSON(raw, &ev); err != nil {
			h.logger.Warnw("failed to parse event",
				"userId", c.UserID,
				"connectionId", c.ConnectionID,
				"error", err)

			metrics.EventErrors.Inc()
			c.sendErrorResponse(chaterrors.ErrCodeInvalidFormat, "Invalid event format")
			continue
		}

		ev.Sanitize()

		// Clients may omit optional fields
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		if ev.Sender == "" {
			if c.IsStaff {
				ev.Sender = message.SenderStaff
			} else {
				ev.Sender = message.SenderVisitor
			}
		}
		// Identity on the wire is advisory; the channel's identity wins
		if c.IsStaff {
			ev.StaffID = c.UserID
		} else {
			ev.UserID = c.UserID
		}

		if err := ev.Validate(); err != nil {
			h.logger.Warnw("event validation failed",
				"userId", c.UserID,
				"connectionId", c.ConnectionID,
				"error", err)

			metrics.EventErrors.Inc()
			c.sendErrorResponse(chaterrors.ErrCodeInvalidFormat, "Event validation failed")
			continue
		}

		metrics.EventsReceived.Inc()

		// No else needed: router is required for event processing
		if h.router == nil {
			c.sendErrorResponse(chaterrors.ErrCodeServiceError, "Service temporarily unavailable")
			continue
		}

		// Bind the channel to its session on the first session-bearing
		// event. Check and assign under one lock to avoid a data race.
		if !c.IsStaff && ev.SessionID != "" {
			c.mu.Lock()
			if c.SessionID == "" {
				c.SessionID = ev.SessionID
			}
			c.mu.Unlock()
		}

		if c.IsStaff {
			err = h.router.RouteStaffEvent(c, &ev)
		} else {
			err = h.router.RouteVisitorEvent(c, &ev)
		}

		// The router already reported the error on the channel; here we
		// only log it with connection context.
		if err != nil {
			util.LogError(h.logger, "websocket", "route event", err,
				"userId", c.UserID,
				"sessionId", c.GetSessionID(),
				"connectionId", c.ConnectionID,
				"eventType", ev.Type)
		}
	}
}

// writePump writes events to the WebSocket connection:
// - periodic ping heartbeat
// - one WebSocket frame per event so clients can parse each JSON document
// - graceful connection closure when the send channel closes
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// No else needed: channel closed handling (sends close and returns)
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// No else needed: error handling with return (exits function)
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			// No else needed: error handling with return (exits function)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
