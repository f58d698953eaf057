// Package router implements the support router: it feeds visitor
// messages to the bot, broadcasts escalations to the staff feed, binds
// the winning claim to a session, and relays visitor/staff turns while
// a session is in support mode.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/silverpines/supportchat/internal/bot"
	"github.com/silverpines/supportchat/internal/constants"
	chaterrors "github.com/silverpines/supportchat/internal/errors"
	"github.com/silverpines/supportchat/internal/message"
	"github.com/silverpines/supportchat/internal/metrics"
	"github.com/silverpines/supportchat/internal/ratelimit"
	"github.com/silverpines/supportchat/internal/session"
	"github.com/silverpines/supportchat/internal/util"
	"github.com/silverpines/supportchat/internal/websocket"
)

var (
	// ErrInvalidEvent is returned when an event is invalid
	ErrInvalidEvent = errors.New("invalid event")
	// ErrConnectionNotFound is returned when a connection is not found
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrNilConnection is returned when a nil connection is provided
	ErrNilConnection = errors.New("connection cannot be nil")
	// ErrNilEvent is returned when a nil event is provided
	ErrNilEvent = errors.New("event cannot be nil")
)

// NotificationService interface for escalation alerts (to avoid circular dependency)
type NotificationService interface {
	SendEscalationAlert(userID, sessionID, initialMessage string) error
}

// SupportRouter routes events between visitors, the bot responder, and staff consoles
type SupportRouter struct {
	registry            *session.Registry
	responder           *bot.Responder
	notificationService NotificationService
	messageLimiter      *ratelimit.MessageLimiter
	connections         map[string]*websocket.Connection // sessionID -> visitor connection
	staffConns          map[string]*websocket.Connection // staffID -> staff connection
	mu                  sync.RWMutex
	logger              *zap.SugaredLogger
	ctx                 context.Context
	cancel              context.CancelFunc
}

// NewSupportRouter creates a support router and registers itself as the
// registry's watchdog expiry handler.
func NewSupportRouter(registry *session.Registry, responder *bot.Responder, notificationService NotificationService, logger *zap.SugaredLogger) *SupportRouter {
	routerLogger := logger.Named("router")

	messageLimiter := ratelimit.NewMessageLimiter(constants.DefaultRateWindow, constants.DefaultVisitorRateLimit)
	messageLimiter.StartCleanup()

	ctx, cancel := context.WithCancel(context.Background())

	sr := &SupportRouter{
		registry:            registry,
		responder:           responder,
		notificationService: notificationService,
		messageLimiter:      messageLimiter,
		connections:         make(map[string]*websocket.Connection),
		staffConns:          make(map[string]*websocket.Connection),
		logger:              routerLogger,
		ctx:                 ctx,
		cancel:              cancel,
	}

	registry.OnExpired(sr.handleExpiry)

	return sr
}

// SetVisitorRateLimit replaces the per-visitor message limiter.
// Call before the router starts receiving traffic.
func (sr *SupportRouter) SetVisitorRateLimit(window time.Duration, limit int) {
	// No else needed: early return pattern (guard clause)
	if window <= 0 || limit <= 0 {
		return
	}
	sr.messageLimiter.StopCleanup()
	sr.messageLimiter = ratelimit.NewMessageLimiter(window, limit)
	sr.messageLimiter.StartCleanup()
}

// RegisterConnection registers a visitor connection for a session
func (sr *SupportRouter) RegisterConnection(sessionID string, conn *websocket.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if sessionID == "" {
		return ErrInvalidEvent
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.connections[sessionID] = conn
	return nil
}

// UnregisterConnection removes a visitor connection for a session.
// The session itself persists; the watchdog governs termination.
func (sr *SupportRouter) UnregisterConnection(sessionID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	delete(sr.connections, sessionID)
}

// RegisterStaffConnection registers a staff console on the support feed
// and replays any unclaimed support requests to it. Staff clients
// deduplicate by session ID, so the re-broadcast is safe.
func (sr *SupportRouter) RegisterStaffConnection(staffID string, conn *websocket.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if staffID == "" {
		return ErrInvalidEvent
	}

	sr.mu.Lock()
	sr.staffConns[staffID] = conn
	sr.mu.Unlock()

	for _, req := range sr.registry.PendingRequests() {
		sr.sendToStaff(staffID, escalationEvent(req))
	}

	return nil
}

// UnregisterStaffConnection removes a staff console from the support feed
func (sr *SupportRouter) UnregisterStaffConnection(staffID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	delete(sr.staffConns, staffID)
}

// RouteVisitorEvent dispatches one inbound visitor event
func (sr *SupportRouter) RouteVisitorEvent(conn *websocket.Connection, ev *message.Event) error {
	if conn == nil {
		return ErrNilConnection
	}
	if ev == nil {
		return ErrNilEvent
	}

	// Only chat messages are rate limited; lifecycle events are cheap
	// No else needed: optional operation (guard clause)
	if ev.Type == message.TypeUserMessage {
		if !sr.messageLimiter.Allow(conn.UserID) {
			retryAfter := sr.messageLimiter.GetRetryAfter(conn.UserID)
			sr.logger.Warnw("message rate limit exceeded",
				"userId", conn.UserID,
				"sessionId", ev.SessionID,
				"retryAfter", retryAfter)

			chatErr := chaterrors.ErrTooManyRequests(retryAfter)
			sr.HandleError(ev.SessionID, chatErr)
			return chatErr
		}
	}

	var err error
	switch ev.Type {
	case message.TypeJoin:
		err = sr.HandleJoin(conn, ev)
	case message.TypeLeave:
		err = sr.HandleLeave(conn, ev)
	case message.TypeExitSupport:
		err = sr.HandleExitSupport(conn, ev)
	case message.TypeUserMessage:
		err = sr.HandleVisitorMessage(conn, ev)
	default:
		err = chaterrors.ErrInvalidEventFormat(
			fmt.Sprintf("unknown event type %s", ev.Type),
			nil,
		)
	}

	// No else needed: early return pattern (guard clause)
	if err != nil {
		sr.HandleError(ev.SessionID, err)
		return err
	}

	return nil
}

// HandleJoin registers the channel and creates or reactivates the
// session. Joining with a new session ID while an older session for the
// same user is still live evicts the old one first, so the evict and
// the create happen as one operation instead of two racing events.
func (sr *SupportRouter) HandleJoin(conn *websocket.Connection, ev *message.Event) error {
	if ev.SessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	userID := conn.UserID

	// Evict-then-create on reconnect with a fresh session ID
	if prior := sr.registry.LiveSessionFor(userID); prior != "" && prior != ev.SessionID {
		sr.evictSuperseded(prior)
	}

	sess, created, err := sr.registry.GetOrCreate(userID, ev.SessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return chaterrors.ErrInvalidEventFormat("join rejected", err)
	}

	if err := sr.RegisterConnection(ev.SessionID, conn); err != nil {
		return err
	}

	sr.logger.Infow("visitor joined",
		"sessionId", ev.SessionID,
		"userId", userID,
		"created", created)

	sr.sendToVisitor(ev.SessionID, &message.Event{
		Type:      message.TypeStatus,
		SessionID: ev.SessionID,
		Content:   "connected",
		Sender:    message.SenderSystem,
		Timestamp: time.Now(),
	})

	// A fresh session opens with the greeting already on its transcript;
	// deliver it so re-joins do not repeat it.
	if created {
		transcript := sess.Transcript()
		if len(transcript) > 0 {
			sr.sendToVisitor(ev.SessionID, &message.Event{
				Type:      message.TypeBotReply,
				SessionID: ev.SessionID,
				Content:   transcript[0].Text,
				Sender:    message.SenderBot,
				Timestamp: time.Now(),
			})
		}
	}

	return nil
}

// evictSuperseded ends an older session that a reconnect replaced
func (sr *SupportRouter) evictSuperseded(sessionID string) {
	sr.sendToVisitor(sessionID, &message.Event{
		Type:      message.TypeSessionEnded,
		SessionID: sessionID,
		Reason:    constants.ReasonSuperseded,
		Sender:    message.SenderSystem,
		Timestamp: time.Now(),
	})

	if _, err := sr.registry.Terminate(sessionID, constants.ReasonSuperseded); err != nil {
		sr.logger.Debugw("superseded session already gone",
			"sessionId", sessionID)
	}

	sr.UnregisterConnection(sessionID)
}

// HandleLeave unregisters the channel without ending the session, so a
// page refresh does not kill an in-progress support conversation.
// Network drops arrive through the same path.
func (sr *SupportRouter) HandleLeave(conn *websocket.Connection, ev *message.Event) error {
	if ev.SessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	sr.UnregisterConnection(ev.SessionID)

	sr.logger.Debugw("visitor left",
		"sessionId", ev.SessionID,
		"userId", conn.UserID)

	return nil
}

// HandleExitSupport force-terminates a session before a fresh join.
// Clients send this unconditionally on mount, so an unknown session is
// a silent no-op rather than an error.
func (sr *SupportRouter) HandleExitSupport(conn *websocket.Connection, ev *message.Event) error {
	if ev.SessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	sess, err := sr.registry.Terminate(ev.SessionID, constants.ReasonVisitorExit)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		sr.logger.Debugw("exit_support for unknown session",
			"sessionId", ev.SessionID,
			"userId", conn.UserID)
		return nil
	}

	sr.notifySessionEnded(sess, constants.ReasonVisitorExit)
	sr.UnregisterConnection(ev.SessionID)

	return nil
}

// HandleVisitorMessage processes one visitor utterance. The delivery
// acknowledgment is emitted before the substantive reply, and every
// message in bot mode produces exactly one reply.
func (sr *SupportRouter) HandleVisitorMessage(conn *websocket.Connection, ev *message.Event) error {
	if ev.SessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	sess, err := sr.registry.Get(ev.SessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		// A message after termination is a no-op; the visitor simply
		// starts a fresh session.
		sr.logger.Warnw("message for unknown session",
			"sessionId", ev.SessionID,
			"userId", conn.UserID)
		return nil
	}

	if sess.UserID != conn.UserID {
		sr.logger.Warnw("session ownership violation",
			"sessionId", ev.SessionID,
			"sessionOwner", sess.UserID,
			"requestingUser", conn.UserID)
		return chaterrors.NewValidationError(
			chaterrors.ErrCodeInsufficientPerms,
			"You do not have permission to access this session",
			nil,
		)
	}

	if err := sr.registry.Touch(ev.SessionID); err != nil {
		sr.logger.Warnw("touch on terminated session",
			"sessionId", ev.SessionID)
		return nil
	}

	sess.Append(message.SenderVisitor, ev.Content)

	// Acknowledge receipt before any substantive reply
	sr.sendToVisitor(ev.SessionID, &message.Event{
		Type:      message.TypeDelivered,
		SessionID: ev.SessionID,
		Sender:    message.SenderSystem,
		Timestamp: time.Now(),
	})

	switch sess.Mode() {
	case session.ModeBot:
		return sr.handleBotTurn(sess, ev.Content)
	case session.ModeEscalating:
		// Waiting on a claim; the touch above already reset the watchdog
		return nil
	case session.ModeSupport:
		return sr.relayToStaff(sess, ev.Content)
	default:
		return nil
	}
}

// handleBotTurn produces the bot side of a bot-mode exchange: either an
// escalation or a reply. The responder guarantees a reply for every
// input, so the visitor never gets silence.
func (sr *SupportRouter) handleBotTurn(sess *session.Session, text string) error {
	if sr.responder.IsEscalationRequest(text) {
		return sr.escalate(sess, text)
	}

	reply := sr.responder.Respond(text)
	sess.Append(message.SenderBot, reply)

	sr.sendToVisitor(sess.ID, &message.Event{
		Type:      message.TypeBotReply,
		SessionID: sess.ID,
		Content:   reply,
		Sender:    message.SenderBot,
		Timestamp: time.Now(),
	})

	return nil
}

// escalate transitions the session and broadcasts the support request
func (sr *SupportRouter) escalate(sess *session.Session, initialMessage string) error {
	req, err := sr.registry.Escalate(sess.ID, initialMessage)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}

	sr.logger.Infow("session escalated",
		"sessionId", sess.ID,
		"userId", sess.UserID)

	sr.BroadcastEscalation(req)

	// Email alert is fire-and-forget; chat flow never waits on SMTP
	if sr.notificationService != nil {
		userID := sess.UserID
		sessionID := sess.ID
		routerCtx := sr.ctx
		util.SafeGo(sr.logger, "escalationAlert", func() {
			if routerCtx.Err() != nil {
				return
			}
			if err := sr.notificationService.SendEscalationAlert(userID, sessionID, initialMessage); err != nil {
				util.LogError(sr.logger, "router", "send escalation alert", err,
					"sessionId", sessionID,
					"userId", userID)
			}
		})
	}

	sr.sendToVisitor(sess.ID, &message.Event{
		Type:      message.TypeStatus,
		SessionID: sess.ID,
		Content:   "Connecting you with a staff member. Please stay in the chat.",
		Sender:    message.SenderSystem,
		Timestamp: time.Now(),
	})

	return nil
}

// BroadcastEscalation sends a support request to every connected staff
// console. Idempotent: staff clients deduplicate by session ID, and
// duplicate claims after the first are rejected by the registry.
func (sr *SupportRouter) BroadcastEscalation(req *session.SupportRequest) {
	ev := escalationEvent(req)

	sr.mu.RLock()
	staffIDs := make([]string, 0, len(sr.staffConns))
	for staffID := range sr.staffConns {
		staffIDs = append(staffIDs, staffID)
	}
	sr.mu.RUnlock()

	for _, staffID := range staffIDs {
		sr.sendToStaff(staffID, ev)
	}
}

func escalationEvent(req *session.SupportRequest) *message.Event {
	return &message.Event{
		Type:      message.TypeEscalation,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Content:   req.InitialMessage,
		Sender:    message.SenderSystem,
		Timestamp: req.CreatedAt,
	}
}

// RouteStaffEvent dispatches one inbound staff event
func (sr *SupportRouter) RouteStaffEvent(conn *websocket.Connection, ev *message.Event) error {
	if conn == nil {
		return ErrNilConnection
	}
	if ev == nil {
		return ErrNilEvent
	}

	var err error
	switch ev.Type {
	case message.TypeClaim:
		err = sr.HandleClaim(conn, ev)
	case message.TypeStaffMessage:
		err = sr.HandleStaffMessage(conn, ev)
	case message.TypeEndSupport:
		err = sr.EndByStaff(conn, ev)
	default:
		err = chaterrors.ErrInvalidEventFormat(
			fmt.Sprintf("unknown event type %s", ev.Type),
			nil,
		)
	}

	// No else needed: early return pattern (guard clause)
	if err != nil {
		sr.sendStaffError(conn.UserID, ev.SessionID, err)
		return err
	}

	return nil
}

// HandleClaim attempts to bind the staff member to an escalating
// session. A lost race or a late claim comes back as an informational
// claim_result, not an error.
func (sr *SupportRouter) HandleClaim(conn *websocket.Connection, ev *message.Event) error {
	if ev.SessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	staffID := conn.UserID
	staffName := conn.Name

	sess, err := sr.registry.Claim(ev.SessionID, staffID, staffName)
	if err != nil {
		var chatErr *chaterrors.ChatError
		if errors.As(err, &chatErr) &&
			(chatErr.Code == chaterrors.ErrCodeAlreadyClaimed || chatErr.Code == chaterrors.ErrCodeExpired) {
			// Informational outcome for the staff UI
			sr.sendToStaff(staffID, &message.Event{
				Type:      message.TypeClaimResult,
				SessionID: ev.SessionID,
				StaffID:   staffID,
				Sender:    message.SenderSystem,
				Timestamp: time.Now(),
				Error:     chatErr.ToErrorInfo(),
			})
			return nil
		}
		return err
	}

	sr.logger.Infow("support request claimed",
		"sessionId", ev.SessionID,
		"staffId", staffID,
		"userId", sess.UserID)

	sr.sendToStaff(staffID, &message.Event{
		Type:      message.TypeClaimResult,
		SessionID: ev.SessionID,
		StaffID:   staffID,
		UserID:    sess.UserID,
		Content:   "claimed",
		Sender:    message.SenderSystem,
		Timestamp: time.Now(),
	})

	// Let the visitor know a human took over
	displayName := staffName
	if displayName == "" {
		displayName = staffID
	}
	sr.sendToVisitor(ev.SessionID, &message.Event{
		Type:      message.TypeStatus,
		SessionID: ev.SessionID,
		Content:   fmt.Sprintf("%s has joined the chat", displayName),
		Sender:    message.SenderSystem,
		Timestamp: time.Now(),
	})

	return nil
}

// HandleStaffMessage relays a staff turn to the visitor. Only the
// assigned staff member may relay; anyone else is rejected with an
// invalid transition.
func (sr *SupportRouter) HandleStaffMessage(conn *websocket.Connection, ev *message.Event) error {
	if ev.SessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	sess, err := sr.registry.Get(ev.SessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}

	if sess.Mode() != session.ModeSupport {
		return chaterrors.ErrInvalidTransition(string(sess.Mode()), string(session.ModeSupport))
	}

	if sess.AssignedStaffID() != conn.UserID {
		sr.logger.Warnw("relay from unassigned staff",
			"sessionId", ev.SessionID,
			"assignedStaffId", sess.AssignedStaffID(),
			"staffId", conn.UserID)
		return chaterrors.ErrInvalidTransition(string(session.ModeSupport), string(session.ModeSupport))
	}

	sess.Append(message.SenderStaff, ev.Content)

	// Staff messages do not touch: the watchdog tracks visitor activity only
	sr.sendToVisitor(ev.SessionID, &message.Event{
		Type:      message.TypeStaffReply,
		SessionID: ev.SessionID,
		StaffID:   conn.UserID,
		Content:   ev.Content,
		Sender:    message.SenderStaff,
		Timestamp: time.Now(),
	})

	return nil
}

// relayToStaff forwards a visitor turn to the assigned staff console.
// Delivery is best-effort: a disconnected staff channel drops the
// message with a log line, never an error to the visitor.
func (sr *SupportRouter) relayToStaff(sess *session.Session, text string) error {
	staffID := sess.AssignedStaffID()
	if staffID == "" {
		return nil
	}

	ev := &message.Event{
		Type:      message.TypeUserMessage,
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Content:   text,
		Sender:    message.SenderVisitor,
		Timestamp: time.Now(),
	}

	if !sr.sendToStaff(staffID, ev) {
		chatErr := chaterrors.ErrChannelUnavailable(sess.ID)
		util.LogError(sr.logger, "router", "relay to staff", chatErr,
			"sessionId", sess.ID,
			"staffId", staffID)
	}

	return nil
}

// EndByStaff terminates a session at the assigned staff member's request
func (sr *SupportRouter) EndByStaff(conn *websocket.Connection, ev *message.Event) error {
	if ev.SessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	sess, err := sr.registry.Get(ev.SessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}

	if sess.Mode() == session.ModeSupport && sess.AssignedStaffID() != conn.UserID {
		return chaterrors.ErrInvalidTransition(string(session.ModeSupport), string(session.ModeEnded))
	}

	ended, err := sr.registry.Terminate(ev.SessionID, constants.ReasonStaffEnded)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}

	sr.logger.Infow("session ended by staff",
		"sessionId", ev.SessionID,
		"staffId", conn.UserID)

	sr.notifySessionEnded(ended, constants.ReasonStaffEnded)

	return nil
}

// handleExpiry is the registry's watchdog callback: notify the channel,
// then let it go. The registry already moved the session to ENDED.
func (sr *SupportRouter) handleExpiry(sess *session.Session, reason string) {
	sr.notifySessionEnded(sess, reason)
	sr.UnregisterConnection(sess.ID)
}

// notifySessionEnded emits the terminal notice to the visitor channel
func (sr *SupportRouter) notifySessionEnded(sess *session.Session, reason string) {
	sr.sendToVisitor(sess.ID, &message.Event{
		Type:      message.TypeSessionEnded,
		SessionID: sess.ID,
		Reason:    reason,
		Sender:    message.SenderSystem,
		Timestamp: time.Now(),
	})
}

// sendToVisitor delivers an event on a session's visitor channel.
// Best-effort: a missing or closing channel drops the event.
func (sr *SupportRouter) sendToVisitor(sessionID string, ev *message.Event) bool {
	sr.mu.RLock()
	conn, exists := sr.connections[sessionID]
	sr.mu.RUnlock()

	// No else needed: early return pattern (guard clause)
	if !exists {
		return false
	}

	data, err := util.MarshalJSON(ev)
	if err != nil {
		util.LogError(sr.logger, "router", "marshal visitor event", err,
			"sessionId", sessionID)
		return false
	}

	if !conn.SafeSend(data) {
		sr.logger.Warnw("visitor channel full or closing",
			"sessionId", sessionID,
			"eventType", ev.Type)
		return false
	}

	metrics.EventsSent.Inc()
	return true
}

// sendToStaff delivers an event to one staff console
func (sr *SupportRouter) sendToStaff(staffID string, ev *message.Event) bool {
	sr.mu.RLock()
	conn, exists := sr.staffConns[staffID]
	sr.mu.RUnlock()

	// No else needed: early return pattern (guard clause)
	if !exists {
		return false
	}

	data, err := util.MarshalJSON(ev)
	if err != nil {
		util.LogError(sr.logger, "router", "marshal staff event", err,
			"staffId", staffID)
		return false
	}

	if !conn.SafeSend(data) {
		sr.logger.Warnw("staff channel full or closing",
			"staffId", staffID,
			"eventType", ev.Type)
		return false
	}

	metrics.EventsSent.Inc()
	return true
}

// sendStaffError reports a routing failure back to a staff console
func (sr *SupportRouter) sendStaffError(staffID, sessionID string, err error) {
	var chatErr *chaterrors.ChatError
	if !errors.As(err, &chatErr) {
		chatErr = chaterrors.NewRoutingError(
			chaterrors.ErrCodeServiceError,
			"An unexpected error occurred",
			err,
		)
	}

	sr.sendToStaff(staffID, &message.Event{
		Type:      message.TypeError,
		SessionID: sessionID,
		Sender:    message.SenderSystem,
		Timestamp: time.Now(),
		Error:     chatErr.ToErrorInfo(),
	})
}

// HandleError handles errors on the visitor path by sending an error
// event to the client. Fatal errors close the connection after the
// event has had a chance to flush.
func (sr *SupportRouter) HandleError(sessionID string, err error) error {
	// No else needed: early return pattern (guard clause)
	if err == nil {
		return nil
	}

	var chatErr *chaterrors.ChatError
	if !errors.As(err, &chatErr) {
		chatErr = chaterrors.NewRoutingError(
			chaterrors.ErrCodeServiceError,
			"An unexpected error occurred",
			err,
		)
	}

	sr.logger.Errorw("error on visitor path",
		"sessionId", sessionID,
		"errorCode", chatErr.Code,
		"errorCategory", chatErr.Category,
		"recoverable", chatErr.Recoverable,
		"cause", chatErr.Cause)

	metrics.EventErrors.Inc()

	sr.sendToVisitor(sessionID, &message.Event{
		Type:      message.TypeError,
		SessionID: sessionID,
		Sender:    message.SenderSystem,
		Timestamp: time.Now(),
		Error:     chatErr.ToErrorInfo(),
	})

	if chatErr.IsFatal() {
		sr.mu.RLock()
		conn, exists := sr.connections[sessionID]
		sr.mu.RUnlock()

		if exists {
			closeSID := sessionID
			util.SafeGo(sr.logger, "fatal-error-close", func() {
				// Let the error event flush before tearing down
				time.Sleep(constants.ConnCloseDelay)

				if err := conn.Close(); err != nil {
					sr.logger.Warnw("failed to close connection",
						"sessionId", closeSID,
						"error", err)
				}

				sr.UnregisterConnection(closeSID)
			})
		}
	}

	return nil
}

// StaffConnectionCount returns the number of connected staff consoles
func (sr *SupportRouter) StaffConnectionCount() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.staffConns)
}

// Shutdown gracefully shuts down the router and its cleanup goroutines
func (sr *SupportRouter) Shutdown() {
	sr.logger.Infow("shutting down support router")
	if sr.cancel != nil {
		sr.cancel()
	}
	if sr.messageLimiter != nil {
		sr.messageLimiter.StopCleanup()
	}
}
