// Package session implements the registry that owns all live chat
// sessions, the mode state machine, and the inactivity watchdog.
// Every other component reads and writes session state through the
// registry, never directly.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/silverpines/supportchat/internal/constants"
	chaterrors "github.com/silverpines/supportchat/internal/errors"
	"github.com/silverpines/supportchat/internal/message"
	"github.com/silverpines/supportchat/internal/metrics"
)

var (
	// ErrInvalidUserID is returned when user ID is empty
	ErrInvalidUserID = errors.New("user ID cannot be empty")
	// ErrInvalidSessionID is returned when session ID is empty
	ErrInvalidSessionID = errors.New("session ID cannot be empty")
	// ErrSessionOwnership is returned when a session ID is presented by a different user
	ErrSessionOwnership = errors.New("session does not belong to user")
)

// Mode represents the lifecycle state of a session
type Mode string

const (
	// ModeBot means the automated responder answers visitor messages
	ModeBot Mode = "BOT"
	// ModeEscalating means the visitor asked for a human and no staff member has claimed yet
	ModeEscalating Mode = "ESCALATING"
	// ModeSupport means a staff member owns the conversation
	ModeSupport Mode = "SUPPORT"
	// ModeEnded is terminal; a session never leaves it
	ModeEnded Mode = "ENDED"
)

// TranscriptEntry is one line of the in-memory conversation record.
// The transcript lives only as long as the session does.
type TranscriptEntry struct {
	Sender message.SenderType
	Text   string
	SentAt time.Time
}

// SupportRequest is the ephemeral record broadcast to staff when a
// session escalates. It is destroyed on claim or when the session ends.
type SupportRequest struct {
	SessionID      string
	UserID         string
	InitialMessage string
	CreatedAt      time.Time
}

// Session represents one visitor's chat lifetime within a single
// browser context, identified by (userID, sessionID).
type Session struct {
	ID     string
	UserID string

	StartTime time.Time

	mu                sync.RWMutex
	mode              Mode
	assignedStaffID   string
	assignedStaffName string
	lastActivityAt    time.Time
	endTime           time.Time
	endReason         string
	transcript        []*TranscriptEntry

	// Watchdog timer; armed only in ESCALATING and SUPPORT. The
	// generation counter invalidates callbacks from timers that were
	// stopped after already firing.
	timer    *time.Timer
	timerGen uint64
}

// Mode returns the current lifecycle mode
func (s *Session) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// AssignedStaffID returns the owning staff member, empty outside SUPPORT mode
func (s *Session) AssignedStaffID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignedStaffID
}

// AssignedStaffName returns the display name of the owning staff member
func (s *Session) AssignedStaffName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignedStaffName
}

// LastActivity returns the timestamp of the last visitor-originated event
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivityAt
}

// EndReason returns the termination reason, empty while the session is live
func (s *Session) EndReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endReason
}

// Append adds an entry to the session transcript
func (s *Session) Append(sender message.SenderType, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, &TranscriptEntry{
		Sender: sender,
		Text:   text,
		SentAt: time.Now(),
	})
}

// Transcript returns a copy of the transcript entries
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TranscriptEntry, len(s.transcript))
	for i, e := range s.transcript {
		out[i] = *e
	}
	return out
}

// Info is a read-only snapshot of a session for the staff console
type Info struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Mode            string    `json:"mode"`
	AssignedStaffID string    `json:"assigned_staff_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	TranscriptLen   int       `json:"transcript_len"`
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		SessionID:       s.ID,
		UserID:          s.UserID,
		Mode:            string(s.mode),
		AssignedStaffID: s.assignedStaffID,
		StartedAt:       s.StartTime,
		LastActivityAt:  s.lastActivityAt,
		TranscriptLen:   len(s.transcript),
	}
}

// cancelTimerLocked stops the watchdog timer. Caller must hold s.mu.
// Bumping the generation makes any already-fired callback a no-op.
func (s *Session) cancelTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// ExpiryFunc is invoked from the watchdog goroutine after a session is
// force-ended for inactivity. The session is already in ENDED mode when
// the callback runs.
type ExpiryFunc func(s *Session, reason string)

// Registry is the authoritative in-memory store of chat sessions.
// Lookups are guarded by the registry lock; each session serializes its
// own mutations, so operations on different sessions never block each
// other. When both locks are needed the registry lock is taken first.
type Registry struct {
	sessions     map[string]*Session // sessionID -> session
	userSessions map[string]string   // userID -> live sessionID
	pending      map[string]*SupportRequest
	mu           sync.RWMutex

	idleTimeout   time.Duration
	botSessionTTL time.Duration
	greeting      string
	logger        *zap.SugaredLogger

	onExpired ExpiryFunc

	// Sweep goroutine management
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupWg       sync.WaitGroup
	stopOnce        sync.Once
}

// NewRegistry creates a session registry. Zero durations select the defaults.
func NewRegistry(idleTimeout time.Duration, greeting string, logger *zap.SugaredLogger) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = constants.DefaultIdleTimeout
	}
	if greeting == "" {
		greeting = constants.DefaultGreeting
	}
	return &Registry{
		sessions:        make(map[string]*Session),
		userSessions:    make(map[string]string),
		pending:         make(map[string]*SupportRequest),
		idleTimeout:     idleTimeout,
		botSessionTTL:   constants.DefaultBotSessionTTL,
		greeting:        greeting,
		logger:          logger,
		cleanupInterval: constants.DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
}

// OnExpired registers the callback invoked when the watchdog ends a
// session. Must be set before any session can escalate.
func (r *Registry) OnExpired(fn ExpiryFunc) {
	r.onExpired = fn
}

// SetBotSessionTTL overrides how long an idle BOT-mode session survives
// before the sweep ends it. Zero or negative keeps the default.
func (r *Registry) SetBotSessionTTL(ttl time.Duration) {
	// No else needed: early return pattern (guard clause)
	if ttl <= 0 {
		return
	}
	r.botSessionTTL = ttl
}

// GetOrCreate returns the live session for (userID, sessionID), creating
// one in BOT mode with the greeting already on its transcript. The
// second return value reports whether a new session was created.
// Re-joining with the same pair returns the same session object and does
// not duplicate the greeting.
func (r *Registry) GetOrCreate(userID, sessionID string) (*Session, bool, error) {
	if userID == "" {
		return nil, false, ErrInvalidUserID
	}
	if sessionID == "" {
		return nil, false, ErrInvalidSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[sessionID]; ok {
		// No else needed: early return pattern (guard clause)
		if existing.UserID != userID {
			return nil, false, fmt.Errorf("%w: session %s belongs to %s, not %s",
				ErrSessionOwnership, sessionID, existing.UserID, userID)
		}
		// ENDED is terminal; a lingering ended entry under the same ID
		// is replaced with a fresh session rather than revived.
		if existing.Mode() != ModeEnded {
			r.userSessions[userID] = sessionID
			return existing, false, nil
		}
		delete(r.sessions, sessionID)
	}

	now := time.Now()
	s := &Session{
		ID:             sessionID,
		UserID:         userID,
		StartTime:      now,
		mode:           ModeBot,
		lastActivityAt: now,
		transcript: []*TranscriptEntry{
			{Sender: message.SenderBot, Text: r.greeting, SentAt: now},
		},
	}

	r.sessions[sessionID] = s
	r.userSessions[userID] = sessionID

	metrics.SessionsCreated.Inc()
	metrics.ActiveSessions.Inc()

	return s, true, nil
}

// Get returns the session for sessionID, or an UnknownSession error
func (r *Registry) Get(sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, chaterrors.ErrUnknownSession(sessionID)
	}
	return s, nil
}

// LiveSessionFor returns the current live session ID for a user, empty
// if the user has none. Used by the gateway's evict-then-create rejoin.
func (r *Registry) LiveSessionFor(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userSessions[userID]
}

// Escalate moves a BOT session to ESCALATING, arms the watchdog, and
// returns the support request to broadcast to staff. The pending entry
// is inserted in the same critical section as the mode change, so a
// racing claim can never delete it before it exists.
func (r *Registry) Escalate(sessionID, initialMessage string) (*SupportRequest, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, chaterrors.ErrUnknownSession(sessionID)
	}

	s.mu.Lock()
	if s.mode != ModeBot {
		from := s.mode
		s.mu.Unlock()
		r.mu.Unlock()
		return nil, chaterrors.ErrInvalidTransition(string(from), string(ModeEscalating))
	}
	s.mode = ModeEscalating
	r.armWatchdogLocked(s)

	req := &SupportRequest{
		SessionID:      sessionID,
		UserID:         s.UserID,
		InitialMessage: initialMessage,
		CreatedAt:      time.Now(),
	}
	r.pending[sessionID] = req
	s.mu.Unlock()
	r.mu.Unlock()

	metrics.Escalations.Inc()

	return req, nil
}

// Claim attempts to bind a staff member to an escalating session.
// First writer wins: the check and the transition happen under the
// session lock, so under concurrent claims exactly one succeeds. Losers
// get AlreadyClaimed; claims on an ended or unknown session get Expired.
func (r *Registry) Claim(sessionID, staffID, staffName string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]

	// No else needed: early return pattern (guard clause)
	if !ok {
		r.mu.Unlock()
		metrics.ClaimsLost.WithLabelValues("expired").Inc()
		return nil, chaterrors.ErrClaimExpired(sessionID)
	}

	s.mu.Lock()
	switch s.mode {
	case ModeEscalating:
		// The winning claim
	case ModeSupport:
		holder := s.assignedStaffID
		s.mu.Unlock()
		r.mu.Unlock()
		metrics.ClaimsLost.WithLabelValues("already_claimed").Inc()
		return nil, chaterrors.ErrAlreadyClaimed(holder)
	case ModeEnded:
		s.mu.Unlock()
		r.mu.Unlock()
		metrics.ClaimsLost.WithLabelValues("expired").Inc()
		return nil, chaterrors.ErrClaimExpired(sessionID)
	default:
		from := s.mode
		s.mu.Unlock()
		r.mu.Unlock()
		return nil, chaterrors.ErrInvalidTransition(string(from), string(ModeSupport))
	}

	s.mode = ModeSupport
	s.assignedStaffID = staffID
	s.assignedStaffName = staffName
	r.armWatchdogLocked(s)
	// Pending entry goes away in the same critical section as the
	// transition, keeping the staff console's escalation list consistent.
	delete(r.pending, sessionID)
	s.mu.Unlock()
	r.mu.Unlock()

	metrics.ClaimsWon.Inc()

	return s, nil
}

// Touch updates lastActivityAt and resets the watchdog timer. Called on
// every visitor-originated event; bot and staff messages never touch.
func (r *Registry) Touch(sessionID string) error {
	s, err := r.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeEnded {
		return chaterrors.ErrUnknownSession(sessionID)
	}

	s.lastActivityAt = time.Now()

	// Timer runs only while waiting on the visitor in escalated modes
	if s.mode == ModeEscalating || s.mode == ModeSupport {
		r.armWatchdogLocked(s)
	}

	return nil
}

// Terminate moves a session to ENDED, cancels its watchdog, and drops
// it from the live indexes. The session object lingers in the registry
// briefly so late events resolve to a clean UnknownSession rather than
// racing a delete. Returns the ended session so the caller can emit the
// termination notice.
func (r *Registry) Terminate(sessionID, reason string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	// No else needed: early return pattern (guard clause)
	if !ok {
		return nil, chaterrors.ErrUnknownSession(sessionID)
	}

	s.mu.Lock()
	if s.mode == ModeEnded {
		s.mu.Unlock()
		return nil, chaterrors.ErrUnknownSession(sessionID)
	}
	s.cancelTimerLocked()
	s.mode = ModeEnded
	s.endTime = time.Now()
	s.endReason = reason
	s.mu.Unlock()

	r.dropFromIndexes(s)

	metrics.ActiveSessions.Dec()
	metrics.SessionsEnded.WithLabelValues(reasonLabel(reason)).Inc()

	return s, nil
}

// dropFromIndexes removes a session from the pending and user indexes
func (r *Registry) dropFromIndexes(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, s.ID)
	if r.userSessions[s.UserID] == s.ID {
		delete(r.userSessions, s.UserID)
	}
}

// armWatchdogLocked (re)arms the inactivity timer. Caller must hold s.mu.
// The generation captured by the callback detects timers that were
// cancelled after firing, closing the stale-timer window.
func (r *Registry) armWatchdogLocked(s *Session) {
	s.timerGen++
	gen := s.timerGen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(r.idleTimeout, func() {
		r.expire(s, gen)
	})
}

// expire is the watchdog callback. It re-checks the generation and mode
// under the session lock, so a timer that lost a race with Touch,
// Claim, or Terminate does nothing.
func (r *Registry) expire(s *Session, gen uint64) {
	s.mu.Lock()
	if s.timerGen != gen || (s.mode != ModeEscalating && s.mode != ModeSupport) {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.timerGen++
	s.mode = ModeEnded
	s.endTime = time.Now()
	s.endReason = constants.ReasonInactivity
	s.mu.Unlock()

	r.dropFromIndexes(s)

	metrics.ActiveSessions.Dec()
	metrics.SessionsEnded.WithLabelValues("inactivity").Inc()
	metrics.WatchdogExpiries.Inc()

	if r.logger != nil {
		r.logger.Infow("session expired by watchdog",
			"component", "session",
			"sessionId", s.ID,
			"userId", s.UserID)
	}

	if r.onExpired != nil {
		r.onExpired(s, constants.ReasonInactivity)
	}
}

// PendingRequests returns the current unclaimed support requests,
// oldest first is not guaranteed. Used for re-broadcast when a staff
// console reconnects.
func (r *Registry) PendingRequests() []*SupportRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*SupportRequest, 0, len(r.pending))
	for _, req := range r.pending {
		out = append(out, req)
	}
	return out
}

// ActiveSessions returns snapshots of all sessions not yet ended
func (r *Registry) ActiveSessions() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Mode() == ModeEnded {
			continue
		}
		out = append(out, s.Info())
	}
	return out
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, s := range r.sessions {
		if s.Mode() != ModeEnded {
			count++
		}
	}
	return count
}

// IdleTimeout returns the configured watchdog timeout
func (r *Registry) IdleTimeout() time.Duration {
	return r.idleTimeout
}

// reasonLabel collapses free-text termination reasons into a bounded
// metric label set.
func reasonLabel(reason string) string {
	switch reason {
	case constants.ReasonInactivity:
		return "inactivity"
	case constants.ReasonStaffEnded:
		return "staff_ended"
	case constants.ReasonVisitorExit:
		return "visitor_exit"
	case constants.ReasonSuperseded:
		return "superseded"
	default:
		return "other"
	}
}
