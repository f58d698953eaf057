package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/silverpines/supportchat/internal/constants"
	chaterrors "github.com/silverpines/supportchat/internal/errors"
	"github.com/silverpines/supportchat/internal/message"
)

// getTestLogger creates a logger for testing
func getTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestNewRegistry(t *testing.T) {
	timeout := 5 * time.Minute
	r := NewRegistry(timeout, "welcome", getTestLogger())

	require.NotNil(t, r)
	assert.Equal(t, timeout, r.IdleTimeout())
	assert.NotNil(t, r.sessions)
	assert.NotNil(t, r.userSessions)
	assert.NotNil(t, r.pending)
}

func TestNewRegistry_Defaults(t *testing.T) {
	r := NewRegistry(0, "", getTestLogger())

	assert.Equal(t, constants.DefaultIdleTimeout, r.IdleTimeout())
	assert.Equal(t, constants.DefaultGreeting, r.greeting)
}

func TestGetOrCreate_NewSession(t *testing.T) {
	r := NewRegistry(5*time.Minute, "welcome", getTestLogger())

	s, created, err := r.GetOrCreate("user-1", "sess-1")

	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, created)
	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, "user-1", s.UserID)
	assert.Equal(t, ModeBot, s.Mode())
	assert.False(t, s.StartTime.IsZero())

	// The greeting is already on the transcript of a fresh session
	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, message.SenderBot, transcript[0].Sender)
	assert.Equal(t, "welcome", transcript[0].Text)
}

func TestGetOrCreate_EmptyUserID(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	s, created, err := r.GetOrCreate("", "sess-1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidUserID))
	assert.Nil(t, s)
	assert.False(t, created)
}

func TestGetOrCreate_EmptySessionID(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	s, _, err := r.GetOrCreate("user-1", "")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSessionID))
	assert.Nil(t, s)
}

func TestGetOrCreate_IdempotentRejoin(t *testing.T) {
	r := NewRegistry(5*time.Minute, "welcome", getTestLogger())

	first, created, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)

	// Re-joining must not duplicate the greeting
	assert.Len(t, second.Transcript(), 1)
}

func TestGetOrCreate_OwnershipViolation(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)

	s, created, err := r.GetOrCreate("user-2", "sess-1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionOwnership))
	assert.Nil(t, s)
	assert.False(t, created)
}

func TestGetOrCreate_ReplacesEndedSession(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	old, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)

	_, err = r.Terminate("sess-1", constants.ReasonVisitorExit)
	require.NoError(t, err)

	// Same ID after termination yields a fresh BOT session
	fresh, created, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, ModeBot, fresh.Mode())
	assert.Empty(t, fresh.EndReason())
}

func TestGet_UnknownSession(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	s, err := r.Get("no-such-session")

	require.Error(t, err)
	assert.Nil(t, s)

	var chatErr *chaterrors.ChatError
	require.True(t, errors.As(err, &chatErr))
	assert.Equal(t, chaterrors.ErrCodeUnknownSession, chatErr.Code)
}

func TestLiveSessionFor(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	assert.Empty(t, r.LiveSessionFor("user-1"))

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", r.LiveSessionFor("user-1"))

	_, err = r.Terminate("sess-1", constants.ReasonVisitorExit)
	require.NoError(t, err)
	assert.Empty(t, r.LiveSessionFor("user-1"))
}

func TestEscalate_FromBotMode(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)

	req, err := r.Escalate("sess-1", "I need to speak to someone")

	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "sess-1", req.SessionID)
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, "I need to speak to someone", req.InitialMessage)
	assert.False(t, req.CreatedAt.IsZero())

	s, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, ModeEscalating, s.Mode())

	pending := r.PendingRequests()
	require.Len(t, pending, 1)
	assert.Equal(t, "sess-1", pending[0].SessionID)
}

func TestEscalate_AlreadyEscalating(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Escalate("sess-1", "help")
	require.NoError(t, err)

	req, err := r.Escalate("sess-1", "help again")

	require.Error(t, err)
	assert.Nil(t, req)

	var chatErr *chaterrors.ChatError
	require.True(t, errors.As(err, &chatErr))
	assert.Equal(t, chaterrors.ErrCodeInvalidTransition, chatErr.Code)
}

func TestEscalate_UnknownSession(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	req, err := r.Escalate("no-such-session", "help")

	require.Error(t, err)
	assert.Nil(t, req)
}

func TestClaim_Winner(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Escalate("sess-1", "help")
	require.NoError(t, err)

	s, err := r.Claim("sess-1", "staff-7", "Dana")

	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, ModeSupport, s.Mode())
	assert.Equal(t, "staff-7", s.AssignedStaffID())
	assert.Equal(t, "Dana", s.AssignedStaffName())

	// Winning claim consumes the pending request
	assert.Empty(t, r.PendingRequests())
}

func TestClaim_AlreadyClaimed(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Escalate("sess-1", "help")
	require.NoError(t, err)
	_, err = r.Claim("sess-1", "staff-1", "First")
	require.NoError(t, err)

	s, err := r.Claim("sess-1", "staff-2", "Second")

	require.Error(t, err)
	assert.Nil(t, s)

	var chatErr *chaterrors.ChatError
	require.True(t, errors.As(err, &chatErr))
	assert.Equal(t, chaterrors.ErrCodeAlreadyClaimed, chatErr.Code)
	assert.Contains(t, chatErr.Message, "staff-1")

	// Assignment is unchanged
	live, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "staff-1", live.AssignedStaffID())
}

func TestClaim_ExpiredSession(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Escalate("sess-1", "help")
	require.NoError(t, err)
	_, err = r.Terminate("sess-1", constants.ReasonVisitorExit)
	require.NoError(t, err)

	s, err := r.Claim("sess-1", "staff-1", "")

	require.Error(t, err)
	assert.Nil(t, s)

	var chatErr *chaterrors.ChatError
	require.True(t, errors.As(err, &chatErr))
	assert.Equal(t, chaterrors.ErrCodeExpired, chatErr.Code)
}

func TestClaim_UnknownSession(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	s, err := r.Claim("no-such-session", "staff-1", "")

	require.Error(t, err)
	assert.Nil(t, s)

	var chatErr *chaterrors.ChatError
	require.True(t, errors.As(err, &chatErr))
	assert.Equal(t, chaterrors.ErrCodeExpired, chatErr.Code)
}

func TestClaim_BotModeSession(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)

	s, err := r.Claim("sess-1", "staff-1", "")

	require.Error(t, err)
	assert.Nil(t, s)

	var chatErr *chaterrors.ChatError
	require.True(t, errors.As(err, &chatErr))
	assert.Equal(t, chaterrors.ErrCodeInvalidTransition, chatErr.Code)
}

func TestClaim_ConcurrentExactlyOneWinner(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Escalate("sess-1", "help")
	require.NoError(t, err)

	const claimants = 16
	var wg sync.WaitGroup
	results := make([]error, claimants)

	start := make(chan struct{})
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = r.Claim("sess-1", fmt.Sprintf("staff-%d", i), "")
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		var chatErr *chaterrors.ChatError
		require.True(t, errors.As(err, &chatErr))
		assert.Equal(t, chaterrors.ErrCodeAlreadyClaimed, chatErr.Code)
	}
	assert.Equal(t, 1, winners)

	s, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, ModeSupport, s.Mode())
	assert.NotEmpty(t, s.AssignedStaffID())
}

func TestClaim_RacingEscalateLeavesNoStalePending(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	// A claim landing right behind the escalation must never leave a
	// pending entry behind for an already-claimed session.
	for i := 0; i < 50; i++ {
		sessionID := fmt.Sprintf("sess-%d", i)
		_, _, err := r.GetOrCreate("user-1", sessionID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := r.Escalate(sessionID, "help")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			for {
				_, err := r.Claim(sessionID, "staff-1", "Dana")
				if err == nil {
					return
				}
				// Retry until the escalation lands
				var chatErr *chaterrors.ChatError
				if errors.As(err, &chatErr) && chatErr.Code == chaterrors.ErrCodeInvalidTransition {
					continue
				}
				assert.NoError(t, err)
				return
			}
		}()
		wg.Wait()

		for _, req := range r.PendingRequests() {
			assert.NotEqual(t, sessionID, req.SessionID,
				"claimed session still listed as pending")
		}
	}
}

func TestTouch_UpdatesLastActivity(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	s, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)

	before := s.LastActivity()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, r.Touch("sess-1"))
	assert.True(t, s.LastActivity().After(before))
}

func TestTouch_EndedSession(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Terminate("sess-1", constants.ReasonVisitorExit)
	require.NoError(t, err)

	err = r.Touch("sess-1")

	require.Error(t, err)
	var chatErr *chaterrors.ChatError
	require.True(t, errors.As(err, &chatErr))
	assert.Equal(t, chaterrors.ErrCodeUnknownSession, chatErr.Code)
}

func TestTerminate_MarksEnded(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)

	s, err := r.Terminate("sess-1", constants.ReasonStaffEnded)

	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, ModeEnded, s.Mode())
	assert.Equal(t, constants.ReasonStaffEnded, s.EndReason())

	// The object lingers for late events, but it is out of the live view
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.ActiveSessions())
}

func TestTerminate_Twice(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Terminate("sess-1", constants.ReasonVisitorExit)
	require.NoError(t, err)

	s, err := r.Terminate("sess-1", constants.ReasonStaffEnded)

	require.Error(t, err)
	assert.Nil(t, s)
}

func TestTerminate_DropsPendingRequest(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Escalate("sess-1", "help")
	require.NoError(t, err)
	require.Len(t, r.PendingRequests(), 1)

	_, err = r.Terminate("sess-1", constants.ReasonVisitorExit)
	require.NoError(t, err)

	assert.Empty(t, r.PendingRequests())
}

func TestWatchdog_ExpiresEscalatingSession(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, "", getTestLogger())

	expired := make(chan string, 1)
	r.OnExpired(func(s *Session, reason string) {
		expired <- reason
	})

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Escalate("sess-1", "help")
	require.NoError(t, err)

	select {
	case reason := <-expired:
		assert.Equal(t, constants.ReasonInactivity, reason)
	case <-time.After(1 * time.Second):
		t.Fatal("watchdog did not fire")
	}

	s, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, ModeEnded, s.Mode())
	assert.Equal(t, constants.ReasonInactivity, s.EndReason())
	assert.Empty(t, r.PendingRequests())
}

func TestWatchdog_TouchResetsTimer(t *testing.T) {
	r := NewRegistry(120*time.Millisecond, "", getTestLogger())

	expired := make(chan string, 1)
	r.OnExpired(func(s *Session, reason string) {
		expired <- reason
	})

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Escalate("sess-1", "help")
	require.NoError(t, err)

	// Keep touching well inside the timeout: the session must survive
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, r.Touch("sess-1"))
	}

	s, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, ModeEscalating, s.Mode())

	// Stop touching: now it expires
	select {
	case <-expired:
	case <-time.After(1 * time.Second):
		t.Fatal("watchdog did not fire after touches stopped")
	}
}

func TestWatchdog_DoesNotCoverBotMode(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, "", getTestLogger())

	fired := make(chan struct{}, 1)
	r.OnExpired(func(s *Session, reason string) {
		fired <- struct{}{}
	})

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)

	select {
	case <-fired:
		t.Fatal("watchdog fired for a BOT-mode session")
	case <-time.After(200 * time.Millisecond):
	}

	s, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, ModeBot, s.Mode())
}

func TestWatchdog_CancelledByTerminate(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, "", getTestLogger())

	fired := make(chan struct{}, 1)
	r.OnExpired(func(s *Session, reason string) {
		fired <- struct{}{}
	})

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Escalate("sess-1", "help")
	require.NoError(t, err)

	_, err = r.Terminate("sess-1", constants.ReasonVisitorExit)
	require.NoError(t, err)

	select {
	case <-fired:
		t.Fatal("watchdog fired after explicit termination")
	case <-time.After(200 * time.Millisecond):
	}

	s, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, constants.ReasonVisitorExit, s.EndReason())
}

func TestWatchdog_RearmedOnClaim(t *testing.T) {
	r := NewRegistry(80*time.Millisecond, "", getTestLogger())

	expired := make(chan string, 1)
	r.OnExpired(func(s *Session, reason string) {
		expired <- reason
	})

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, err = r.Escalate("sess-1", "help")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, err = r.Claim("sess-1", "staff-1", "")
	require.NoError(t, err)

	// The claim re-armed the timer; expiry still happens if the visitor
	// stays silent in SUPPORT mode.
	select {
	case reason := <-expired:
		assert.Equal(t, constants.ReasonInactivity, reason)
	case <-time.After(1 * time.Second):
		t.Fatal("watchdog did not fire in support mode")
	}
}

func TestActiveSessions_Snapshot(t *testing.T) {
	r := NewRegistry(5*time.Minute, "", getTestLogger())

	_, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)
	_, _, err = r.GetOrCreate("user-2", "sess-2")
	require.NoError(t, err)
	_, err = r.Escalate("sess-2", "help")
	require.NoError(t, err)

	infos := r.ActiveSessions()
	require.Len(t, infos, 2)

	byID := make(map[string]Info, len(infos))
	for _, info := range infos {
		byID[info.SessionID] = info
	}
	assert.Equal(t, string(ModeBot), byID["sess-1"].Mode)
	assert.Equal(t, string(ModeEscalating), byID["sess-2"].Mode)
	assert.Equal(t, "user-2", byID["sess-2"].UserID)
	assert.Equal(t, 1, byID["sess-1"].TranscriptLen)
}

func TestTranscript_AppendAndCopy(t *testing.T) {
	r := NewRegistry(5*time.Minute, "hi", getTestLogger())

	s, _, err := r.GetOrCreate("user-1", "sess-1")
	require.NoError(t, err)

	s.Append(message.SenderVisitor, "hello")
	s.Append(message.SenderBot, "hello back")

	transcript := s.Transcript()
	require.Len(t, transcript, 3)
	assert.Equal(t, message.SenderVisitor, transcript[1].Sender)
	assert.Equal(t, "hello", transcript[1].Text)

	// The returned slice is a copy
	transcript[0].Text = "mutated"
	assert.Equal(t, "hi", s.Transcript()[0].Text)
}
