package session

import (
	"time"

	"github.com/silverpines/supportchat/internal/constants"
	"github.com/silverpines/supportchat/internal/metrics"
)

// StartCleanup starts the background sweep that garbage-collects
// sessions the watchdog does not cover: BOT-mode sessions idle past
// their TTL, and ended sessions past their linger window.
func (r *Registry) StartCleanup() {
	r.cleanupWg.Add(1)
	go func() {
		defer r.cleanupWg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-r.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the sweep goroutine and waits for it to finish
func (r *Registry) StopCleanup() {
	r.stopOnce.Do(func() {
		close(r.stopCleanup)
	})
	r.cleanupWg.Wait()
}

// sweep performs one garbage collection pass
func (r *Registry) sweep() {
	now := time.Now()

	// Collect candidates under the read lock, mutate outside it
	r.mu.RLock()
	var stale []*Session
	for _, s := range r.sessions {
		stale = append(stale, s)
	}
	r.mu.RUnlock()

	removed := 0
	for _, s := range stale {
		s.mu.RLock()
		mode := s.mode
		lastActivity := s.lastActivityAt
		endTime := s.endTime
		s.mu.RUnlock()

		switch {
		case mode == ModeEnded && now.Sub(endTime) > constants.EndedSessionLinger:
			r.remove(s.ID)
			removed++
		case mode == ModeBot && now.Sub(lastActivity) > r.botSessionTTL:
			// Abandoned bot chats never escalated, so the watchdog
			// never saw them. End them here and notify any connected
			// channel the same way a watchdog expiry would.
			if ended, err := r.Terminate(s.ID, constants.ReasonInactivity); err == nil {
				metrics.WatchdogExpiries.Inc()
				if r.onExpired != nil {
					r.onExpired(ended, constants.ReasonInactivity)
				}
			}
		}
	}

	if removed > 0 && r.logger != nil {
		r.logger.Debugw("registry sweep complete",
			"component", "session",
			"removed", removed)
	}
}

// remove deletes a session object from the registry map
func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}
