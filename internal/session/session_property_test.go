package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/silverpines/supportchat/internal/constants"
)

// TestClaimAtomicity verifies that no matter how many staff race for an
// escalated session, exactly one claim succeeds and the session ends up
// assigned to that staff member.
func TestClaimAtomicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one claimant wins", prop.ForAll(
		func(claimants int) bool {
			r := NewRegistry(5*time.Minute, "", getTestLogger())
			if _, _, err := r.GetOrCreate("user-1", "sess-1"); err != nil {
				return false
			}
			if _, err := r.Escalate("sess-1", "help"); err != nil {
				return false
			}

			var wg sync.WaitGroup
			var mu sync.Mutex
			winners := make([]string, 0, 1)

			start := make(chan struct{})
			for i := 0; i < claimants; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					staffID := fmt.Sprintf("staff-%d", i)
					if _, err := r.Claim("sess-1", staffID, ""); err == nil {
						mu.Lock()
						winners = append(winners, staffID)
						mu.Unlock()
					}
				}(i)
			}
			close(start)
			wg.Wait()

			if len(winners) != 1 {
				return false
			}
			s, err := r.Get("sess-1")
			if err != nil {
				return false
			}
			return s.Mode() == ModeSupport && s.AssignedStaffID() == winners[0]
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// TestEndedIsTerminal verifies that once a session is ended, no sequence
// of operations revives it or changes its recorded end reason.
func TestEndedIsTerminal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("ended sessions stay ended", prop.ForAll(
		func(ops []int) bool {
			r := NewRegistry(5*time.Minute, "", getTestLogger())
			s, _, err := r.GetOrCreate("user-1", "sess-1")
			if err != nil {
				return false
			}
			if _, err := r.Terminate("sess-1", constants.ReasonVisitorExit); err != nil {
				return false
			}

			for _, op := range ops {
				switch op % 4 {
				case 0:
					_ = r.Touch("sess-1")
				case 1:
					_, _ = r.Escalate("sess-1", "help")
				case 2:
					_, _ = r.Claim("sess-1", "staff-1", "")
				case 3:
					_, _ = r.Terminate("sess-1", constants.ReasonStaffEnded)
				}
				if s.Mode() != ModeEnded {
					return false
				}
				if s.EndReason() != constants.ReasonVisitorExit {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
