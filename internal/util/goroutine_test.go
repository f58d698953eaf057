package util

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSafeGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})

	SafeGo(zap.NewNop().Sugar(), "test", func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("goroutine never ran")
	}
}

// TestSafeGo_RecoversPanic passes if the panic is swallowed instead of
// crashing the process.
func TestSafeGo_RecoversPanic(t *testing.T) {
	started := make(chan struct{})

	SafeGo(zap.NewNop().Sugar(), "test", func() {
		close(started)
		panic("boom")
	})

	select {
	case <-started:
	case <-time.After(1 * time.Second):
		t.Fatal("goroutine never ran")
	}

	// Let the deferred recovery run
	time.Sleep(10 * time.Millisecond)
}
