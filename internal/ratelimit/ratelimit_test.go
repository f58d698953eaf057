package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter_AllowAndRelease(t *testing.T) {
	cl := NewConnectionLimiter(2)

	assert.True(t, cl.Allow("client-1"))
	assert.True(t, cl.Allow("client-1"))
	assert.False(t, cl.Allow("client-1"))
	assert.Equal(t, 2, cl.GetCount("client-1"))

	// Other clients have their own budget
	assert.True(t, cl.Allow("client-2"))

	cl.Release("client-1")
	assert.True(t, cl.Allow("client-1"))
}

func TestConnectionLimiter_ReleaseUnknownClient(t *testing.T) {
	cl := NewConnectionLimiter(1)

	// Releasing a client that never connected must not go negative
	cl.Release("ghost")
	assert.Equal(t, 0, cl.GetCount("ghost"))
	assert.True(t, cl.Allow("ghost"))
}

func TestConnectionLimiter_Concurrent(t *testing.T) {
	cl := NewConnectionLimiter(10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cl.Allow("client-1") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
	assert.Equal(t, 10, cl.GetCount("client-1"))
}

func TestMessageLimiter_Allow(t *testing.T) {
	ml := NewMessageLimiter(1*time.Minute, 3)

	assert.True(t, ml.Allow("client-1"))
	assert.True(t, ml.Allow("client-1"))
	assert.True(t, ml.Allow("client-1"))
	assert.False(t, ml.Allow("client-1"))

	// Independent windows per client
	assert.True(t, ml.Allow("client-2"))
}

func TestMessageLimiter_WindowSlides(t *testing.T) {
	ml := NewMessageLimiter(50*time.Millisecond, 2)

	assert.True(t, ml.Allow("client-1"))
	assert.True(t, ml.Allow("client-1"))
	assert.False(t, ml.Allow("client-1"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, ml.Allow("client-1"))
}

func TestMessageLimiter_GetRetryAfter(t *testing.T) {
	ml := NewMessageLimiter(1*time.Minute, 2)

	assert.Equal(t, 0, ml.GetRetryAfter("client-1"))

	ml.Allow("client-1")
	ml.Allow("client-1")

	retryAfter := ml.GetRetryAfter("client-1")
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, int((1 * time.Minute).Milliseconds()))
}

func TestMessageLimiter_Reset(t *testing.T) {
	ml := NewMessageLimiter(1*time.Minute, 1)

	assert.True(t, ml.Allow("client-1"))
	assert.False(t, ml.Allow("client-1"))

	ml.Reset("client-1")
	assert.True(t, ml.Allow("client-1"))
}

func TestMessageLimiter_Cleanup(t *testing.T) {
	ml := NewMessageLimiter(10*time.Millisecond, 5)

	ml.Allow("client-1")
	ml.Allow("client-2")

	time.Sleep(20 * time.Millisecond)
	ml.Cleanup()

	ml.mu.RLock()
	defer ml.mu.RUnlock()
	assert.Empty(t, ml.events)
}

func TestMessageLimiter_StopCleanupIdempotent(t *testing.T) {
	ml := NewMessageLimiter(1*time.Minute, 1)
	ml.StartCleanup()

	ml.StopCleanup()
	ml.StopCleanup()
}
