package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBudget(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 5})
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, rl.allow("bot-1:1.2.3.4"), "request %d should pass", i)
	}
	assert.False(t, rl.allow("bot-1:1.2.3.4"), "sixth request exceeds the budget")
}

func TestKeysAreIndependent(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1})
	defer rl.Stop()

	assert.True(t, rl.allow("bot-1:1.2.3.4"))
	assert.False(t, rl.allow("bot-1:1.2.3.4"))

	// A different visitor of the same bot has its own bucket.
	assert.True(t, rl.allow("bot-1:5.6.7.8"))
	// As does the same visitor on another bot.
	assert.True(t, rl.allow("bot-2:1.2.3.4"))
}

func TestStopEndsCleanup(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 5})

	rl.Stop()
	rl.Stop() // idempotent

	select {
	case <-rl.done:
	case <-time.After(time.Second):
		t.Fatal("done channel not closed after Stop")
	}

	// The limiter itself keeps working without the janitor.
	assert.True(t, rl.allow("k"))
}

func TestTokensRefill(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 100, WindowDuration: time.Second})
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		rl.allow("k")
	}
	assert.False(t, rl.allow("k"))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, rl.allow("k"), "tokens refill over the window")
}
