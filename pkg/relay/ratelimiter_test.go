package relay

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newClockedLimiter(limit int) (*RateLimiter, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(limit, time.Minute, 0)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterAllow(t *testing.T) {
	t.Run("should allow a burst up to the limit", func(t *testing.T) {
		rl, _ := newClockedLimiter(3)
		defer rl.Stop()

		for i := 0; i < 3; i++ {
			ok, _ := rl.Allow("10.0.0.1")
			assert.True(t, ok)
		}
		ok, retry := rl.Allow("10.0.0.1")
		assert.False(t, ok)
		assert.Equal(t, 20*time.Second, retry)
	})

	t.Run("should track clients separately", func(t *testing.T) {
		rl, _ := newClockedLimiter(1)
		defer rl.Stop()

		ok, _ := rl.Allow("a")
		assert.True(t, ok)
		ok, _ = rl.Allow("b")
		assert.True(t, ok)
		ok, _ = rl.Allow("a")
		assert.False(t, ok)
	})

	t.Run("should refill one request per interval", func(t *testing.T) {
		rl, now := newClockedLimiter(2)
		defer rl.Stop()

		rl.Allow("a")
		rl.Allow("a")

		*now = now.Add(10 * time.Second)
		ok, retry := rl.Allow("a")
		assert.False(t, ok)
		assert.Equal(t, 20*time.Second, retry)

		*now = now.Add(20 * time.Second)
		ok, _ = rl.Allow("a")
		assert.True(t, ok)

		ok, _ = rl.Allow("a")
		assert.False(t, ok)
	})

	t.Run("should not count rejected requests", func(t *testing.T) {
		rl, now := newClockedLimiter(1)
		defer rl.Stop()

		rl.Allow("a")
		for i := 0; i < 5; i++ {
			ok, _ := rl.Allow("a")
			assert.False(t, ok)
		}
		*now = now.Add(time.Minute)
		ok, _ := rl.Allow("a")
		assert.True(t, ok)
	})
}

func TestRateLimiterSweep(t *testing.T) {
	rl, now := newClockedLimiter(5)
	defer rl.Stop()

	rl.Allow("old")
	*now = now.Add(45 * time.Second)
	rl.Allow("recent")
	*now = now.Add(30 * time.Second)

	rl.sweep()

	assert.NotContains(t, rl.clients, "old")
	assert.NotContains(t, rl.seen, "old")
	assert.Contains(t, rl.clients, "recent")
}

func TestRateLimiterStop(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, time.Millisecond)
	rl.Stop()
	rl.Stop()
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 30, retryAfterSeconds(30*time.Second))
	assert.Equal(t, 31, retryAfterSeconds(30*time.Second+time.Millisecond))
}

func TestClientIP(t *testing.T) {
	t.Run("should ignore proxy headers by default", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "192.0.2.10:4000"
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		req.Header.Set("X-Real-IP", "198.51.100.2")
		assert.Equal(t, "192.0.2.10", clientIP(req, false))
	})

	t.Run("should prefer the first forwarded address when trusted", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		assert.Equal(t, "203.0.113.7", clientIP(req, true))
	})

	t.Run("should fall back to X-Real-IP when trusted", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Real-IP", "198.51.100.2")
		assert.Equal(t, "198.51.100.2", clientIP(req, true))
	})

	t.Run("should strip the port from the remote address", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "[::1]:5555"
		assert.Equal(t, "::1", clientIP(req, false))
	})
}

func TestHandle(t *testing.T) {
	h := NewHandle()

	_, err := h.Get()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, h.Ready())

	assert.Error(t, h.Set(nil))
	assert.NoError(t, h.Set(echoRunner{}))
	assert.Error(t, h.Set(echoRunner{}))
	assert.True(t, h.Ready())

	r, err := h.Get()
	assert.NoError(t, err)
	assert.Equal(t, echoRunner{}, r)
}
