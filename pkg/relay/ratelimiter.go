package relay

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client. Each bucket holds limit tokens and
// refills one token every window/limit.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*rate.Limiter
	seen    map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows limit requests per window per client and sweeps idle clients
// every sweep interval. Call Stop to end the sweeper.
func NewRateLimiter(limit int, window, sweep time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*rate.Limiter),
		seen:    make(map[string]time.Time),
		stop:    make(chan struct{}),
	}
	if sweep > 0 {
		go rl.sweepLoop(sweep)
	}
	return rl
}

// getLimiter returns the client's bucket, creating a full one if needed
func (rl *RateLimiter) getLimiter(client string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.clients[client]
	if !ok {
		lim = rate.NewLimiter(rate.Every(rl.window/time.Duration(rl.limit)), rl.limit)
		rl.clients[client] = lim
	}
	rl.seen[client] = now
	return lim
}

// Allow takes a token for client. When none is left it reports how long until one is,
// and the rejected request costs nothing.
func (rl *RateLimiter) Allow(client string) (ok bool, retryAfter time.Duration) {
	now := rl.now()
	res := rl.getLimiter(client, now).ReserveN(now, 1)
	if !res.OK() {
		return false, rl.window
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

// sweep forgets clients idle for a whole window. Their bucket has refilled by then,
// so a fresh one behaves the same.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for client, last := range rl.seen {
		if last.Before(cutoff) {
			delete(rl.seen, client)
			delete(rl.clients, client)
		}
	}
}

// Stop ends the sweeper. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// retryAfterSeconds rounds up so clients never retry early
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// clientIP returns the connection address. Proxy headers are only honoured when
// trustProxy is set, since any caller can send them.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
