package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter allows a fixed number of requests per window for each client
// address. Windows start at a client's first request.
type RateLimiter struct {
	rate   int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*window
}

type window struct {
	remaining int
	start     time.Time
}

// NewRateLimiter allows rate requests per window. Stale clients are pruned
// until ctx is done.
func NewRateLimiter(ctx context.Context, rate int, per time.Duration) *RateLimiter {
	rl := &RateLimiter{
		rate:    rate,
		window:  per,
		now:     time.Now,
		clients: make(map[string]*window),
	}
	go rl.prune(ctx)
	return rl
}

// Allow consumes one request for client.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[client]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.clients[client] = &window{remaining: rl.rate - 1, start: now}
		return rl.rate > 0
	}
	if w.remaining <= 0 {
		return false
	}
	w.remaining--
	return true
}

// Middleware rejects clients over their limit with 429. It keys on
// RemoteAddr, so TrustedRealIP should run first.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if a, ok := remoteAddr(r.RemoteAddr); ok {
			client = a.String()
		}
		if !rl.Allow(client) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded","message":"Too many requests","code":"UPL004"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) prune(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for c, w := range rl.clients {
				if now.Sub(w.start) >= 2*rl.window {
					delete(rl.clients, c)
				}
			}
			rl.mu.Unlock()
		}
	}
}
