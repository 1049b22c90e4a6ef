package http

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// RateLimiter manages per-client rate limiting. Idle clients expire from
// a bounded LRU.
type RateLimiter struct {
	clients *expirable.LRU[string, *rate.Limiter]
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps float64, burst, maxClients int, ttl time.Duration) *RateLimiter {
	if maxClients <= 0 {
		maxClients = 10000
	}
	return &RateLimiter{
		clients: expirable.NewLRU[string, *rate.Limiter](maxClients, nil, ttl),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// GetLimiter returns the limiter for a client address
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.clients.Get(ip); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.rps, rl.burst)
	rl.clients.Add(ip, limiter)
	return limiter
}

// Len returns the number of tracked clients
func (rl *RateLimiter) Len() int {
	return rl.clients.Len()
}

// RateLimitMiddleware creates a middleware for rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.GetLimiter(getClientIP(r)).Allow() {
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts IP from request (handling proxies)
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
