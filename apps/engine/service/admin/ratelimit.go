package admin

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupInterval  = 5 * time.Minute
	secondsPerMinute = 60.0
	apiKeyHeader     = "X-Api-Key" //nolint:gosec // header name, not a credential
	xForwardedForHdr = "X-Forwarded-For"
	staleClientAge   = 10 * time.Minute
)

// RateLimiter is a token bucket rate limiter that tracks clients by API key
// or IP. It fronts the event-submission endpoint so a runaway producer
// cannot starve the synchronous pipeline.
type RateLimiter struct {
	clients     map[string]*clientLimiter
	mu          sync.Mutex
	ratePerMin  int
	burstSize   int
	stopCleanup chan struct{}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	rl := &RateLimiter{
		clients:     make(map[string]*clientLimiter),
		ratePerMin:  requestsPerMinute,
		burstSize:   burstSize,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop stops the rate limiter's cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}

// Allow reports whether the client identified by the request may proceed.
func (rl *RateLimiter) Allow(r *http.Request) bool {
	return rl.getClientLimiter(clientID(r)).Allow()
}

func (rl *RateLimiter) getClientLimiter(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if client, exists := rl.clients[id]; exists {
		client.lastAccess = time.Now()
		return client.limiter
	}

	ratePerSec := float64(rl.ratePerMin) / secondsPerMinute
	limiter := rate.NewLimiter(rate.Limit(ratePerSec), rl.burstSize)

	rl.clients[id] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-staleClientAge)
	for id, client := range rl.clients {
		if client.lastAccess.Before(cutoff) {
			delete(rl.clients, id)
		}
	}
}

// clientID identifies a caller: API key when present, else the originating IP.
func clientID(r *http.Request) string {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return "key:" + key
	}

	if forwarded := r.Header.Get(xForwardedForHdr); forwarded != "" {
		return "ip:" + forwarded
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
