package router

import (
	"context"
	"sync"
	"time"
)

// Defaults for the private message limiter.
const (
	DefaultRateLimit  = 100
	DefaultRateWindow = time.Minute
)

// RateLimiter is a fixed window counter per user.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
	limit   int
	window  time.Duration
	now     func() time.Time
}

type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimit),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow counts one message for userID and reports whether it fits in the
// current window.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[userID]
	if !exists || now.Sub(limit.windowStart) >= rl.window {
		rl.clients[userID] = &clientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}

	limit.messageCount++
	return true
}

// Cleanup drops users idle for five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, userID)
		}
	}
}

// Run calls Cleanup every window until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return nil
		}
	}
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
