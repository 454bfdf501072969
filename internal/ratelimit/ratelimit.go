package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned once the daily request budget is spent.
var ErrBudgetExceeded = errors.New("AI request budget exceeded")

// AIRateLimiter counts language-model requests per provider against a daily budget.
type AIRateLimiter struct {
	mu        sync.Mutex
	counts    map[string]int
	total     int
	maxTotal  int // 0 means unlimited
	window    time.Duration
	resetTime time.Time
	now       func() time.Time
}

// NewAIRateLimiter allows maxTotal requests per 24h across all providers.
func NewAIRateLimiter(maxTotal int) *AIRateLimiter {
	return newLimiter(maxTotal, 24*time.Hour, time.Now)
}

func newLimiter(maxTotal int, window time.Duration, now func() time.Time) *AIRateLimiter {
	return &AIRateLimiter{
		counts:    make(map[string]int),
		maxTotal:  maxTotal,
		window:    window,
		resetTime: now().Add(window),
		now:       now,
	}
}

// Use records one request for provider, or fails when the budget is spent.
func (rl *AIRateLimiter) Use(provider string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.checkReset()

	if rl.maxTotal > 0 && rl.total >= rl.maxTotal {
		return fmt.Errorf("%w (%d/%d)", ErrBudgetExceeded, rl.total, rl.maxTotal)
	}

	rl.counts[provider]++
	rl.total++

	slog.Debug("AI usage", "provider", provider, "used", rl.counts[provider], "total", rl.total, "limit", rl.maxTotal)
	return nil
}

// GetStats returns current usage counters.
func (rl *AIRateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := map[string]interface{}{
		"total_used":  rl.total,
		"total_limit": rl.maxTotal,
		"reset_time":  rl.resetTime.Format(time.RFC3339),
	}
	for provider, n := range rl.counts {
		stats[provider+"_used"] = n
	}
	return stats
}

// checkReset resets counters if reset time has passed
func (rl *AIRateLimiter) checkReset() {
	if rl.now().After(rl.resetTime) {
		slog.Info("Resetting AI rate limiter counters", "total_used", rl.total)
		rl.counts = make(map[string]int)
		rl.total = 0
		rl.resetTime = rl.now().Add(rl.window)
	}
}
