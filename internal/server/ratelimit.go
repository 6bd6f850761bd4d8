package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces per-client request rates and daily quotas. Each
// limit uses a fixed window that opens with the client's first request in it.
type RateLimiter struct {
	mu     sync.Mutex
	cfg    RateLimitConfig
	now    func() time.Time
	usages map[string]*clientUsage
}

type window struct {
	start time.Time
	count int
}

// roll restarts the window when it has expired.
func (w *window) roll(now time.Time, length time.Duration) {
	if w.start.IsZero() || now.Sub(w.start) >= length {
		w.start = now
		w.count = 0
	}
}

type clientUsage struct {
	minute window
	hour   window
	day    window
	bytes  int64 // uploaded in the current day window
}

// Usage is a snapshot of one client's counters.
type Usage struct {
	RequestsLastMinute int
	RequestsLastHour   int
	RequestsToday      int
	BytesToday         int64
}

// NewRateLimiter creates a limiter. Zero limits are not enforced.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, now: time.Now, usages: make(map[string]*clientUsage)}
}

// Allow records a request of size bytes from client, or returns a
// *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.usages[client]
	if !ok {
		u = &clientUsage{}
		rl.usages[client] = u
	}
	u.minute.roll(now, time.Minute)
	u.hour.roll(now, time.Hour)
	if u.day.start.IsZero() || now.Sub(u.day.start) >= 24*time.Hour {
		u.bytes = 0
	}
	u.day.roll(now, 24*time.Hour)

	if n := rl.cfg.RequestsPerMinute; n > 0 && u.minute.count >= n {
		return &RateLimitError{Type: "minute", Limit: n, RetryAfter: u.minute.start.Add(time.Minute).Sub(now)}
	}
	if n := rl.cfg.RequestsPerHour; n > 0 && u.hour.count >= n {
		return &RateLimitError{Type: "hour", Limit: n, RetryAfter: u.hour.start.Add(time.Hour).Sub(now)}
	}
	resets := u.day.start.Add(24 * time.Hour)
	if n := rl.cfg.MaxRequestsPerDay; n > 0 && u.day.count >= n {
		return &QuotaExceededError{Type: "requests", Limit: int64(n), Used: int64(u.day.count), Resets: resets}
	}
	if n := rl.cfg.MaxDataPerDay; n > 0 && u.bytes+size > n {
		return &QuotaExceededError{Type: "data", Limit: n, Used: u.bytes, Resets: resets}
	}

	u.minute.count++
	u.hour.count++
	u.day.count++
	u.bytes += size
	return nil
}

// Usage returns the counters for client.
func (rl *RateLimiter) Usage(client string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	u, ok := rl.usages[client]
	if !ok {
		return Usage{}
	}
	return Usage{
		RequestsLastMinute: u.minute.count,
		RequestsLastHour:   u.hour.count,
		RequestsToday:      u.day.count,
		BytesToday:         u.bytes,
	}
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
