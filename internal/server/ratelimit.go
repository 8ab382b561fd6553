package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces per-client request rates and daily quotas with fixed
// windows aligned to the wall clock. Clients are identified by IP address.
// A zero limit disables that check.
type RateLimiter struct {
	mu sync.Mutex

	perMinute   int
	perHour     int
	perDay      int
	bytesPerDay int64

	now     func() time.Time
	clients map[string]*client
}

// window counts events since start. align maps an instant to the start of
// the window containing it.
type window struct {
	start time.Time
	count int
	bytes int64
}

type windowAlign func(time.Time) time.Time

func (w *window) roll(now time.Time, align windowAlign) {
	if s := align(now); !s.Equal(w.start) {
		*w = window{start: s}
	}
}

func alignMinute(t time.Time) time.Time { return t.Truncate(time.Minute) }
func alignHour(t time.Time) time.Time   { return t.Truncate(time.Hour) }

func alignDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

type client struct {
	minute, hour, day window
	lastSeen          time.Time
}

// ClientUsage is a snapshot of one client's counters in the current windows.
type ClientUsage struct {
	RequestsThisMinute int
	RequestsThisHour   int
	RequestsToday      int
	DataToday          int64
}

// NewRateLimiter creates a rate limiter. maxDataPerDay is in bytes.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		perMinute:   requestsPerMinute,
		perHour:     requestsPerHour,
		perDay:      maxRequestsPerDay,
		bytesPerDay: maxDataPerDay,
		now:         time.Now,
		clients:     make(map[string]*client),
	}
}

// CheckRateLimit records a request of dataSize bytes from clientID, or
// returns a *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	c, ok := rl.clients[clientID]
	if !ok {
		c = &client{}
		rl.clients[clientID] = c
	}
	c.minute.roll(now, alignMinute)
	c.hour.roll(now, alignHour)
	c.day.roll(now, alignDay)

	if err := rl.admit(c, dataSize, now); err != nil {
		return err
	}
	c.minute.count++
	c.hour.count++
	c.day.count++
	c.day.bytes += dataSize
	c.lastSeen = now
	return nil
}

// admit checks the rates before the quotas, so a client that is both over a
// rate and over a quota is told to retry shortly.
func (rl *RateLimiter) admit(c *client, dataSize int64, now time.Time) error {
	switch {
	case rl.perMinute > 0 && c.minute.count >= rl.perMinute:
		return &RateLimitError{Type: "minute", Limit: rl.perMinute, RetryAfter: c.minute.start.Add(time.Minute).Sub(now)}
	case rl.perHour > 0 && c.hour.count >= rl.perHour:
		return &RateLimitError{Type: "hour", Limit: rl.perHour, RetryAfter: c.hour.start.Add(time.Hour).Sub(now)}
	}

	resets := c.day.start.AddDate(0, 0, 1)
	switch {
	case rl.perDay > 0 && c.day.count >= rl.perDay:
		return &QuotaExceededError{Type: "requests", Limit: int64(rl.perDay), Used: int64(c.day.count), Resets: resets}
	case rl.bytesPerDay > 0 && c.day.bytes+dataSize > rl.bytesPerDay:
		return &QuotaExceededError{Type: "data", Limit: rl.bytesPerDay, Used: c.day.bytes, Resets: resets}
	}
	return nil
}

// Usage returns the counters of a client. Unknown clients have none.
func (rl *RateLimiter) Usage(clientID string) ClientUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.clients[clientID]
	if !ok {
		return ClientUsage{}
	}
	return ClientUsage{
		RequestsThisMinute: c.minute.count,
		RequestsThisHour:   c.hour.count,
		RequestsToday:      c.day.count,
		DataToday:          c.day.bytes,
	}
}

// Prune forgets clients not seen for longer than idle and returns how many
// were removed.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idle)
	n := 0
	for id, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			n++
		}
	}
	return n
}

// RateLimitError is returned when a client exceeds a per-minute or per-hour
// request rate.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError is returned when a client has used up a daily quota.
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
