// Package ratelimit provides the in-memory fixed-window counters consulted
// by rate_limit rules. Windows are keyed (agent, service, window length)
// and reset from scratch on process restart.
package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Result reports the outcome of one window check, with the remaining
// quota and reset time exposed for client-facing headers.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	count       int
	windowStart time.Time
}

// Limiter holds all active windows behind one mutex. Window bookkeeping
// is pure map arithmetic, so a single lock stays uncontended relative to
// the I/O around it.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	// now is swappable for tests.
	now func() time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func key(agentID, service string, windowSeconds int) string {
	return fmt.Sprintf("%s:%s:%d", agentID, service, windowSeconds)
}

// Check consumes one slot in the (agent, service, window) counter. A new
// window starts when the previous one has fully elapsed. Once the counter
// reaches maxRequests the call is denied without consuming a slot.
func (l *Limiter) Check(agentID, service string, maxRequests, windowSeconds int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key(agentID, service, windowSeconds)
	length := time.Duration(windowSeconds) * time.Second

	w, ok := l.windows[k]
	if !ok || now.Sub(w.windowStart) >= length {
		w = &window{windowStart: now}
		l.windows[k] = w
	}

	resetAt := w.windowStart.Add(length)

	if w.count >= maxRequests {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	w.count++
	remaining := maxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}
}

// ClearAgent drops every window belonging to the agent. Administrative
// reset only.
func (l *Limiter) ClearAgent(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := agentID + ":"
	for k := range l.windows {
		if strings.HasPrefix(k, prefix) {
			delete(l.windows, k)
		}
	}
}
