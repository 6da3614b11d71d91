// Package ratelimit implements fixed-window request counters kept in process
// memory. Counters reset on restart; that is a documented limitation of the
// deployment model, not a bug.
package ratelimit

import (
	"sync"
	"time"
)

// Class separates read traffic from write traffic; each class has its own
// budget per principal.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// Default budgets per 60-second window.
const (
	DefaultReadLimit  = 100
	DefaultWriteLimit = 30

	windowLength = 60 * time.Second

	// sweepThreshold bounds the counter map; above it, expired entries are
	// swept eagerly instead of lazily.
	sweepThreshold = 10000
)

// Result reports the outcome of a single Allow call.
type Result struct {
	Allowed   bool
	Remaining int
	// ResetAt is the unix second at which the current window ends.
	ResetAt int64
}

type window struct {
	count   int
	resetAt int64
}

// Limiter tracks fixed-window counters keyed by (class, principal).
// Window boundaries are absolute 60-second intervals.
type Limiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	readLimit  int
	writeLimit int
	now        func() time.Time
}

// New creates a limiter with the default read/write budgets.
func New() *Limiter {
	return NewWithLimits(DefaultReadLimit, DefaultWriteLimit)
}

// NewWithLimits creates a limiter with explicit budgets. Used by tests.
func NewWithLimits(readLimit, writeLimit int) *Limiter {
	return &Limiter{
		windows:    make(map[string]*window),
		readLimit:  readLimit,
		writeLimit: writeLimit,
		now:        time.Now,
	}
}

// Allow consumes one unit of the principal's budget for the given class.
func (l *Limiter) Allow(class Class, principal string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().Unix()
	windowStart := now - now%int64(windowLength/time.Second)
	resetAt := windowStart + int64(windowLength/time.Second)

	key := string(class) + ":" + principal

	w, ok := l.windows[key]
	if !ok || w.resetAt <= now {
		// Lazy expiry of the entry being touched.
		w = &window{resetAt: resetAt}
		l.windows[key] = w
	}

	if len(l.windows) > sweepThreshold {
		l.sweepLocked(now)
	}

	limit := l.limitFor(class)
	if w.count >= limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: w.resetAt}
	}

	w.count++
	return Result{Allowed: true, Remaining: limit - w.count, ResetAt: w.resetAt}
}

func (l *Limiter) limitFor(class Class) int {
	if class == ClassWrite {
		return l.writeLimit
	}
	return l.readLimit
}

// sweepLocked discards expired windows. Caller holds the lock.
func (l *Limiter) sweepLocked(now int64) {
	for key, w := range l.windows {
		if w.resetAt <= now {
			delete(l.windows, key)
		}
	}
}

// Size returns the number of tracked windows. Used by tests.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
