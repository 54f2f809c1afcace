// Package ratelimit caps how often connection requests are sent and how fast
// individual clients may call the HTTP API.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// DefaultLimit is the number of connections allowed per DefaultPeriod.
const (
	DefaultLimit  = 20
	DefaultPeriod = time.Hour
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the oldest event leaves the window. It is
	// zero when the event was allowed.
	RetryAfter time.Duration

	// slot identifies the recorded event so it can be released.
	slot string
}

// Window is a sliding-window counter: at most Limit events are accepted in
// any rolling period.
type Window interface {
	// Allow records an event if the window has room for it.
	Allow(ctx context.Context) (Decision, error)
	// Remaining reports how many more events the window would accept now.
	Remaining(ctx context.Context) (int, error)
	// Release gives back the slot taken by an allowed Decision. It is a
	// no-op for denied decisions and for slots that already left the window.
	Release(ctx context.Context, d Decision) error
	Limit() int
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type event struct {
	at   time.Time
	slot string
}

// MemoryWindow keeps event timestamps in process memory. Counts are lost on
// restart.
type MemoryWindow struct {
	mu     sync.Mutex
	events []event
	seq    uint64
	limit  int
	period time.Duration
	clock  Clock
}

// NewMemoryWindow creates an in-memory window. Non-positive arguments fall
// back to DefaultLimit and DefaultPeriod.
func NewMemoryWindow(limit int, period time.Duration) *MemoryWindow {
	return NewMemoryWindowWithClock(limit, period, realClock{})
}

// NewMemoryWindowWithClock creates a MemoryWindow with a custom clock (for testing).
func NewMemoryWindowWithClock(limit int, period time.Duration, clock Clock) *MemoryWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &MemoryWindow{limit: limit, period: period, clock: clock}
}

// Limit returns the maximum number of events per period.
func (w *MemoryWindow) Limit() int { return w.limit }

// Allow implements Window.
func (w *MemoryWindow) Allow(_ context.Context) (Decision, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.prune(now)

	if len(w.events) >= w.limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: w.events[0].at.Add(w.period).Sub(now),
		}, nil
	}

	w.seq++
	slot := strconv.FormatUint(w.seq, 10)
	w.events = append(w.events, event{at: now, slot: slot})
	return Decision{Allowed: true, Remaining: w.limit - len(w.events), slot: slot}, nil
}

// Release implements Window.
func (w *MemoryWindow) Release(_ context.Context, d Decision) error {
	if !d.Allowed || d.slot == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, e := range w.events {
		if e.slot == d.slot {
			w.events = append(w.events[:i], w.events[i+1:]...)
			break
		}
	}
	return nil
}

// Remaining implements Window.
func (w *MemoryWindow) Remaining(_ context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(w.clock.Now())
	return max(w.limit-len(w.events), 0), nil
}

// prune drops events at or before now-period. Caller holds mu.
func (w *MemoryWindow) prune(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.events) && !w.events[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}
