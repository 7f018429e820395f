// Package ratelimit bounds completion calls per rolling time window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
)

// DefaultWindow is the rolling window used for per-minute limits.
const DefaultWindow = time.Minute

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Window admits at most limit acquisitions in any rolling window. It is safe
// for concurrent use; every caller sharing an agent shares its Window.
type Window struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	maxWait time.Duration
	clock   Clock
	// stamps holds acquisition times inside the current window, oldest first.
	stamps []time.Time
	// waited accumulates time spent blocked, for metrics.
	waited time.Duration
}

// Option configures a Window.
type Option func(*Window)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(w *Window) { w.clock = c }
}

// NewWindow creates a limiter admitting limit calls per rolling minute.
// A limit of zero or less returns nil, which admits everything.
// maxWait bounds how long Acquire blocks; zero means wait indefinitely.
func NewWindow(limit int, maxWait time.Duration, opts ...Option) *Window {
	if limit <= 0 {
		return nil
	}
	w := &Window{
		limit:   limit,
		window:  DefaultWindow,
		maxWait: maxWait,
		clock:   realClock{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Acquire blocks until a slot is free, the context ends, or maxWait elapses.
// A nil Window never blocks.
func (w *Window) Acquire(ctx context.Context) error {
	if w == nil {
		return nil
	}

	start := w.clock.Now()
	var deadline time.Time
	if w.maxWait > 0 {
		deadline = start.Add(w.maxWait)
	}

	for {
		w.mu.Lock()
		now := w.clock.Now()
		w.evictLocked(now)
		if len(w.stamps) < w.limit {
			w.stamps = append(w.stamps, now)
			w.waited += now.Sub(start)
			w.mu.Unlock()
			return nil
		}
		// Oldest stamp leaves the window at this instant.
		next := w.stamps[0].Add(w.window)
		w.mu.Unlock()

		wait := next.Sub(now)
		if !deadline.IsZero() && next.After(deadline) {
			return crewerr.New(crewerr.KindRateLimitTimeout, "acquire", crewerr.ErrRateLimitTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(wait):
		}
	}
}

// Waited returns the total time callers spent blocked in Acquire.
func (w *Window) Waited() time.Duration {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waited
}

// evictLocked drops stamps that are a full window old.
func (w *Window) evictLocked(now time.Time) {
	i := 0
	for i < len(w.stamps) && !now.Before(w.stamps[i].Add(w.window)) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// AcquireAll acquires a slot from each window in order. Nil windows are
// skipped.
func AcquireAll(ctx context.Context, windows ...*Window) error {
	for _, w := range windows {
		if err := w.Acquire(ctx); err != nil {
			return err
		}
	}
	return nil
}
