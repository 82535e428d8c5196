package clock

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall-clock access so the billing engine can be driven
// deterministically in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Tick delivers ticks at the given cadence until ctx is cancelled.
	// Elapsed time must always be derived from Now(), never from counting
	// ticks, so long sessions do not drift.
	Tick(ctx context.Context, interval time.Duration) <-chan time.Time
}

// WallClock is the production Clock backed by the system clock.
type WallClock struct{}

// Now returns the current UTC time.
func (WallClock) Now() time.Time {
	return time.Now().UTC()
}

// Tick wraps time.Ticker with context cancellation.
func (WallClock) Tick(ctx context.Context, interval time.Duration) <-chan time.Time {
	out := make(chan time.Time, 1)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				select {
				case out <- t.UTC():
				default:
					// Drop the tick if the consumer is behind; the next
					// tick recomputes from Now() so nothing is lost.
				}
			}
		}
	}()
	return out
}

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	subs []chan time.Time
}

// NewFake creates a Fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Tick returns a channel fed by Advance. The interval is ignored; tests
// control tick delivery explicitly.
func (f *Fake) Tick(ctx context.Context, _ time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 64)
	f.subs = append(f.subs, ch)
	go func() {
		<-ctx.Done()
	}()
	return ch
}

// Advance moves the fake time forward and delivers one tick to every
// subscriber.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	subs := make([]chan time.Time, len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- now:
		default:
		}
	}
}

// Set jumps the fake time to the given instant without ticking.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
