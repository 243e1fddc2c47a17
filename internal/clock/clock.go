// Package clock provides the wall and monotonic time sources used for
// auction expiry and lock deadlines.
package clock

import (
	"sync"
	"time"
)

// Resolution is the granularity of every wall timestamp handed out.
const Resolution = time.Millisecond

// Clock is the single time source of the auction core. Now is used for every
// end_time comparison, Monotonic for measuring waits and timeouts.
type Clock interface {
	Now() time.Time
	Monotonic() time.Duration
}

type system struct {
	origin time.Time
}

// System returns a Clock backed by the process clock.
func System() Clock {
	return &system{origin: time.Now()}
}

func (s *system) Now() time.Time {
	return time.Now().UTC().Truncate(Resolution)
}

func (s *system) Monotonic() time.Duration {
	return time.Since(s.origin)
}

// Manual is a Clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu   sync.RWMutex
	now  time.Time
	mono time.Duration
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC().Truncate(Resolution)}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

func (m *Manual) Monotonic() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mono
}

// Advance moves both wall and monotonic time forward by d.
func (m *Manual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.now = m.now.Add(d).Truncate(Resolution)
	m.mono += d
	m.mu.Unlock()
}

// Set jumps the wall clock to t. Monotonic time is left untouched.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC().Truncate(Resolution)
	m.mu.Unlock()
}
