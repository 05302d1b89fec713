package clock

import (
	"sync"
	"time"
)

// Clock returns the current time in milliseconds.
type Clock interface {
	NowMillis() uint64
}

// System reads the wall clock.
type System struct{}

// NowMillis returns the Unix time in milliseconds.
func (System) NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Manual is a clock that only moves when told to.
// Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now uint64
}

// NewManual creates a manual clock starting at start milliseconds.
func NewManual(start uint64) *Manual {
	return &Manual{now: start}
}

// NowMillis returns the current manual time.
func (m *Manual) NowMillis() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += uint64(d.Milliseconds())
	return m.now
}

// Set jumps the clock to ms.
func (m *Manual) Set(ms uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = ms
}

// Deadline returns now + d in milliseconds.
func Deadline(c Clock, d time.Duration) uint64 {
	return c.NowMillis() + uint64(d.Milliseconds())
}
