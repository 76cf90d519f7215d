// Package clock provides the reference clock shared by all peers.
package clock

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current reference time in milliseconds.
// All event ordering in the coordinator is based on this value.
type Clock interface {
	NowMillis() int64
}

// System is a Clock backed by the system wall clock.
type System struct{}

// NowMillis returns the current wall-clock time in milliseconds.
// The monotonic reading is stripped so that peers comparing server
// timestamps and local samples work off the same timeline.
func (System) NowMillis() int64 {
	t := time.Now()
	return time.Unix(t.Unix(), int64(t.Nanosecond())).UnixMilli()
}

// CorrelationID formats a correlation id for the current reference time.
// The id sorts by time and carries a random suffix for uniqueness.
func CorrelationID(c Clock) string {
	return strconv.FormatInt(c.NowMillis(), 10) + "-" + uuid.NewString()[:8]
}

// Manual is a Clock whose time is advanced explicitly. Used in tests and
// by the loopback transport.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual creates a manual clock starting at the given millisecond value.
func NewManual(start int64) *Manual {
	return &Manual{now: start}
}

// NowMillis returns the current manual time.
func (m *Manual) NowMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d milliseconds.
func (m *Manual) Advance(d int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
}

// Set sets the clock to the given millisecond value.
func (m *Manual) Set(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = ms
}
