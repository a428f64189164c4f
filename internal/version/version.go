package version

import (
	"sync"
	"time"
)

// Version orders successive observations of the same entry. A version with a
// later LastUpdate is newer; equal timestamps fall back to Serial.
type Version struct {
	LastUpdate time.Time
	Serial     int64
}

func (v Version) NewerThan(other Version) bool {
	if !v.LastUpdate.Equal(other.LastUpdate) {
		return v.LastUpdate.After(other.LastUpdate)
	}
	return v.Serial > other.Serial
}

func (v Version) OlderThan(other Version) bool { return other.NewerThan(v) }

func (v Version) EqualTo(other Version) bool {
	return v.LastUpdate.Equal(other.LastUpdate) && v.Serial == other.Serial
}

// Counter is a monotonically increasing serial source that can be rebased
// onto the wall clock.
type Counter struct {
	mu    sync.Mutex
	value int64
}

// NewCounter returns a counter whose base is t in milliseconds.
func NewCounter(t time.Time) *Counter { return &Counter{value: t.UnixMilli()} }

// Increment returns the next serial.
func (c *Counter) Increment() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// Rebase moves the counter to t if t is ahead of the current value.
func (c *Counter) Rebase(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ms := t.UnixMilli(); ms > c.value {
		c.value = ms
	}
}

func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
