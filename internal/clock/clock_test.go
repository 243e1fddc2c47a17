package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock(t *testing.T) {
	c := System()
	now := c.Now()

	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond), "wall time must be truncated to ms")

	first := c.Monotonic()
	time.Sleep(2 * time.Millisecond)
	assert.Greater(t, c.Monotonic(), first)
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	m := NewManual(start)

	assert.Equal(t, start.Truncate(time.Millisecond), m.Now())
	assert.Zero(t, m.Monotonic())

	m.Advance(time.Hour)
	assert.Equal(t, start.Truncate(time.Millisecond).Add(time.Hour), m.Now())
	assert.Equal(t, time.Hour, m.Monotonic())

	m.Advance(-time.Minute)
	assert.Equal(t, time.Hour, m.Monotonic(), "negative advance is ignored")

	later := start.Add(48 * time.Hour)
	m.Set(later)
	assert.Equal(t, later.Truncate(time.Millisecond), m.Now())
	assert.Equal(t, time.Hour, m.Monotonic())
}
