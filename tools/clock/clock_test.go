package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	var fired []string
	c.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, c.Pending())

	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, start.Add(3*time.Second), c.Now())
}

func TestManualStopAndRearm(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	n := 0
	tm := c.AfterFunc(time.Second, func() { n++ })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	// a callback that re-arms itself is not fired twice in the same Advance
	var rearm func()
	rearm = func() {
		n++
		c.AfterFunc(time.Second, rearm)
	}
	c.AfterFunc(time.Second, rearm)
	c.Advance(time.Second)
	assert.Equal(t, 1, n)
	c.Advance(2 * time.Second)
	assert.Equal(t, 3, n)
}
