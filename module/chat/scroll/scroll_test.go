package scroll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeViewport struct {
	m       Metrics
	pending []func()
}

func (f *fakeViewport) Metrics() Metrics         { return f.m }
func (f *fakeViewport) SetScrollTop(top float64) { f.m.ScrollTop = top }
func (f *fakeViewport) AfterRepaint(fn func())   { f.pending = append(f.pending, fn) }

func (f *fakeViewport) repaint() {
	p := f.pending
	f.pending = nil
	for _, fn := range p {
		fn()
	}
}

func TestAnchoredScrollTop(t *testing.T) {
	assert.Equal(t, 600.0, AnchoredScrollTop(1000, 200, 1400))
	assert.Equal(t, 200.0, AnchoredScrollTop(1000, 200, 1000))
	assert.Equal(t, 0.0, AnchoredScrollTop(1000, 10, 500))
}

func TestAnchorRestoreAfterRepaint(t *testing.T) {
	v := &fakeViewport{m: Metrics{ScrollHeight: 1000, ScrollTop: 200, ClientHeight: 300}}
	a := Capture(v)

	v.m.ScrollHeight = 1400
	a.Restore(v)
	assert.Equal(t, 200.0, v.m.ScrollTop, "nothing moves before repaint")

	v.repaint()
	assert.Equal(t, 600.0, v.m.ScrollTop)
}

func TestTrackerPolicy(t *testing.T) {
	var tr Tracker
	reading := Metrics{ScrollHeight: 2000, ScrollTop: 100, ClientHeight: 400}
	bottom := Metrics{ScrollHeight: 2000, ScrollTop: 1600, ClientHeight: 400}
	short := Metrics{ScrollHeight: 300, ClientHeight: 400}

	assert.True(t, tr.OnMessage(true, reading))
	assert.False(t, tr.HasNew())
	assert.True(t, tr.OnMessage(false, bottom))
	assert.True(t, tr.OnMessage(false, short))
	assert.False(t, tr.HasNew())

	assert.False(t, tr.OnMessage(false, reading))
	assert.True(t, tr.HasNew())

	tr.OnUserScroll(reading)
	assert.True(t, tr.HasNew())
	tr.OnUserScroll(bottom)
	assert.False(t, tr.HasNew())
}
