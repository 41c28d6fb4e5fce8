package scroll

import "sync"

// Metrics is a snapshot of a scroll container.
type Metrics struct {
	ScrollHeight float64
	ScrollTop    float64
	ClientHeight float64
}

// Viewport is implemented by the UI layer that renders a room.
type Viewport interface {
	Metrics() Metrics
	SetScrollTop(top float64)
	// AfterRepaint runs f once the prepended content has been laid out.
	AfterRepaint(f func())
}

// BottomSlack is how close to the end still counts as "at bottom".
var BottomSlack float64 = 8

// AnchoredScrollTop keeps the content the user looked at in place after
// height was inserted above it.
func AnchoredScrollTop(oldHeight, oldTop, newHeight float64) float64 {
	top := oldTop + (newHeight - oldHeight)
	if top < 0 {
		return 0
	}
	return top
}

// Anchor is captured before a history fetch and restored after the prepend.
type Anchor struct {
	Height float64
	Top    float64
}

func Capture(v Viewport) Anchor {
	m := v.Metrics()
	return Anchor{Height: m.ScrollHeight, Top: m.ScrollTop}
}

func (a Anchor) Restore(v Viewport) {
	v.AfterRepaint(func() {
		v.SetScrollTop(AnchoredScrollTop(a.Height, a.Top, v.Metrics().ScrollHeight))
	})
}

func (m Metrics) AtBottom() bool {
	return m.ScrollHeight-m.ScrollTop-m.ClientHeight <= BottomSlack
}

func (m Metrics) Scrollable() bool {
	return m.ScrollHeight > m.ClientHeight
}

// Tracker decides between auto-scroll and the "new message" affordance.
type Tracker struct {
	mu     sync.Mutex
	hasNew bool
}

// OnMessage is called with the metrics taken before the message is rendered.
// It returns true when the view should jump to the bottom.
func (t *Tracker) OnMessage(fromMe bool, before Metrics) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fromMe || before.AtBottom() || !before.Scrollable() {
		return true
	}
	t.hasNew = true
	return false
}

// OnUserScroll clears the affordance once the user reaches the bottom.
func (t *Tracker) OnUserScroll(m Metrics) {
	if !m.AtBottom() {
		return
	}
	t.mu.Lock()
	t.hasNew = false
	t.mu.Unlock()
}

func (t *Tracker) HasNew() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasNew
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.hasNew = false
	t.mu.Unlock()
}
