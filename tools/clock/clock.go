package clock

import (
	"sort"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Clock is the time source used by every timer-driven component.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type wall struct{ c bclock.Clock }

// Real returns the wall clock.
func Real() Clock { return wall{c: bclock.New()} }

func (w wall) Now() time.Time { return w.c.Now() }

func (w wall) AfterFunc(d time.Duration, f func()) Timer { return w.c.AfterFunc(d, f) }

// Manual wraps a mock clock that only moves on Advance. Advance walks the
// armed deadlines one at a time and waits for each callback to return, so a
// callback sees Now() equal to its own deadline and timers it arms are fired
// in the same Advance when they fall due.
type Manual struct {
	mock *bclock.Mock

	mu     sync.Mutex
	seq    int64
	timers map[int64]*manualTimer
}

type manualTimer struct {
	c    *Manual
	id   int64
	when time.Time
	t    *bclock.Timer
	done chan struct{}
	once sync.Once
}

func NewManual(start time.Time) *Manual {
	m := bclock.NewMock()
	m.Set(start)
	return &Manual{mock: m, timers: make(map[int64]*manualTimer)}
}

func (m *Manual) Now() time.Time { return m.mock.Now() }

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{c: m, id: m.seq, when: m.mock.Now().Add(d), done: make(chan struct{})}
	m.timers[t.id] = t
	t.t = m.mock.AfterFunc(d, func() {
		defer t.finish()
		f()
	})
	return t
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves the clock forward by d and fires every timer due by then.
func (m *Manual) Advance(d time.Duration) {
	target := m.mock.Now().Add(d)
	for {
		due := m.next(target)
		if len(due) == 0 {
			if now := m.mock.Now(); now.Before(target) {
				m.mock.Add(target.Sub(now))
			}
			return
		}
		if step := due[0].when.Sub(m.mock.Now()); step > 0 {
			m.mock.Add(step)
		} else {
			m.mock.Add(0)
		}
		for _, t := range due {
			<-t.done
		}
	}
}

// next returns the earliest armed timers not after target, all sharing the
// same deadline.
func (m *Manual) next(target time.Time) []*manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.when.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].when.Equal(due[j].when) {
			return due[i].id < due[j].id
		}
		return due[i].when.Before(due[j].when)
	})
	n := 1
	for n < len(due) && due[n].when.Equal(due[0].when) {
		n++
	}
	return due[:n]
}

func (t *manualTimer) finish() {
	t.once.Do(func() {
		t.c.mu.Lock()
		delete(t.c.timers, t.id)
		t.c.mu.Unlock()
		close(t.done)
	})
}

func (t *manualTimer) Stop() bool {
	if !t.t.Stop() {
		return false
	}
	t.finish()
	return true
}
