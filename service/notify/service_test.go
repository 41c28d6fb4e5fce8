package notify

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DeepGround/module/chat/model"
	"DeepGround/service/eventbus"
	"DeepGround/service/sse"
	"DeepGround/tools/backoff"
	"DeepGround/tools/clock"
	"DeepGround/tools/errs"
	"DeepGround/tools/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	waitFor = time.Second
	tick    = 2 * time.Millisecond
)

func token(t *testing.T) string {
	t.Helper()
	tok, _, _, err := security.Generate(security.DefaultOptions([]byte("k")), "7", nil)
	require.NoError(t, err)
	return tok
}

type fakeStream struct {
	events chan *sse.Event
	errc   chan error
	done   chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan *sse.Event, 16),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (f *fakeStream) Next() (*sse.Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.errc:
		return nil, err
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeStream) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeStream) send(event, data string) {
	f.events <- &sse.Event{Event: event, Data: []byte(data)}
}

// fakeDialer pops scripted results; when the script is empty it uses fallback.
type fakeDialer struct {
	mu       sync.Mutex
	script   []func() (EventStream, error)
	fallback func() (EventStream, error)
	dials    atomic.Int32
	headers  []string
}

func (d *fakeDialer) dial(_ context.Context, _ string, h http.Header) (EventStream, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.headers = append(d.headers, h.Get("Authorization"))
	var next func() (EventStream, error)
	if len(d.script) > 0 {
		next, d.script = d.script[0], d.script[1:]
	} else {
		next = d.fallback
	}
	d.mu.Unlock()
	return next()
}

func (d *fakeDialer) push(f func() (EventStream, error)) {
	d.mu.Lock()
	d.script = append(d.script, f)
	d.mu.Unlock()
}

func refused() (EventStream, error) { return nil, errs.ErrTransport.WrapMsg("connection refused") }

func streamOf(st *fakeStream) func() (EventStream, error) {
	return func() (EventStream, error) { return st, nil }
}

func newService(t *testing.T, cfg Config, d *fakeDialer, creds security.CredentialProvider) (*Service, *clock.Manual, *eventbus.Bus) {
	clk := clock.NewManual(time.Now())
	bus := eventbus.New()
	if creds == nil {
		creds = security.NewStaticProvider(token(t), nil)
	}
	cfg.BaseURL = "http://api.test"
	s := New(cfg, Deps{Credentials: creds, Dial: d.dial, Bus: bus, Clock: clk})
	return s, clk, bus
}

func TestExhaustionAfterFiftyRetries(t *testing.T) {
	d := &fakeDialer{fallback: refused}
	s, clk, _ := newService(t, Config{}, d, nil)
	dispose := s.Register(func(eventbus.Event) {})
	defer dispose()

	require.Eventually(t, func() bool { return s.Status().Attempt == 1 }, waitFor, tick)
	assert.Equal(t, int32(1), d.dials.Load())

	// the counter climbs one per failure and follows the delay table
	policy := backoff.Default()
	for attempt := 1; attempt <= 12; attempt++ {
		delay := policy.Delay(attempt - 1)
		clk.Advance(delay - time.Millisecond)
		assert.Equal(t, int32(attempt), d.dials.Load(), "fired early at attempt %d", attempt)
		clk.Advance(time.Millisecond)
		assert.Equal(t, int32(attempt+1), d.dials.Load())
		assert.Equal(t, attempt+1, s.Status().Attempt)
	}

	for i := 0; i < 100 && !s.Status().Exhausted; i++ {
		clk.Advance(10 * time.Second)
	}
	st := s.Status()
	assert.True(t, st.Exhausted)
	assert.False(t, s.IsConnected())
	assert.Equal(t, eventbus.StateDisconnected, st.State)
	assert.Equal(t, int32(51), d.dials.Load())

	clk.Advance(time.Hour)
	assert.Equal(t, int32(51), d.dials.Load(), "no timer after exhaustion")
	assert.Equal(t, 1, clk.Pending(), "only the monitor stays armed")

	st1 := newFakeStream()
	d.push(streamOf(st1))
	require.NoError(t, s.Reconnect(context.Background()))
	assert.True(t, s.IsConnected())
	st = s.Status()
	assert.Equal(t, 0, st.Attempt)
	assert.False(t, st.Exhausted)
	assert.Equal(t, backoff.QualityGood, st.Quality)
}

func TestAuthRejectionRefreshesOnce(t *testing.T) {
	d := &fakeDialer{fallback: refused}
	first := newFakeStream()
	second := newFakeStream()
	d.push(streamOf(first))
	d.push(streamOf(second))

	var refreshes atomic.Int32
	fresh := token(t)
	creds := security.NewStaticProvider(token(t), func(context.Context) (string, error) {
		refreshes.Add(1)
		return fresh, nil
	})
	s, clk, _ := newService(t, Config{}, d, creds)
	dispose := s.Register(func(eventbus.Event) {})
	defer dispose()
	require.Eventually(t, s.IsConnected, waitFor, tick)

	first.errc <- errs.ErrAuthRejected.WrapMsg("401")
	require.Eventually(t, func() bool { return d.dials.Load() == 2 && s.IsConnected() }, waitFor, tick)

	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, 0, s.Status().Attempt, "no backoff entered")
	assert.Equal(t, 1, clk.Pending())
	assert.True(t, first.closed())
	d.mu.Lock()
	assert.Equal(t, "Bearer "+fresh, d.headers[1])
	d.mu.Unlock()
}

func TestSecondRejectionIsFatal(t *testing.T) {
	d := &fakeDialer{fallback: func() (EventStream, error) {
		return nil, errs.ErrAuthRejected.WrapMsg("401")
	}}
	var refreshes atomic.Int32
	creds := security.NewStaticProvider(token(t), func(context.Context) (string, error) {
		refreshes.Add(1)
		return token(t), nil
	})
	s, clk, _ := newService(t, Config{}, d, creds)
	dispose := s.Register(func(eventbus.Event) {})
	defer dispose()

	require.Eventually(t, func() bool { return s.Status().Fatal }, waitFor, tick)
	assert.Equal(t, int32(2), d.dials.Load())
	assert.Equal(t, int32(1), refreshes.Load())
	assert.False(t, s.IsConnected())

	clk.Advance(10 * time.Minute)
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestMissingCredentialIsNotRetried(t *testing.T) {
	d := &fakeDialer{fallback: refused}
	s, clk, bus := newService(t, Config{}, d, security.NewStaticProvider("", nil))

	var fatal atomic.Bool
	eventbus.On(bus, func(e eventbus.ConnectionEvent) {
		if e.Fatal {
			fatal.Store(true)
		}
	})
	dispose := s.Register(func(eventbus.Event) {})
	defer dispose()

	require.Eventually(t, fatal.Load, waitFor, tick)
	assert.ErrorIs(t, s.Status().Err, errs.ErrCredentialMissing)
	clk.Advance(10 * time.Minute)
	assert.Equal(t, int32(0), d.dials.Load())
	assert.False(t, s.IsConnected())
}

func TestQualityDegradesAndStaleStreamIsReplaced(t *testing.T) {
	d := &fakeDialer{fallback: refused}
	first := newFakeStream()
	second := newFakeStream()
	d.push(streamOf(first))
	d.push(streamOf(second))
	s, clk, _ := newService(t, Config{}, d, nil)
	dispose := s.Register(func(eventbus.Event) {})
	defer dispose()
	require.Eventually(t, s.IsConnected, waitFor, tick)

	clk.Advance(30 * time.Second)
	assert.Equal(t, backoff.QualityGood, s.Status().Quality)
	clk.Advance(30 * time.Second)
	assert.Equal(t, backoff.QualityPoor, s.Status().Quality)
	assert.Equal(t, eventbus.StateDegraded, s.Status().State)

	clk.Advance(120 * time.Second)
	assert.Equal(t, backoff.QualityCritical, s.Status().Quality)
	clk.Advance(120 * time.Second)
	assert.True(t, s.IsConnected(), "300s is not past the timeout yet")

	clk.Advance(30 * time.Second)
	assert.True(t, first.closed())
	assert.False(t, s.IsConnected())

	clk.Advance(time.Second)
	assert.True(t, s.IsConnected())
	assert.Equal(t, int32(2), d.dials.Load())
	assert.Equal(t, backoff.QualityGood, s.Status().Quality)
}

func TestEventsRefreshHeartbeatAndFanOut(t *testing.T) {
	d := &fakeDialer{fallback: refused}
	st := newFakeStream()
	d.push(streamOf(st))
	s, clk, bus := newService(t, Config{}, d, nil)

	var mu sync.Mutex
	var got []eventbus.Event
	dispose := s.Register(func(e eventbus.Event) {
		if e.Kind() == eventbus.KindConnection {
			return
		}
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer dispose()

	presence := make(chan eventbus.PresenceEvent, 1)
	eventbus.On(bus, func(e eventbus.PresenceEvent) { presence <- e })
	unread := make(chan eventbus.UnreadCountEvent, 2)
	eventbus.On(bus, func(e eventbus.UnreadCountEvent) { unread <- e })

	require.Eventually(t, s.IsConnected, waitFor, tick)
	clk.Advance(70 * time.Second)
	assert.Equal(t, backoff.QualityPoor, s.Status().Quality)

	n := `{"id":"n1","type":"FRIEND_REQUEST","read":false,"createdAt":"2024-01-01T00:00:00","data":{"friendId":3}}`
	st.send(EventNotification, n)
	st.send(EventNotification, n)
	st.send(EventNotification, `{"id":"n2","type":"NOPE"}`)
	st.send(EventNotification, `{"id":"n3","type":"FRIEND_REQUEST","read":false,"createdAt":"2024-01-01T00:00:00","data":{"nickname":"x"}}`)
	st.send(EventNotification, `{not json`)
	st.send(EventUnreadCount, `{"unreadCount":4}`)
	st.send(EventUnreadCount, `{"type":"CHAT","chatRoomId":9,"unreadCount":2}`)
	st.send(EventPresence, `{"memberId":3,"status":"ONLINE"}`)
	st.send(EventHeartbeat, `{}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, waitFor, tick)

	assert.Len(t, s.Notifications(), 1)
	assert.Equal(t, 4, s.UnreadCount())
	assert.Equal(t, backoff.QualityGood, s.Status().Quality)
	assert.Equal(t, clk.Now(), s.Status().LastHeartbeatAt)
	assert.True(t, s.IsConnected())

	p := <-presence
	assert.Equal(t, int64(3), p.MemberID)
	assert.Equal(t, model.Online, p.Status)
	assert.Equal(t, eventbus.UnreadCountEvent{Scope: model.ScopeNotification, Count: 4}, <-unread)
	assert.Equal(t, eventbus.UnreadCountEvent{Scope: model.ScopeChat, ChatRoomID: 9, Count: 2}, <-unread)
}

func TestSharedStreamClosesWithLastListener(t *testing.T) {
	d := &fakeDialer{fallback: refused}
	st := newFakeStream()
	d.push(streamOf(st))
	s, clk, _ := newService(t, Config{}, d, nil)

	a := s.Register(func(eventbus.Event) {})
	b := s.Register(func(eventbus.Event) {})
	require.Eventually(t, s.IsConnected, waitFor, tick)
	assert.Equal(t, int32(1), d.dials.Load())

	a()
	a()
	assert.True(t, s.IsConnected())
	b()
	assert.False(t, s.IsConnected())
	assert.True(t, st.closed())
	assert.Equal(t, 0, clk.Pending())
	assert.ErrorIs(t, s.Reconnect(context.Background()), errs.ErrClosed)
}

func TestSignalsAreDebounced(t *testing.T) {
	d := &fakeDialer{fallback: refused}
	cfg := Config{Backoff: backoff.Policy{Tiers: []backoff.Tier{{FromAttempt: 0, Delay: time.Minute}}, MaxAttempts: 50}}
	s, clk, _ := newService(t, cfg, d, nil)
	dispose := s.Register(func(eventbus.Event) {})
	defer dispose()
	require.Eventually(t, func() bool { return s.Status().Attempt == 1 }, waitFor, tick)

	st := newFakeStream()
	d.push(streamOf(st))
	s.Signal(SignalOnline)
	clk.Advance(500 * time.Millisecond)
	s.Signal(SignalVisible)
	s.Signal(SignalFocus)
	clk.Advance(999 * time.Millisecond)
	assert.Equal(t, int32(1), d.dials.Load())
	clk.Advance(time.Millisecond)
	assert.Equal(t, int32(2), d.dials.Load())
	assert.True(t, s.IsConnected())

	// a healthy channel ignores signals
	s.Signal(SignalFocus)
	clk.Advance(2 * time.Second)
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestReconnectHonoursCallerContext(t *testing.T) {
	d := &fakeDialer{fallback: refused}
	cfg := Config{Backoff: backoff.Policy{Tiers: []backoff.Tier{{FromAttempt: 0, Delay: time.Minute}}, MaxAttempts: 50}}
	s, _, _ := newService(t, cfg, d, nil)
	dispose := s.Register(func(eventbus.Event) {})
	defer dispose()
	require.Eventually(t, func() bool { return s.Status().Attempt == 1 }, waitFor, tick)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Reconnect(ctx), context.Canceled)
	assert.Equal(t, int32(1), d.dials.Load())
	assert.False(t, s.Status().Fatal)

	// cancelled while the dial is in flight
	ctx, cancel = context.WithCancel(context.Background())
	st := newFakeStream()
	d.push(func() (EventStream, error) {
		cancel()
		return st, nil
	})
	assert.ErrorIs(t, s.Reconnect(ctx), context.Canceled)
	assert.True(t, st.closed())
	assert.False(t, s.IsConnected())

	// the stream outlives the ctx that opened it
	ctx, cancel = context.WithCancel(context.Background())
	st = newFakeStream()
	d.push(streamOf(st))
	require.NoError(t, s.Reconnect(ctx))
	cancel()
	assert.True(t, s.IsConnected())
	assert.False(t, st.closed())
}

func TestListenersFireInRegistrationOrder(t *testing.T) {
	d := &fakeDialer{fallback: refused}
	st := newFakeStream()
	d.push(streamOf(st))
	s, _, _ := newService(t, Config{}, d, nil)

	var mu sync.Mutex
	var order []int
	listener := func(n int) Listener {
		return func(e eventbus.Event) {
			if e.Kind() != eventbus.KindNotification {
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}
	var disposers []func()
	for i := 0; i < 5; i++ {
		disposers = append(disposers, s.Register(listener(i)))
	}
	defer func() {
		for _, f := range disposers {
			f()
		}
	}()
	disposers[1]()
	disposers[3]()
	require.Eventually(t, s.IsConnected, waitFor, tick)

	st.send(EventNotification, `{"id":"n1","type":"FRIEND_REQUEST","read":false,"createdAt":"2024-01-01T00:00:00","data":{"friendId":3}}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, waitFor, tick)
	assert.Equal(t, []int{0, 2, 4}, order)
}
