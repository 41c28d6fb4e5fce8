package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DeepGround/module/chat/model"
	"DeepGround/module/chat/scroll"
	"DeepGround/service/eventbus"
	"DeepGround/tools/clock"
	"DeepGround/tools/errs"
	"DeepGround/tools/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	waitFor = time.Second
	tick    = 2 * time.Millisecond
	t0      = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func token(t *testing.T) string {
	t.Helper()
	tok, _, _, err := security.Generate(security.DefaultOptions([]byte("k")), "7", nil)
	require.NoError(t, err)
	return tok
}

type fakeSub struct {
	b    *fakeBroker
	dest string
	id   int
	once sync.Once
}

func (s *fakeSub) Unsubscribe() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		delete(s.b.handlers, s.id)
		s.b.log = append(s.b.log, "unsub "+s.dest)
	})
	return nil
}

type fakeBroker struct {
	mu        sync.Mutex
	nextID    int
	handlers  map[int]*fakeHandler
	log       []string
	published map[string][][]byte
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

type fakeHandler struct {
	dest string
	h    MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers:  make(map[int]*fakeHandler),
		published: make(map[string][][]byte),
		done:      make(chan struct{}),
	}
}

func (b *fakeBroker) Subscribe(dest string, h MessageHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[b.nextID] = &fakeHandler{dest: dest, h: h}
	b.log = append(b.log, "sub "+dest)
	return &fakeSub{b: b, dest: dest, id: b.nextID}, nil
}

func (b *fakeBroker) Publish(dest string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[dest] = append(b.published[dest], body)
	return nil
}

func (b *fakeBroker) Done() <-chan struct{} { return b.done }

func (b *fakeBroker) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *fakeBroker) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

// drop simulates the broker going away.
func (b *fakeBroker) drop(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	b.Close()
}

func (b *fakeBroker) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// deliver calls every handler currently subscribed to dest.
func (b *fakeBroker) deliver(dest string, v any) {
	body, ok := v.([]byte)
	if !ok {
		body, _ = json.Marshal(v)
	}
	b.mu.Lock()
	var hs []MessageHandler
	for id := 1; id <= b.nextID; id++ {
		if h, ok := b.handlers[id]; ok && h.dest == dest {
			hs = append(hs, h.h)
		}
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(body)
	}
}

func (b *fakeBroker) sent(dest string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[dest]...)
}

func (b *fakeBroker) ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.log...)
}

func (b *fakeBroker) subscribers(dest string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, h := range b.handlers {
		if h.dest == dest {
			n++
		}
	}
	return n
}

type fakeAPI struct {
	mu      sync.Mutex
	friends *model.ChatRoomPage
	groups  *model.ChatRoomPage
	older   *model.MessagePage
	fail    error
	members map[int64]*model.MemberInfo
	calls   map[int64]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{members: make(map[int64]*model.MemberInfo), calls: make(map[int64]int)}
}

func (a *fakeAPI) FriendRooms(context.Context, int, int) (*model.ChatRoomPage, error) {
	return a.friends, a.fail
}

func (a *fakeAPI) StudyGroupRooms(context.Context, int, int) (*model.ChatRoomPage, error) {
	return a.groups, a.fail
}

func (a *fakeAPI) Messages(context.Context, int64, string, int) (*model.MessagePage, error) {
	if a.fail != nil {
		return nil, a.fail
	}
	return a.older, nil
}

func (a *fakeAPI) Member(_ context.Context, _ int64, memberID int64) (*model.MemberInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[memberID]++
	if m, ok := a.members[memberID]; ok {
		return m, nil
	}
	return nil, errs.ErrRequest.WrapMsg("not found", "member", memberID)
}

func (a *fakeAPI) memberCalls(id int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[id]
}

type harness struct {
	svc     *Service
	clk     *clock.Manual
	bus     *eventbus.Bus
	api     *fakeAPI
	creds   *security.StaticProvider
	mu      sync.Mutex
	brokers []*fakeBroker
	dialErr error
	dials   atomic.Int32
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		clk:   clock.NewManual(t0),
		bus:   eventbus.New(),
		api:   newFakeAPI(),
		creds: security.NewStaticProvider(token(t), nil),
	}
	h.svc = New(Config{}, Deps{
		Credentials: h.creds,
		API:         h.api,
		Dial:        h.dial,
		Bus:         h.bus,
		Clock:       h.clk,
	})
	t.Cleanup(h.svc.Close)
	return h
}

func (h *harness) dial(context.Context, string) (Broker, error) {
	h.dials.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dialErr != nil {
		return nil, h.dialErr
	}
	b := newFakeBroker()
	h.brokers = append(h.brokers, b)
	return b, nil
}

func (h *harness) broker() *fakeBroker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.brokers) == 0 {
		return nil
	}
	return h.brokers[len(h.brokers)-1]
}

func (h *harness) open(t *testing.T) *fakeBroker {
	t.Helper()
	require.NoError(t, h.svc.SetUIOpen(context.Background(), true))
	require.True(t, h.svc.IsConnected())
	return h.broker()
}

func msgAt(id string, sender int64, sec int) model.ChatMessage {
	return model.ChatMessage{ID: id, SenderID: sender, Message: id, CreatedAt: model.At(t0.Add(time.Duration(sec) * time.Second))}
}

func dest(tmpl string, room int64) string { return fmt.Sprintf(tmpl, room) }

func snapshot(msgs ...model.ChatMessage) model.RoomSnapshot {
	return model.RoomSnapshot{
		MessagePage: model.MessagePage{Messages: msgs, HasNext: true, NextCursor: strPtr("c1")},
		MemberInfos: []model.MemberInfo{
			{MemberID: 7, Nickname: "me", Me: true},
			{MemberID: 8, Nickname: "peer"},
		},
	}
}

func strPtr(s string) *string { return &s }

func receipts(t *testing.T, b *fakeBroker, room int64) []model.ReadRequest {
	t.Helper()
	var out []model.ReadRequest
	for _, body := range b.sent(dest(StompRoutes().ReadPublish, room)) {
		var rr model.ReadRequest
		require.NoError(t, json.Unmarshal(body, &rr))
		out = append(out, rr)
	}
	return out
}

func TestFirstRoomOpen(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()

	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	st, ok := h.svc.Store().Room(1)
	require.True(t, ok)
	assert.True(t, st.Loading)
	assert.Equal(t, PhaseSubscribing, h.svc.RoomPhase(1))
	assert.Equal(t, []string{
		"sub " + dest(r.Message, 1),
		"sub " + dest(r.Read, 1),
		"sub " + dest(r.Init, 1),
	}, b.ops())

	b.deliver(dest(r.Init, 1), snapshot(msgAt("m3", 8, 30), msgAt("m1", 8, 10), msgAt("m2", 7, 20)))

	st, _ = h.svc.Store().Room(1)
	assert.False(t, st.Loading)
	require.Len(t, st.Messages, 3)
	assert.Equal(t, "m1", st.Messages[0].ID)
	assert.Equal(t, "m3", st.Messages[2].ID)
	assert.Equal(t, PhaseLive, h.svc.RoomPhase(1))

	rs := receipts(t, b, 1)
	require.Len(t, rs, 1)
	assert.True(t, rs[0].LatestMessageTime.Equal(t0.Add(30*time.Second)))

	// reopening the room in the same session sends no second auto receipt
	require.NoError(t, h.svc.SelectRoom(context.Background(), 2))
	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	b.deliver(dest(r.Init, 1), snapshot(msgAt("m1", 8, 10), msgAt("m2", 7, 20), msgAt("m3", 8, 30)))
	assert.Len(t, receipts(t, b, 1), 1)
}

func TestRoomSwitchUnsubscribesBeforeSubscribing(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()

	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	b.deliver(dest(r.Init, 1), snapshot(msgAt("a", 8, 1)))
	require.NoError(t, h.svc.SelectRoom(context.Background(), 2))

	ops := b.ops()[3:]
	require.Len(t, ops, 6)
	for _, op := range ops[:3] {
		assert.Contains(t, op, "unsub ")
		assert.Contains(t, op, "/1")
	}
	for _, op := range ops[3:] {
		assert.Contains(t, op, "sub /")
		assert.Contains(t, op, "/2")
	}
	assert.Zero(t, b.subscribers(dest(r.Message, 1)))
	assert.Equal(t, PhaseUnsubscribed, h.svc.RoomPhase(1))
	assert.Equal(t, PhaseSubscribing, h.svc.RoomPhase(2))
}

func TestStaleHandlerIsIgnored(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()

	var stale MessageHandler
	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	b.mu.Lock()
	for _, fh := range b.handlers {
		if fh.dest == dest(r.Message, 1) {
			stale = fh.h
		}
	}
	b.mu.Unlock()
	require.NotNil(t, stale)

	require.NoError(t, h.svc.SelectRoom(context.Background(), 2))
	body, _ := json.Marshal(msgAt("late", 8, 5))
	stale(body)

	st1, _ := h.svc.Store().Room(1)
	st2, _ := h.svc.Store().Room(2)
	assert.Empty(t, st1.Messages)
	assert.Empty(t, st2.Messages)
}

func TestLiveMessages(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()
	h.api.members[9] = &model.MemberInfo{MemberID: 9, Nickname: "new"}

	var events []eventbus.ChatMessageEvent
	defer eventbus.On(h.bus, func(e eventbus.ChatMessageEvent) { events = append(events, e) })()

	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	b.deliver(dest(r.Init, 1), snapshot(msgAt("a", 8, 1)))
	require.Len(t, receipts(t, b, 1), 1)

	// from a peer and newest: read on view
	b.deliver(dest(r.Message, 1), msgAt("b", 8, 2))
	b.deliver(dest(r.Message, 1), msgAt("b", 8, 2))
	assert.Len(t, receipts(t, b, 1), 2)

	// from me: no receipt
	b.deliver(dest(r.Message, 1), msgAt("c", 7, 3))
	assert.Len(t, receipts(t, b, 1), 2)

	// older than the tail: no receipt
	b.deliver(dest(r.Message, 1), msgAt("old", 8, 0))
	assert.Len(t, receipts(t, b, 1), 2)

	// unknown sender is fetched once
	b.deliver(dest(r.Message, 1), msgAt("d", 9, 4))
	b.deliver(dest(r.Message, 1), []byte("{nope"))
	require.Eventually(t, func() bool { return h.svc.Store().HasMember(1, 9) }, waitFor, tick)
	assert.Equal(t, 1, h.api.memberCalls(9))

	st, _ := h.svc.Store().Room(1)
	var ids []string
	for _, m := range st.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"old", "a", "b", "c", "d"}, ids)
	require.Len(t, events, 4)
	assert.True(t, events[1].FromMe)
}

func TestReadReceiptUpdatesMembers(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()
	h.api.members[11] = &model.MemberInfo{MemberID: 11, Nickname: "late"}

	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	b.deliver(dest(r.Init, 1), snapshot(msgAt("a", 7, 1), msgAt("b", 7, 2)))
	assert.Equal(t, 1, h.svc.MessageUnreadCount(1, "b"))

	b.deliver(dest(r.Read, 1), model.ReadReceipt{MemberID: 8, LastReadMessageTime: model.At(t0.Add(2 * time.Second))})
	assert.Equal(t, 0, h.svc.MessageUnreadCount(1, "b"))

	b.deliver(dest(r.Read, 1), model.ReadReceipt{MemberID: 11, LastReadMessageTime: model.At(t0.Add(time.Second))})
	require.Eventually(t, func() bool { return h.svc.Store().HasMember(1, 11) }, waitFor, tick)
	require.Eventually(t, func() bool { return h.svc.MessageUnreadCount(1, "a") == 0 }, waitFor, tick)
	assert.Equal(t, 1, h.svc.MessageUnreadCount(1, "b"))
}

func TestSnapshotParseFailureEndsSubscription(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()

	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	b.deliver(dest(r.Init, 1), []byte("not json"))

	st, _ := h.svc.Store().Room(1)
	assert.False(t, st.Loading)
	assert.True(t, st.Visible)
	assert.Equal(t, PhaseUnsubscribed, h.svc.RoomPhase(1))
	assert.Zero(t, b.subscribers(dest(r.Init, 1)))
	assert.Zero(t, b.subscribers(dest(r.Message, 1)))
	assert.Zero(t, h.clk.Pending())

	// selecting again starts from scratch
	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	assert.Equal(t, 1, b.subscribers(dest(r.Init, 1)))
}

func TestSnapshotParseFailureSurvivesReconnect(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()

	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	b.deliver(dest(r.Init, 1), []byte("not json"))
	require.Equal(t, PhaseUnsubscribed, h.svc.RoomPhase(1))

	b.drop(errs.ErrTransport.WrapMsg("reset"))
	require.Eventually(t, func() bool { return h.clk.Pending() == 1 }, waitFor, tick)
	h.clk.Advance(time.Second)
	require.True(t, h.svc.IsConnected())

	nb := h.broker()
	require.NotSame(t, b, nb)
	assert.Zero(t, nb.subscribers(dest(r.Init, 1)))
	assert.Zero(t, nb.subscribers(dest(r.Message, 1)))
	assert.Equal(t, PhaseUnsubscribed, h.svc.RoomPhase(1))

	// a fresh credential does not bring it back either
	require.NoError(t, h.svc.CredentialChanged(context.Background()))
	assert.Zero(t, h.broker().subscribers(dest(r.Init, 1)))

	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	assert.Equal(t, 1, h.broker().subscribers(dest(r.Init, 1)))
	assert.Equal(t, PhaseSubscribing, h.svc.RoomPhase(1))
}

func TestSelectedRoomUnreadSuppression(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()
	h.api.friends = &model.ChatRoomPage{ChatRooms: []model.ChatRoom{
		{ChatRoomID: 1, Name: "a", UnreadCount: 5, PeerID: 8},
		{ChatRoomID: 2, Name: "b", UnreadCount: 1, PeerID: 9},
	}}
	_, err := h.svc.LoadFriendRooms(context.Background(), 0)
	require.NoError(t, err)

	unreadOf := func(id int64) int {
		for _, room := range h.svc.Rooms(model.FriendRoom) {
			if room.ChatRoomID == id {
				return room.UnreadCount
			}
		}
		return -1
	}
	assert.Equal(t, 5, unreadOf(1))

	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	assert.Equal(t, 0, unreadOf(1))

	h.bus.Publish(eventbus.UnreadCountEvent{Scope: model.ScopeChat, ChatRoomID: 1, Count: 7})
	assert.Equal(t, 0, unreadOf(1))

	b.deliver(dest(r.Message, 1), msgAt("x", 8, 1))
	assert.Equal(t, 0, unreadOf(1))

	// reloading the list while selected
	_, err = h.svc.LoadFriendRooms(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, unreadOf(1))

	h.bus.Publish(eventbus.UnreadCountEvent{Scope: model.ScopeChat, ChatRoomID: 2, Count: 3})
	assert.Equal(t, 3, unreadOf(2))
	h.bus.Publish(eventbus.UnreadCountEvent{Scope: model.ScopeNotification, Count: 9})
	assert.Equal(t, 3, unreadOf(2))

	h.bus.Publish(eventbus.PresenceEvent{MemberID: 9, Status: model.Online})
	assert.Equal(t, model.Online, h.svc.Rooms(model.FriendRoom)[1].Status)

	h.svc.LeaveRoom()
	assert.Equal(t, 0, unreadOf(1))
	h.bus.Publish(eventbus.UnreadCountEvent{Scope: model.ScopeChat, ChatRoomID: 1, Count: 2})
	assert.Equal(t, 2, unreadOf(1))
}

func TestConnectionFollowsUIAndCredential(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.svc.IsConnected())
	assert.Zero(t, h.dials.Load())

	b := h.open(t)
	require.NoError(t, h.svc.SetUIOpen(context.Background(), false))
	assert.False(t, h.svc.IsConnected())
	assert.True(t, b.closed())

	h.creds.Set("")
	err := h.svc.SetUIOpen(context.Background(), true)
	assert.True(t, errs.IsFatalPrecondition(err))
	assert.False(t, h.svc.IsConnected())
	assert.True(t, h.svc.Status().Fatal)
	assert.Equal(t, int32(1), h.dials.Load())

	h.creds.Set(token(t))
	require.NoError(t, h.svc.CredentialChanged(context.Background()))
	assert.True(t, h.svc.IsConnected())
	assert.Equal(t, int32(2), h.dials.Load())
}

func TestBrokerLossReconnectsAndResubscribes(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()
	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))

	b.drop(errs.ErrTransport.WrapMsg("reset"))
	require.Eventually(t, func() bool { return !h.svc.IsConnected() }, waitFor, tick)
	require.Eventually(t, func() bool { return h.clk.Pending() == 1 }, waitFor, tick)
	assert.Equal(t, 1, h.svc.Status().Attempt)

	h.clk.Advance(time.Second)
	require.True(t, h.svc.IsConnected())
	nb := h.broker()
	require.NotSame(t, b, nb)
	assert.Equal(t, 1, nb.subscribers(dest(r.Init, 1)))
	assert.Equal(t, 1, nb.subscribers(dest(r.Message, 1)))
	assert.Equal(t, 0, h.svc.Status().Attempt)
}

func TestBrokerAuthLossIsFatal(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	b.drop(errs.ErrAuthRejected.WrapMsg("expired"))
	require.Eventually(t, func() bool { return h.svc.Status().Fatal }, waitFor, tick)
	assert.Zero(t, h.clk.Pending())
}

func TestDialFailuresExhaust(t *testing.T) {
	h := newHarness(t)
	h.dialErr = errs.ErrTransport.WrapMsg("refused")
	require.Error(t, h.svc.SetUIOpen(context.Background(), true))
	for i := 0; i < 60 && h.clk.Pending() > 0; i++ {
		h.clk.Advance(10 * time.Second)
	}
	assert.Equal(t, int32(51), h.dials.Load())
	assert.True(t, h.svc.Status().Exhausted)
	assert.Zero(t, h.clk.Pending())

	h.dialErr = nil
	require.NoError(t, h.svc.Reconnect(context.Background()))
	assert.False(t, h.svc.Status().Exhausted)
}

type fakeViewport struct {
	m    scroll.Metrics
	grow float64
}

func (v *fakeViewport) Metrics() scroll.Metrics  { return v.m }
func (v *fakeViewport) SetScrollTop(top float64) { v.m.ScrollTop = top }
func (v *fakeViewport) AfterRepaint(f func())    { v.m.ScrollHeight += v.grow; v.grow = 0; f() }

func TestLoadOlderMessagesKeepsAnchor(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()
	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	b.deliver(dest(r.Init, 1), snapshot(msgAt("c", 8, 30)))

	h.api.older = &model.MessagePage{Messages: []model.ChatMessage{msgAt("a", 8, 10), msgAt("b", 12, 20)}}
	vp := &fakeViewport{m: scroll.Metrics{ScrollHeight: 1000, ScrollTop: 200, ClientHeight: 300}, grow: 400}

	n, err := h.svc.LoadOlderMessages(context.Background(), 1, vp)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, float64(600), vp.m.ScrollTop)

	st, _ := h.svc.Store().Room(1)
	assert.False(t, st.Loading)
	assert.False(t, st.HasNext)
	assert.Len(t, st.Messages, 3)
	require.Eventually(t, func() bool { return h.api.memberCalls(12) == 1 }, waitFor, tick)

	// nothing older left
	n, err = h.svc.LoadOlderMessages(context.Background(), 1, vp)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadOlderMessagesFailureKeepsMessages(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()
	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	b.deliver(dest(r.Init, 1), snapshot(msgAt("c", 8, 30)))

	h.api.fail = errs.ErrRequest.WrapMsg("boom")
	_, err := h.svc.LoadOlderMessages(context.Background(), 1, nil)
	assert.ErrorIs(t, err, errs.ErrUserAction)
	st, _ := h.svc.Store().Room(1)
	assert.False(t, st.Loading)
	assert.Len(t, st.Messages, 1)
}

func TestNewMessageAffordance(t *testing.T) {
	h := newHarness(t)
	b := h.open(t)
	r := StompRoutes()
	vp := &fakeViewport{m: scroll.Metrics{ScrollHeight: 2000, ScrollTop: 100, ClientHeight: 500}}
	h.svc.AttachViewport(vp)
	require.NoError(t, h.svc.SelectRoom(context.Background(), 1))
	b.deliver(dest(r.Init, 1), snapshot(msgAt("a", 8, 1)))

	b.deliver(dest(r.Message, 1), msgAt("b", 8, 2))
	assert.True(t, h.svc.HasNewMessage())
	assert.Equal(t, float64(100), vp.m.ScrollTop)

	b.deliver(dest(r.Message, 1), msgAt("c", 7, 3))
	assert.Equal(t, float64(1500), vp.m.ScrollTop)

	h.svc.OnUserScroll()
	assert.False(t, h.svc.HasNewMessage())
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.SetUIOpen(ctx, true))
	b := h.broker()
	err := h.svc.SendMessage(ctx, 1, "hi", nil)
	assert.ErrorIs(t, err, errs.ErrUserAction)

	require.NoError(t, h.svc.SelectRoom(ctx, 1))
	assert.ErrorIs(t, h.svc.SendMessage(ctx, 1, "", nil), errs.ErrUserAction)
	require.NoError(t, h.svc.SendMessage(ctx, 1, "hi", []string{"img-1"}))

	sent := b.sent(dest(StompRoutes().Send, 1))
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"message":"hi","mediaIds":["img-1"]}`, string(sent[0]))
	// nothing is stored until the broker echoes it back
	st, _ := h.svc.Store().Room(1)
	assert.Empty(t, st.Messages)

	require.NoError(t, h.svc.SetUIOpen(ctx, false))
	assert.ErrorIs(t, h.svc.SendMessage(ctx, 1, "hi", nil), errs.ErrUserAction)
}
