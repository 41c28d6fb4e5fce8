package eventbus

import (
	"testing"

	"DeepGround/module/chat/model"

	"github.com/stretchr/testify/assert"
)

func TestTypedDeliveryInOrder(t *testing.T) {
	b := New()
	var got []string

	offPresence := On(b, func(e PresenceEvent) { got = append(got, "presence:"+string(e.Status)) })
	On(b, func(e UnreadCountEvent) { got = append(got, "unread") })
	offAll := b.SubscribeAll(func(e Event) { got = append(got, "all:"+string(e.Kind())) })

	b.Publish(PresenceEvent{MemberID: 1, Status: model.Online})
	b.Publish(UnreadCountEvent{Scope: model.ScopeChat, ChatRoomID: 3, Count: 2})
	b.Publish(HeartbeatEvent{})
	assert.Equal(t, []string{
		"presence:ONLINE", "all:presence",
		"unread", "all:unreadCount",
		"all:heartbeat",
	}, got)

	got = nil
	offPresence()
	offPresence()
	offAll()
	b.Publish(PresenceEvent{MemberID: 1, Status: model.Offline})
	assert.Empty(t, got)
}

func TestHandlerPanicDoesNotStopFanOut(t *testing.T) {
	b := New()
	delivered := 0
	b.Subscribe(KindHeartbeat, func(Event) { panic("boom") })
	b.Subscribe(KindHeartbeat, func(Event) { delivered++ })
	b.Publish(HeartbeatEvent{})
	assert.Equal(t, 1, delivered)
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	calls := 0
	var off func()
	off = b.Subscribe(KindConnection, func(Event) {
		calls++
		off()
	})
	b.Publish(ConnectionEvent{Channel: "notify", State: StateConnected})
	b.Publish(ConnectionEvent{Channel: "notify", State: StateConnected})
	assert.Equal(t, 1, calls)
	assert.Same(t, Default(), Default())
}
