package eventbus

import (
	"time"

	"DeepGround/module/chat/model"
	"DeepGround/tools/backoff"
)

type Kind string

const (
	KindPresence     Kind = "presence"
	KindUnreadCount  Kind = "unreadCount"
	KindNotification Kind = "notification"
	KindHeartbeat    Kind = "heartbeat"
	KindConnection   Kind = "connection"
	KindChatMessage  Kind = "chatMessage"
	KindReadReceipt  Kind = "readReceipt"
)

// Event is the tagged union carried by the bus.
type Event interface {
	Kind() Kind
}

type PresenceEvent struct {
	MemberID int64                `json:"memberId"`
	Status   model.PresenceStatus `json:"status"`
	At       time.Time            `json:"at"`
}

type UnreadCountEvent struct {
	Scope      model.UnreadScope `json:"scope"`
	ChatRoomID int64             `json:"chatRoomId,omitempty"`
	Count      int               `json:"count"`
}

type NotificationEvent struct {
	Notification model.Notification `json:"notification"`
}

type HeartbeatEvent struct {
	At time.Time `json:"at"`
}

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDegraded     ConnectionState = "degraded"
)

// ConnectionEvent reports a status change of a channel ("notify" or "chat").
type ConnectionEvent struct {
	Channel   string          `json:"channel"`
	State     ConnectionState `json:"state"`
	Quality   backoff.Quality `json:"quality"`
	Attempt   int             `json:"attempt"`
	Exhausted bool            `json:"exhausted,omitempty"`
	Fatal     bool            `json:"fatal,omitempty"`
	Err       string          `json:"error,omitempty"`
}

type ChatMessageEvent struct {
	ChatRoomID int64             `json:"chatRoomId"`
	Message    model.ChatMessage `json:"message"`
	FromMe     bool              `json:"fromMe"`
}

type ReadReceiptEvent struct {
	Receipt model.ReadReceipt `json:"receipt"`
}

func (PresenceEvent) Kind() Kind     { return KindPresence }
func (UnreadCountEvent) Kind() Kind  { return KindUnreadCount }
func (NotificationEvent) Kind() Kind { return KindNotification }
func (HeartbeatEvent) Kind() Kind    { return KindHeartbeat }
func (ConnectionEvent) Kind() Kind   { return KindConnection }
func (ChatMessageEvent) Kind() Kind  { return KindChatMessage }
func (ReadReceiptEvent) Kind() Kind  { return KindReadReceipt }
