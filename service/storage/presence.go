package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"DeepGround/module/chat/model"
	"DeepGround/service/eventbus"
	"DeepGround/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// presence key: im:presence:<member>
// Value: status + timestamp, TTL bounds how long a stale ONLINE survives
func presenceKey(memberID int64) string { return "im:presence:" + strconv.FormatInt(memberID, 10) }

// unread key: im:unread:<room>, im:unread:notification for the inbox
func unreadKey(roomID int64) string { return "im:unread:" + strconv.FormatInt(roomID, 10) }

const notificationUnreadKey = "im:unread:notification"

type presenceValue struct {
	Status model.PresenceStatus `json:"status"`
	At     time.Time            `json:"at"`
}

// PresenceMirror copies presence and unread pushes from the bus into Redis so
// other processes of the same user can read them.
type PresenceMirror struct {
	rdb redis.Cmdable
	ttl time.Duration
	log *zap.Logger

	mu    sync.Mutex
	unsub []func()
}

func NewPresenceMirror(rdb redis.Cmdable, ttl time.Duration, log *zap.Logger) *PresenceMirror {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PresenceMirror{rdb: rdb, ttl: ttl, log: log}
}

// Attach subscribes to bus. The returned func detaches.
func (m *PresenceMirror) Attach(bus *eventbus.Bus) func() {
	p := eventbus.On(bus, func(ev eventbus.PresenceEvent) {
		if err := m.SetPresence(context.Background(), ev.MemberID, ev.Status, ev.At); err != nil {
			m.log.Warn("presence mirror write failed", zap.Int64("member", ev.MemberID), zap.Error(err))
		}
	})
	u := eventbus.On(bus, func(ev eventbus.UnreadCountEvent) {
		if err := m.SetUnread(context.Background(), ev.Scope, ev.ChatRoomID, ev.Count); err != nil {
			m.log.Warn("unread mirror write failed", zap.Int64("room", ev.ChatRoomID), zap.Error(err))
		}
	})
	m.mu.Lock()
	m.unsub = append(m.unsub, p, u)
	m.mu.Unlock()
	return m.Detach
}

func (m *PresenceMirror) Detach() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()
	for _, f := range unsub {
		f()
	}
}

// SetPresence records ONLINE with the TTL and deletes the key on OFFLINE.
func (m *PresenceMirror) SetPresence(ctx context.Context, memberID int64, status model.PresenceStatus, at time.Time) error {
	if status == model.Offline {
		return errs.As(errs.ErrTransport, m.rdb.Del(ctx, presenceKey(memberID)).Err())
	}
	b, err := json.Marshal(presenceValue{Status: status, At: at})
	if err != nil {
		return err
	}
	return errs.As(errs.ErrTransport, m.rdb.Set(ctx, presenceKey(memberID), b, m.ttl).Err())
}

// Lookup reports the mirrored presence; ok is false when nothing is recorded.
func (m *PresenceMirror) Lookup(ctx context.Context, memberID int64) (status model.PresenceStatus, at time.Time, ok bool, err error) {
	val, err := m.rdb.Get(ctx, presenceKey(memberID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Offline, time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, errs.As(errs.ErrTransport, err)
	}
	var v presenceValue
	if err := json.Unmarshal(val, &v); err != nil {
		return "", time.Time{}, false, errs.As(errs.ErrProtocol, err)
	}
	return v.Status, v.At, true, nil
}

func (m *PresenceMirror) SetUnread(ctx context.Context, scope model.UnreadScope, roomID int64, n int) error {
	key := notificationUnreadKey
	if scope == model.ScopeChat {
		if roomID == 0 {
			return nil
		}
		key = unreadKey(roomID)
	}
	return errs.As(errs.ErrTransport, m.rdb.Set(ctx, key, n, 0).Err())
}

// Unread reads a mirrored count; roomID 0 means the notification inbox.
func (m *PresenceMirror) Unread(ctx context.Context, roomID int64) (int, error) {
	key := notificationUnreadKey
	if roomID != 0 {
		key = unreadKey(roomID)
	}
	n, err := m.rdb.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.As(errs.ErrTransport, err)
	}
	return n, nil
}
