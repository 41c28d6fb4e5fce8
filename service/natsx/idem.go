package natsx

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ----- 抽象存储 -----
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu    sync.Mutex
	m     map[string]time.Time // key -> expire
	ttl   time.Duration
	now   func() time.Time
	calls int
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	return newMemIdem(defaultTTL, time.Now)
}

func newMemIdem(defaultTTL time.Duration, now func() time.Time) *memIdem {
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: now}
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	// 顺带清理过期 key，不单独起协程
	mi.calls++
	if mi.calls%256 == 0 {
		for k, exp := range mi.m {
			if !exp.After(now) {
				delete(mi.m, k)
			}
		}
	}
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil // 已见过
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// ----- 从消息头提取 msgID -----
func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{MsgIDHeader, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// ----- 幂等中间件 -----
// 只对带 msgID 的消息去重；无 ID 的消息原样放行（同内容的聊天消息是合法的）
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				return next(ctx, msg)
			}
			seen, _ := store.SeenOnce(strings.TrimSpace(msg.Subject)+"|"+id, ttl)
			if seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
