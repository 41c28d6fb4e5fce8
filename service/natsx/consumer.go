package natsx

import (
	"context"
	"sync"

	apperrs "DeepGround/tools/errs"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsxConsumer 消费端（core 订阅）
type NatsxConsumer struct {
	c   *NatsxClient
	mws []NatsxMiddleware
}

func NewNatsxConsumer(c *NatsxClient, mws ...NatsxMiddleware) *NatsxConsumer {
	return &NatsxConsumer{c: c, mws: mws}
}

// NatsxSub 单个订阅句柄
type NatsxSub struct {
	c    *NatsxClient
	sub  *nats.Subscription
	key  string
	once sync.Once
}

func (s *NatsxSub) Subject() string { return s.sub.Subject }

// Unsubscribe 可重复调用
func (s *NatsxSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.c.mu.Lock()
		delete(s.c.subs, s.key)
		s.c.mu.Unlock()
		if e := s.sub.Unsubscribe(); e != nil && e != nats.ErrConnectionClosed {
			err = apperrs.As(apperrs.ErrTransport, e)
		}
	})
	return err
}

// Subscribe 订阅 subject；消息按到达顺序在同一个回调协程里处理
func (cs *NatsxConsumer) Subscribe(subject string, h NatsxHandler) (*NatsxSub, error) {
	h = NatsxChain(h, cs.mws...)
	cb := func(m *nats.Msg) {
		err := h(context.Background(), NatsxMessage{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		})
		if err != nil {
			cs.c.log.Debug("nats handler failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	}
	sub, err := cs.c.nc.Subscribe(subject, cb)
	if err != nil {
		return nil, mapErr(err)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	key := uuid.NewString()
	cs.c.mu.Lock()
	cs.c.subs[key] = sub
	cs.c.mu.Unlock()
	return &NatsxSub{c: cs.c, sub: sub, key: key}, nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
