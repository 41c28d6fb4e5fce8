package chat

import (
	"context"

	"DeepGround/service/natsx"
	"DeepGround/service/stomp"

	"go.uber.org/zap"
)

// MessageHandler receives the raw body published to a destination.
type MessageHandler func(body []byte)

type Subscription interface {
	Unsubscribe() error
}

// Broker is one authenticated pub/sub session.
type Broker interface {
	Subscribe(destination string, h MessageHandler) (Subscription, error)
	Publish(destination string, body []byte) error
	// Done is closed when the session ends; Err tells why (nil after Close).
	Done() <-chan struct{}
	Err() error
	Close() error
}

// BrokerDialer opens a session with the given bearer token.
type BrokerDialer func(ctx context.Context, token string) (Broker, error)

// StompDialer talks STOMP 1.2 over a WebSocket.
func StompDialer(cfg stomp.Config, log *zap.Logger) BrokerDialer {
	return func(ctx context.Context, token string) (Broker, error) {
		c, err := stomp.Dial(ctx, cfg, token, log)
		if err != nil {
			return nil, err
		}
		return stompBroker{c: c}, nil
	}
}

type stompBroker struct{ c *stomp.Client }

func (b stompBroker) Subscribe(destination string, h MessageHandler) (Subscription, error) {
	sub, err := b.c.Subscribe(destination, func(f *stomp.Frame) { h(f.Body) })
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (b stompBroker) Publish(destination string, body []byte) error {
	return b.c.Send(destination, body)
}

func (b stompBroker) Done() <-chan struct{} { return b.c.Done() }
func (b stompBroker) Err() error            { return b.c.Err() }
func (b stompBroker) Close() error          { return b.c.Close() }

// NatsDialer uses NATS core subjects.
func NatsDialer(cfg natsx.NatsxConfig, log *zap.Logger) BrokerDialer {
	return func(ctx context.Context, token string) (Broker, error) {
		m, err := natsx.Dial(ctx, cfg, token, log)
		if err != nil {
			return nil, err
		}
		return natsBroker{m: m}, nil
	}
}

type natsBroker struct{ m *natsx.NatsManager }

func (b natsBroker) Subscribe(destination string, h MessageHandler) (Subscription, error) {
	sub, err := b.m.Subscribe(destination, func(_ context.Context, msg natsx.NatsxMessage) error {
		h(msg.Data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (b natsBroker) Publish(destination string, body []byte) error {
	return b.m.Publish(destination, body)
}

func (b natsBroker) Done() <-chan struct{} { return b.m.Done() }
func (b natsBroker) Err() error            { return b.m.Err() }
func (b natsBroker) Close() error          { return b.m.Close() }
