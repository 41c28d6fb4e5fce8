package natsx

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NatsManager 统一门面：一个连接 + 生产 + 消费
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxProducer
	consumer *NatsxConsumer
}

// Dial 建立连接；默认挂上幂等中间件
func Dial(_ context.Context, cfg NatsxConfig, token string, log *zap.Logger, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg, token, log)
	if err != nil {
		return nil, err
	}
	mws := append([]NatsxMiddleware{NatsxIdemMiddleware(NewMemIdem(5*time.Minute), 0)}, middlewares...)
	return &NatsManager{
		client:   c,
		producer: NewNatsxProducer(c),
		consumer: NewNatsxConsumer(c, mws...),
	}, nil
}

// Close 释放资源
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) Done() <-chan struct{} { return m.client.Done() }

func (m *NatsManager) Err() error { return m.client.Err() }

// Publish 生产消息，带 msgID 以便对端去重
func (m *NatsManager) Publish(subject string, data []byte) error {
	return m.producer.PublishOnce(subject, data, map[string]string{"Content-Type": "application/json"}, "")
}

// Subscribe 订阅 subject
func (m *NatsManager) Subscribe(subject string, h NatsxHandler) (*NatsxSub, error) {
	return m.consumer.Subscribe(subject, h)
}
