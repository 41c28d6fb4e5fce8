package kafka

import (
	"encoding/json"
	"sync"
	"time"

	"DeepGround/service/eventbus"
	"DeepGround/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

// Envelope 是导出的一条总线事件。
type Envelope struct {
	Kind  eventbus.Kind  `json:"kind"`
	At    time.Time      `json:"at"`
	Event eventbus.Event `json:"event"`
}

// Sink 把总线事件转发到 topic，以事件类型作为 key。
type Sink struct {
	prod   sarama.SyncProducer
	client sarama.Client
	topic  string
	now    func() time.Time

	mu    sync.Mutex
	unsub func()
	sent  int64
}

// NewSink 连接集群，必要时建 topic
func NewSink(c Config) (*Sink, error) {
	c.norm()
	if len(c.Brokers) == 0 {
		return nil, errs.ErrTransport.WrapMsg("kafka brokers missing")
	}
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.As(errs.ErrTransport, err)
	}
	if c.AutoCreateTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.As(errs.ErrTransport, err)
		}
		// admin 与 client 共用连接，这里关闭会连带关闭 client
		if err := EnsureTopic(admin, c); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.As(errs.ErrTransport, err)
	}
	s := NewSinkWithProducer(p, c.Topic)
	s.client = client
	return s, nil
}

// NewSinkWithProducer 包装已有的 producer。
func NewSinkWithProducer(p sarama.SyncProducer, topic string) *Sink {
	return &Sink{prod: p, topic: topic, now: time.Now}
}

// Attach 导出 bus 上发布的所有事件，直到调用返回的函数。
func (s *Sink) Attach(bus *eventbus.Bus) func() {
	unsub := bus.SubscribeAll(func(ev eventbus.Event) {
		if err := s.Send(ev); err != nil {
			glog.Warningf("kafka export failed kind=%s err=%v", ev.Kind(), err)
		}
	})
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	return unsub
}

// Send 同步导出一条事件。
func (s *Sink) Send(ev eventbus.Event) error {
	b, err := json.Marshal(Envelope{Kind: ev.Kind(), At: s.now(), Event: ev})
	if err != nil {
		return errs.As(errs.ErrProtocol, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.Kind()),
		Value: sarama.ByteEncoder(b),
	}
	partition, offset, err := s.prod.SendMessage(msg)
	if err != nil {
		return errs.As(errs.ErrTransport, err)
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	if glog.V(2) {
		glog.Infof("kafka export kind=%s partition=%d offset=%d", ev.Kind(), partition, offset)
	}
	return nil
}

func (s *Sink) Sent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *Sink) Close() error {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	err := s.prod.Close()
	if s.client != nil && !s.client.Closed() {
		_ = s.client.Close()
	}
	return err
}
