package natsx

import (
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// MsgIDHeader 标准去重头
const MsgIDHeader = "Nats-Msg-Id"

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish core 发布
func (p *NatsxProducer) Publish(subject string, data []byte, hdr map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	if err := p.c.nc.PublishMsg(msg); err != nil {
		return mapErr(err)
	}
	return nil
}

// PublishOnce 带 Nats-Msg-Id 的发布；msgID 为空则自动生成
func (p *NatsxProducer) PublishOnce(subject string, data []byte, hdr map[string]string, msgID string) error {
	if hdr == nil {
		hdr = map[string]string{}
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	hdr[MsgIDHeader] = msgID
	return p.Publish(subject, data, hdr)
}
