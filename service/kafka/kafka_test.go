package kafka

import (
	"encoding/json"
	"errors"
	"testing"

	"DeepGround/module/chat/model"
	"DeepGround/service/eventbus"
	"DeepGround/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBaseConfig(t *testing.T) {
	cfg, err := BuildBaseConfig(Config{Compression: "lz4"})
	require.NoError(t, err)
	assert.Equal(t, sarama.V2_1_0_0, cfg.Version)
	assert.Equal(t, sarama.CompressionLZ4, cfg.Producer.Compression)
	assert.Equal(t, 5, cfg.Producer.Retry.Max)
	assert.True(t, cfg.Producer.Return.Successes)

	_, err = BuildBaseConfig(Config{Version: "x.y"})
	assert.ErrorIs(t, err, errs.ErrProtocol)
}

func TestNewSinkNeedsBrokers(t *testing.T) {
	_, err := NewSink(Config{})
	assert.ErrorIs(t, err, errs.ErrTransport)
}

func TestSinkExportsBusEvents(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	var kinds []string
	check := func(kind string) mocks.ValueChecker {
		return func(v []byte) error {
			var env map[string]any
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			if env["kind"] != kind {
				return errors.New("unexpected kind")
			}
			kinds = append(kinds, kind)
			return nil
		}
	}
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(check("presence"))
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(check("unreadCount"))
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := NewSinkWithProducer(mp, "events")
	bus := eventbus.New()
	s.Attach(bus)

	bus.Publish(eventbus.PresenceEvent{MemberID: 3, Status: model.Online})
	bus.Publish(eventbus.UnreadCountEvent{Scope: model.ScopeChat, ChatRoomID: 1, Count: 2})
	err := s.Send(eventbus.HeartbeatEvent{})
	assert.ErrorIs(t, err, errs.ErrTransport)

	assert.Equal(t, []string{"presence", "unreadCount"}, kinds)
	assert.EqualValues(t, 2, s.Sent())
	require.NoError(t, s.Close())

	// 已解除挂载，不再发送
	bus.Publish(eventbus.PresenceEvent{MemberID: 3})
}
