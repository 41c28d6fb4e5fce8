package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"DeepGround/service/chat"
	"DeepGround/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKeepsTunedConstants(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	n := c.NotifyConfig()
	assert.Equal(t, 60*time.Second, n.Thresholds.PoorAfter)
	assert.Equal(t, 180*time.Second, n.Thresholds.CriticalAfter)
	assert.Equal(t, 5*time.Minute, n.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, n.MonitorEvery)
	assert.Equal(t, time.Second, n.SignalDebounce)
	assert.Equal(t, 50, n.Backoff.MaxAttempts)
	assert.Equal(t, chat.StompRoutes(), c.ChatConfig().Routes)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: http://api.local/
  timeout: 3s
notify:
  poor_after: 30s
chat:
  transport: NATS
  nats:
    servers: ["nats://127.0.0.1:4222"]
  routes:
    send: chatrooms.%d.post
  backoff:
    tiers:
      - from_attempt: 0
        delay: 250ms
    max_attempts: 3
kafka:
  enabled: true
  brokers: ["127.0.0.1:9092"]
`), 0o600))
	t.Setenv(EnvAccessToken, "tok")
	t.Setenv(EnvLogLevel, "debug")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://api.local", c.API.BaseURL)
	assert.Equal(t, 3*time.Second, c.API.Timeout)
	assert.Equal(t, "tok", c.Auth.AccessToken)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 30*time.Second, c.NotifyConfig().Thresholds.PoorAfter)
	// 未配置的字段保持默认
	assert.Equal(t, 180*time.Second, c.NotifyConfig().Thresholds.CriticalAfter)

	cc := c.ChatConfig()
	assert.Equal(t, chat.NatsRoutes().Message, cc.Routes.Message)
	assert.Equal(t, "chatrooms.%d.post", cc.Routes.Send)
	assert.Equal(t, 250*time.Millisecond, cc.Backoff.Delay(7))
	assert.True(t, cc.Backoff.Exhausted(3))
	assert.Equal(t, []string{"127.0.0.1:9092"}, c.KafkaConfig().Brokers)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Chat.Transport = "mqtt"
	assert.ErrorIs(t, c.Validate(), errs.ErrArgs)

	c = Default()
	c.Chat.Transport = TransportNats
	assert.ErrorIs(t, c.Validate(), errs.ErrArgs)

	c = Default()
	c.Kafka.Enabled = true
	assert.ErrorIs(t, c.Validate(), errs.ErrArgs)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
