package config

import (
	"os"
	"strings"
	"time"

	"DeepGround/service/chat"
	"DeepGround/service/kafka"
	"DeepGround/service/notify"
	"DeepGround/service/stomp"
	"DeepGround/service/storage/redis"
	"DeepGround/tools/backoff"
	"DeepGround/tools/errs"

	"gopkg.in/yaml.v2"
)

const (
	TransportStomp = "stomp"
	TransportNats  = "nats"
)

const (
	EnvConfigPath  = "DG_CONFIG_PATH"
	EnvAPIBaseURL  = "DG_API_BASE_URL"
	EnvChatWSURL   = "DG_CHAT_WS_URL"
	EnvAccessToken = "DG_ACCESS_TOKEN"
	EnvLogLevel    = "DG_LOG_LEVEL"
)

// Global 进程级配置，main 启动时覆盖
var Global = Default()

func Default() AppConfig {
	th := backoff.DefaultThresholds()
	c := AppConfig{
		Env: "dev",
		Log: LogConf{Level: "info"},
		API: APIConf{BaseURL: "http://127.0.0.1:8080", Timeout: 10 * time.Second},
		Notify: NotifyConf{
			StreamPath:       "/notifications/subscribe",
			PoorAfter:        th.PoorAfter,
			CriticalAfter:    th.CriticalAfter,
			HeartbeatTimeout: 5 * time.Minute,
			CriticalGrace:    5 * time.Minute,
			MonitorEvery:     30 * time.Second,
			SignalDebounce:   time.Second,
			Backoff:          backoff.Default(),
		},
		Chat: ChatConf{
			Transport:       TransportStomp,
			WebsocketURL:    "ws://127.0.0.1:8080/ws",
			RoomPageSize:    20,
			HistoryPageSize: 30,
			Backoff:         backoff.Default(),
		},
		Redis: RedisConf{Addr: "127.0.0.1:6379", PresenceTTL: 10 * time.Minute},
		Kafka: KafkaConf{Topic: "deepground.client-events", Version: "2.1.0"},
		Stub:  StubConf{Addr: "127.0.0.1:18080", Secret: "deepground-stub", MemberID: 1},
	}
	return c
}

// Load 读取 YAML 覆盖默认值，再叠加环境变量。path 为空时取 DG_CONFIG_PATH，
// 仍为空则只用默认值。
func Load(path string) (AppConfig, error) {
	c := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, errs.WrapMsg(err, "read config", "path", path)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, errs.WrapMsg(err, "parse config", "path", path)
		}
	}
	c.applyEnv()
	c.norm()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *AppConfig) applyEnv() {
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvChatWSURL); v != "" {
		c.Chat.WebsocketURL = v
	}
	if v := os.Getenv(EnvAccessToken); v != "" {
		c.Auth.AccessToken = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// norm 补齐零值
func (c *AppConfig) norm() {
	d := Default()
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.Timeout <= 0 {
		c.API.Timeout = d.API.Timeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if len(c.Notify.Backoff.Tiers) == 0 {
		c.Notify.Backoff = d.Notify.Backoff
	}
	if c.Chat.Transport == "" {
		c.Chat.Transport = TransportStomp
	}
	c.Chat.Transport = strings.ToLower(c.Chat.Transport)
	if len(c.Chat.Backoff.Tiers) == 0 {
		c.Chat.Backoff = d.Chat.Backoff
	}
	if c.Redis.PresenceTTL <= 0 {
		c.Redis.PresenceTTL = d.Redis.PresenceTTL
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = d.Kafka.Topic
	}
}

func (c AppConfig) Validate() error {
	if c.API.BaseURL == "" {
		return errs.ErrArgs.WrapMsg("api.base_url is empty")
	}
	switch c.Chat.Transport {
	case TransportStomp:
		if c.Chat.WebsocketURL == "" {
			return errs.ErrArgs.WrapMsg("chat.websocket_url is empty")
		}
	case TransportNats:
		if len(c.Chat.Nats.Servers) == 0 {
			return errs.ErrArgs.WrapMsg("chat.nats.servers is empty")
		}
	default:
		return errs.ErrArgs.WrapMsg("unknown chat transport", "transport", c.Chat.Transport)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errs.ErrArgs.WrapMsg("kafka enabled without brokers")
	}
	return nil
}

func (c AppConfig) NotifyConfig() notify.Config {
	return notify.Config{
		BaseURL:          c.API.BaseURL,
		StreamPath:       c.Notify.StreamPath,
		Thresholds:       backoff.Thresholds{PoorAfter: c.Notify.PoorAfter, CriticalAfter: c.Notify.CriticalAfter},
		HeartbeatTimeout: c.Notify.HeartbeatTimeout,
		CriticalGrace:    c.Notify.CriticalGrace,
		MonitorEvery:     c.Notify.MonitorEvery,
		SignalDebounce:   c.Notify.SignalDebounce,
		Backoff:          c.Notify.Backoff,
	}
}

func (c AppConfig) ChatConfig() chat.Config {
	routes := chat.StompRoutes()
	if c.Chat.Transport == TransportNats {
		routes = chat.NatsRoutes()
	}
	r := c.Chat.Routes
	for _, o := range []struct {
		dst *string
		v   string
	}{
		{&routes.Init, r.Init},
		{&routes.InitRequest, r.InitRequest},
		{&routes.Message, r.Message},
		{&routes.Read, r.Read},
		{&routes.ReadPublish, r.ReadPublish},
		{&routes.Send, r.Send},
	} {
		if o.v != "" {
			*o.dst = o.v
		}
	}
	return chat.Config{
		Routes:          routes,
		RoomPageSize:    c.Chat.RoomPageSize,
		HistoryPageSize: c.Chat.HistoryPageSize,
		Backoff:         c.Chat.Backoff,
	}
}

func (c AppConfig) StompConfig() stomp.Config {
	return stomp.Config{URL: c.Chat.WebsocketURL, Host: c.Chat.Host, HeartBeat: c.Chat.HeartBeat}
}

func (c AppConfig) RedisConfig() redis.Config {
	return redis.Config{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB, PoolSize: c.Redis.PoolSize}
}

func (c AppConfig) KafkaConfig() kafka.Config {
	return kafka.Config{
		Enabled:         c.Kafka.Enabled,
		Brokers:         c.Kafka.Brokers,
		Topic:           c.Kafka.Topic,
		Version:         c.Kafka.Version,
		AutoCreateTopic: c.Kafka.AutoCreateTopic,
	}
}
