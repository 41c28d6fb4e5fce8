package config

import (
	"time"

	"DeepGround/module/chat/model"
	"DeepGround/service/natsx"
	"DeepGround/tools/backoff"
)

type AppConfig struct {
	Env    string       `yaml:"env"`
	Log    LogConf      `yaml:"log"`
	Auth   AuthConf     `yaml:"auth"`
	API    APIConf      `yaml:"api"`
	Notify NotifyConf   `yaml:"notify"`
	Chat   ChatConf     `yaml:"chat"`
	Redis  RedisConf    `yaml:"redis"`
	Kafka  KafkaConf    `yaml:"kafka"`
	Stub   StubConf     `yaml:"stub"`
	Rooms  []RoomPreset `yaml:"rooms"` // -stub 模式下预置的房间
}

type LogConf struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type AuthConf struct {
	// AccessToken 为空时从 DG_ACCESS_TOKEN 读取
	AccessToken string `yaml:"access_token"`
}

type APIConf struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type NotifyConf struct {
	StreamPath       string         `yaml:"stream_path"`
	PoorAfter        time.Duration  `yaml:"poor_after"`
	CriticalAfter    time.Duration  `yaml:"critical_after"`
	HeartbeatTimeout time.Duration  `yaml:"heartbeat_timeout"`
	CriticalGrace    time.Duration  `yaml:"critical_grace"`
	MonitorEvery     time.Duration  `yaml:"monitor_every"`
	SignalDebounce   time.Duration  `yaml:"signal_debounce"`
	Backoff          backoff.Policy `yaml:"backoff"`
}

type ChatConf struct {
	Transport       string            `yaml:"transport"` // stomp | nats
	WebsocketURL    string            `yaml:"websocket_url"`
	Host            string            `yaml:"host"`
	HeartBeat       time.Duration     `yaml:"heartbeat"`
	Nats            natsx.NatsxConfig `yaml:"nats"`
	Routes          RoutesConf        `yaml:"routes"`
	RoomPageSize    int               `yaml:"room_page_size"`
	HistoryPageSize int               `yaml:"history_page_size"`
	Backoff         backoff.Policy    `yaml:"backoff"`
}

// RoutesConf 覆盖默认路由，空字段沿用所选 transport 的默认值
type RoutesConf struct {
	Init        string `yaml:"init"`
	InitRequest string `yaml:"init_request"`
	Message     string `yaml:"message"`
	Read        string `yaml:"read"`
	ReadPublish string `yaml:"read_publish"`
	Send        string `yaml:"send"`
}

type RedisConf struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

type KafkaConf struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	Version         string   `yaml:"version"`
	AutoCreateTopic bool     `yaml:"auto_create_topic"`
}

type StubConf struct {
	Addr     string `yaml:"addr"`
	Secret   string `yaml:"secret"`
	MemberID int64  `yaml:"member_id"`
}

type RoomPreset struct {
	ID   int64              `yaml:"id"`
	Kind model.ChatRoomKind `yaml:"kind"`
	Name string             `yaml:"name"`
}
