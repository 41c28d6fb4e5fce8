package chat

import (
	"DeepGround/tools/backoff"
)

// Routes are destination templates taking the room id.
type Routes struct {
	Init string `yaml:"init"`
	// InitRequest is published after subscribing when the broker does not
	// answer a subscription by itself. Empty for STOMP.
	InitRequest string `yaml:"init_request"`
	Message     string `yaml:"message"`
	Read        string `yaml:"read"`
	ReadPublish string `yaml:"read_publish"`
	Send        string `yaml:"send"`
}

func StompRoutes() Routes {
	return Routes{
		Init:        "/app/chatrooms/%d",
		Message:     "/topic/chatrooms/%d/message",
		Read:        "/topic/chatrooms/%d/read",
		ReadPublish: "/app/chatrooms/%d/read",
		Send:        "/app/chatrooms/%d/send",
	}
}

func NatsRoutes() Routes {
	return Routes{
		Init:        "chatrooms.%d.init",
		InitRequest: "chatrooms.%d.init.request",
		Message:     "chatrooms.%d.message",
		Read:        "chatrooms.%d.read",
		ReadPublish: "chatrooms.%d.read.request",
		Send:        "chatrooms.%d.send",
	}
}

type Config struct {
	Routes          Routes
	RoomPageSize    int
	HistoryPageSize int
	Backoff         backoff.Policy
}

func DefaultConfig() Config {
	c := Config{}
	c.norm()
	return c
}

func (c *Config) norm() {
	if c.Routes.Init == "" {
		c.Routes = StompRoutes()
	}
	if c.RoomPageSize <= 0 {
		c.RoomPageSize = 20
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = 30
	}
	if len(c.Backoff.Tiers) == 0 {
		c.Backoff = backoff.Default()
	}
}
