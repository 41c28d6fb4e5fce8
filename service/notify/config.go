package notify

import (
	"time"

	"DeepGround/tools/backoff"
)

type Config struct {
	BaseURL    string
	StreamPath string

	Thresholds backoff.Thresholds
	// HeartbeatTimeout force-closes a stream that has been silent this long.
	HeartbeatTimeout time.Duration
	// CriticalGrace force-closes a critical stream silent for longer than this.
	CriticalGrace  time.Duration
	MonitorEvery   time.Duration
	SignalDebounce time.Duration
	Backoff        backoff.Policy
}

func DefaultConfig() Config {
	c := Config{}
	c.norm()
	return c
}

func (c *Config) norm() {
	if c.StreamPath == "" {
		c.StreamPath = "/notifications/subscribe"
	}
	if c.Thresholds.PoorAfter <= 0 && c.Thresholds.CriticalAfter <= 0 {
		c.Thresholds = backoff.DefaultThresholds()
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Minute
	}
	if c.CriticalGrace <= 0 {
		c.CriticalGrace = 5 * time.Minute
	}
	if c.MonitorEvery <= 0 {
		c.MonitorEvery = 30 * time.Second
	}
	if c.SignalDebounce <= 0 {
		c.SignalDebounce = time.Second
	}
	if len(c.Backoff.Tiers) == 0 {
		c.Backoff = backoff.Default()
	}
}

func (c Config) streamURL() string { return c.BaseURL + c.StreamPath }
