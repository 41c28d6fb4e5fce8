package kafka

import (
	"strings"
	"time"

	"DeepGround/tools/errs"

	"github.com/Shopify/sarama"
)

// Config 事件导出配置
type Config struct {
	Enabled           bool     `yaml:"enabled"`
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	Version           string   `yaml:"version"`     // 例如 "2.1.0"
	Compression       string   `yaml:"compression"` // none/snappy/lz4/zstd
	Retries           int      `yaml:"retries"`
	AutoCreateTopic   bool     `yaml:"auto_create_topic"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor"`
}

func (c *Config) norm() {
	if c.Topic == "" {
		c.Topic = "deepground.client-events"
	}
	if c.Version == "" {
		c.Version = "2.1.0"
	}
	if c.Retries <= 0 {
		c.Retries = 5
	}
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
}

// BuildBaseConfig 生产端基础配置
func BuildBaseConfig(c Config) (*sarama.Config, error) {
	c.norm()
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, errs.ErrProtocol.WrapMsg("bad kafka version", "version", c.Version)
	}
	cfg := sarama.NewConfig()
	cfg.Version = version

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ Key 控制分区，同类事件保持顺序
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}
