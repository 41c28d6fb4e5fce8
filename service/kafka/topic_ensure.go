package kafka

import (
	"errors"

	"DeepGround/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

// EnsureTopic 不存在就按配置创建
func EnsureTopic(admin sarama.ClusterAdmin, c Config) error {
	c.norm()
	descs, err := admin.DescribeTopics([]string{c.Topic})
	if err == nil && len(descs) == 1 && descs[0].Err == sarama.ErrNoError {
		glog.Infof("[Topic] exists: %s (partitions=%d)", c.Topic, len(descs[0].Partitions))
		return nil
	}
	td := &sarama.TopicDetail{
		NumPartitions:     c.Partitions,
		ReplicationFactor: c.ReplicationFactor,
		ConfigEntries: map[string]*string{
			"cleanup.policy":   strPtr("delete"),
			"compression.type": strPtr("producer"),
		},
	}
	if err := admin.CreateTopic(c.Topic, td, false); err != nil {
		var te *sarama.TopicError
		if errors.Is(err, sarama.ErrTopicAlreadyExists) || (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) {
			glog.Infof("[Topic] exists (race): %s", c.Topic)
			return nil
		}
		return errs.As(errs.ErrTransport, err)
	}
	glog.Infof("[Topic] created: %s (partitions=%d, rf=%d)", c.Topic, c.Partitions, c.ReplicationFactor)
	return nil
}

func strPtr(s string) *string { return &s }
