package consumer

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	log "github.com/sirupsen/logrus"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, message []byte) error
}

// Client is the subset of *kafka.Consumer used by KafkaConsumer.
type Client interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

// Config returns the consumer settings. Offsets are committed manually after
// each message has been handled.
func Config(bootstrapServers, groupID string) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	}
}

type KafkaConsumer struct {
	consumer Client
	topic    string
	handler  MessageHandler
}

func NewKafkaConsumer(consumer Client, topic string, handler MessageHandler) (*KafkaConsumer, error) {
	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		return nil, err
	}
	log.WithField("topic", topic).Info("Subscribed to Kafka topic")
	return &KafkaConsumer{consumer: consumer, topic: topic, handler: handler}, nil
}

// Start polls until ctx is cancelled or a fatal Kafka error occurs. Every
// message is committed once handled, including ones the handler rejects.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			log.Info("Kafka consumer stopping due to context cancellation")
			return nil
		default:
			ev := c.consumer.Poll(100)
			if ev == nil {
				continue
			}

			switch e := ev.(type) {
			case *kafka.Message:
				c.handle(ctx, e)
			case kafka.Error:
				log.WithError(e).Error("Kafka error")
				if e.IsFatal() {
					return e
				}
			}
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, msg *kafka.Message) {
	fields := log.Fields{"topic": c.topic}
	if msg.TopicPartition.Offset >= 0 {
		fields["partition"] = msg.TopicPartition.Partition
		fields["offset"] = msg.TopicPartition.Offset.String()
	}

	if err := c.handler.HandleMessage(ctx, msg.Value); err != nil {
		log.WithFields(fields).WithError(err).Error("Failed to handle message, skipping")
	}
	if _, err := c.consumer.CommitMessage(msg); err != nil {
		log.WithFields(fields).WithError(err).Warn("Failed to commit Kafka offset")
	}
}

func (c *KafkaConsumer) Close() error {
	return c.consumer.Close()
}
