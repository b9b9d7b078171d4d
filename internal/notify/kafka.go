package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the channel uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel publishes notifications as JSON records keyed by symbol, so
// the events of one pair stay ordered within a partition.
type KafkaChannel struct {
	topic  string
	writer messageWriter
}

// NewKafkaChannel creates a channel writing to topic on brokers.
func NewKafkaChannel(brokers []string, topic string) (*KafkaChannel, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	return &KafkaChannel{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
			WriteTimeout: 10 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}, nil
}

// Name returns the name of the channel.
func (k *KafkaChannel) Name() string {
	return "kafka:" + k.topic
}

// Send publishes one record.
func (k *KafkaChannel) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling kafka payload: %w", err)
	}
	key := n.Symbol
	if key == "" {
		key = string(n.Type)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  n.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaChannel) Close() error {
	return k.writer.Close()
}
