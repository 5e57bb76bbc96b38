package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes rendered messages to a topic for an external mail relay.
type KafkaSender struct {
	writer messageWriter
}

// NewKafkaSender constructs a Kafka-backed Sender.
func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

// Send publishes msg keyed by its first recipient so one mailbox keeps ordering.
func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	var key []byte
	if len(msg.To) > 0 {
		key = []byte(msg.To[0])
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: payload})
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
