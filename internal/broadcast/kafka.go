package broadcast

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaMirror copies seat events to a Kafka topic for consumers that need a
// replayable log, such as occupancy analytics.  Writes are asynchronous.
type KafkaMirror struct {
	writer *kafka.Writer
}

// NewKafkaMirror returns a mirror writing to topic on brokers.  Messages
// are keyed by showtime so one showtime's events stay in one partition.
func NewKafkaMirror(brokers []string, topic string) *KafkaMirror {
	return &KafkaMirror{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}}
}

func (m *KafkaMirror) Mirror(ctx context.Context, key string, payload []byte) error {
	return m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	})
}

func (m *KafkaMirror) Close() error { return m.writer.Close() }
