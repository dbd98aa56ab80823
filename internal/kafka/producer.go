package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// DLQSuffix is appended to a topic name to form its dead-letter topic.
const DLQSuffix = ".dlq"

// Producer writes keyed messages. It implements outbox.Channel.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, writeTimeout time.Duration) *Producer {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           writeTimeout,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish writes payload to topic. Messages with the same key land on the
// same partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
}

// SendToDLQ copies m to the dead-letter topic of its source topic, keeping
// key and headers and recording the failure reason.
func (p *Producer) SendToDLQ(ctx context.Context, m Message, reason string) error {
	headers := append([]kafka.Header(nil), m.Headers...)
	headers = append(headers,
		kafka.Header{Key: "x-dlq-reason", Value: []byte(reason)},
		kafka.Header{Key: "x-source-topic", Value: []byte(m.Topic)},
	)
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   m.Topic + DLQSuffix,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	})
}

func (p *Producer) Close() error { return p.w.Close() }
