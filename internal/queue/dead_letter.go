package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// DeadLetter is a job that exhausted its retries
type DeadLetter struct {
	JobID    uuid.UUID       `json:"job_id"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failed_at"`
}

// DeadLetterPublisher parks failed jobs for inspection and replay
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, letter *DeadLetter) error
	Close() error
}

// AMQPDeadLetter publishes dead letters to a RabbitMQ queue
type AMQPDeadLetter struct {
	publisher *Publisher
}

// NewAMQPDeadLetter declares the dead letter queue and returns its publisher
func NewAMQPDeadLetter(conn *Connection, queueName string) (*AMQPDeadLetter, error) {
	publisher, err := NewPublisher(conn, queueName)
	if err != nil {
		return nil, err
	}
	return &AMQPDeadLetter{publisher: publisher}, nil
}

// PublishDeadLetter publishes the dead letter as a persistent message
func (d *AMQPDeadLetter) PublishDeadLetter(ctx context.Context, letter *DeadLetter) error {
	body, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	return d.publisher.publish(ctx, letter.JobID.String(), body)
}

// Close closes the dead letter publisher
func (d *AMQPDeadLetter) Close() error {
	return d.publisher.Close()
}

// KafkaDeadLetter publishes dead letters to a Kafka topic, keyed by job id
type KafkaDeadLetter struct {
	writer *kafka.Writer
}

// NewKafkaDeadLetter creates a writer for the dead letter topic
func NewKafkaDeadLetter(brokers []string, topic string) *KafkaDeadLetter {
	return &KafkaDeadLetter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// PublishDeadLetter writes the dead letter to the topic
func (d *KafkaDeadLetter) PublishDeadLetter(ctx context.Context, letter *DeadLetter) error {
	body, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(letter.JobID.String()),
		Value: body,
		Time:  letter.FailedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to write dead letter to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (d *KafkaDeadLetter) Close() error {
	return d.writer.Close()
}

// DiscardDeadLetter drops dead letters after they are logged by the caller
type DiscardDeadLetter struct{}

// PublishDeadLetter does nothing
func (DiscardDeadLetter) PublishDeadLetter(context.Context, *DeadLetter) error { return nil }

// Close does nothing
func (DiscardDeadLetter) Close() error { return nil }
