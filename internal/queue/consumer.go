package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobHandler processes one event job. A returned error requeues the delivery.
type JobHandler func(ctx context.Context, job *EventJob) error

// Consumer consumes event jobs from a RabbitMQ queue with a fixed pool of workers
type Consumer struct {
	conn        *Connection
	queueName   string
	handler     JobHandler
	concurrency int
	log         *zap.SugaredLogger
}

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, concurrency int, handler JobHandler, log *zap.SugaredLogger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if err := declareQueue(ch, queueName); err != nil {
		return nil, err
	}

	return &Consumer{
		conn:        conn,
		queueName:   queueName,
		handler:     handler,
		concurrency: concurrency,
		log:         log,
	}, nil
}

// Run consumes until ctx is cancelled or the delivery channel closes. In-flight
// jobs finish before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	// one unacked delivery per worker
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual acknowledgement)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.Infow("consumer started", "queue", c.queueName, "workers", c.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.concurrency; i++ {
		worker := i
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-msgs:
					if !ok {
						c.log.Warnw("delivery channel closed", "worker", worker)
						return errors.New("delivery channel closed")
					}
					c.deliver(gctx, d)
				}
			}
		})
	}

	err = g.Wait()
	c.log.Infow("consumer stopped", "queue", c.queueName)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	var job EventJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		// unparseable jobs can never succeed
		c.log.Errorw("dropping malformed job", "message_id", d.MessageId, "error", err)
		if err := d.Nack(false, false); err != nil {
			c.log.Errorw("failed to nack delivery", "error", err)
		}
		return
	}

	// a shutdown must not abort a job midway
	if err := c.handler(context.WithoutCancel(ctx), &job); err != nil {
		c.log.Errorw("job failed, requeueing", "job_id", job.ID, "error", err)
		if err := d.Nack(false, true); err != nil {
			c.log.Errorw("failed to nack delivery", "error", err)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		c.log.Errorw("failed to ack delivery", "job_id", job.ID, "error", err)
	}
}
