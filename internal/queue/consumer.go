package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler executes one job.
type Handler interface {
	Execute(ctx context.Context, kind string, payload json.RawMessage) error
}

// Retrier parks a failed job for a later attempt.
type Retrier interface {
	Retry(ctx context.Context, j Job, attempt int) error
}

// Consumer takes jobs off the work queue and runs them through a
// Handler. Failed jobs go to the retry queue until maxAttempts is
// reached; after that they are logged and dropped.
type Consumer struct {
	url         string
	queue       string
	maxAttempts int
	handler     Handler
	retrier     Retrier
	log         *zap.Logger
}

func NewConsumer(url, queue string, maxAttempts int, handler Handler, retrier Retrier, log *zap.Logger) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Consumer{url: url, queue: queue, maxAttempts: maxAttempts, handler: handler, retrier: retrier, log: log}
}

// Run consumes until ctx is cancelled, reconnecting with backoff when
// the broker goes away.
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("job consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("job consumer: loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("job consumer: set QoS failed", zap.Error(err))
	}
	if err := declareTopology(ch, c.queue, DefaultRetryDelay); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

// outcome is what happens to a delivery after its handler ran.
type outcome int

const (
	ack outcome = iota
	retry
	drop
)

func decide(err error, attempt, maxAttempts int) outcome {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, ErrPermanent):
		return drop
	case attempt+1 >= maxAttempts:
		return drop
	default:
		return retry
	}
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	attempt := attemptOf(d.Headers)
	var j Job
	if err := json.Unmarshal(d.Body, &j); err != nil {
		c.log.Error("job consumer: undecodable message dropped", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	log := c.log.With(zap.String("job_id", j.ID), zap.String("kind", j.Kind), zap.Int("attempt", attempt+1))

	err := c.handler.Execute(ctx, j.Kind, j.Payload)
	switch decide(err, attempt, c.maxAttempts) {
	case ack:
		_ = d.Ack(false)
	case retry:
		log.Warn("job failed, scheduling retry", zap.Error(err))
		if rerr := c.retrier.Retry(ctx, j, attempt+1); rerr != nil {
			// Leave it to the broker to redeliver.
			log.Error("job retry publish failed", zap.Error(rerr))
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
	case drop:
		log.Error("job failed permanently, dropping", zap.Error(err))
		_ = d.Nack(false, false)
	}
}
