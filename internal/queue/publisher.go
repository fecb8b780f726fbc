package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

// DefaultRetryDelay is how long a failed job waits in the retry queue.
const DefaultRetryDelay = 5 * time.Second

// declareTopology declares the durable work queue and its retry queue.
// Messages in the retry queue expire after delay and dead-letter back
// into the work queue.
func declareTopology(ch *amqp.Channel, queue string, delay time.Duration) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	_, err := ch.QueueDeclare(retryQueue(queue), true, false, false, false, amqp.Table{
		"x-message-ttl":             int32(delay / time.Millisecond),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	})
	if err != nil {
		return fmt.Errorf("declare %s: %w", retryQueue(queue), err)
	}
	return nil
}

func retryQueue(queue string) string { return queue + ".retry" }

// Publisher keeps one connection open and publishes persistent job
// messages. A broken connection is re-dialled on the next publish.
type Publisher struct {
	url   string
	queue string
	delay time.Duration
	log   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url, queue string, log *zap.Logger) *Publisher {
	return &Publisher{url: url, queue: queue, delay: DefaultRetryDelay, log: log}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq dial: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := declareTopology(ch, p.queue, p.delay); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) publish(ctx context.Context, routingKey string, j Job, attempt int) error {
	msg, err := publishing(j, attempt)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", routingKey, false, false, msg); err != nil {
		_ = ch.Close()
		p.ch = nil
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// Dispatch publishes an outbox row as a first-attempt job.
func (p *Publisher) Dispatch(ctx context.Context, m model.OutboxMessage) error {
	return p.publish(ctx, p.queue, jobFromOutbox(m), 0)
}

// Retry parks a failed job in the retry queue with its attempt counter.
func (p *Publisher) Retry(ctx context.Context, j Job, attempt int) error {
	return p.publish(ctx, retryQueue(p.queue), j, attempt)
}

// Ping dials the broker if needed.
func (p *Publisher) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.channel()
	return err
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
