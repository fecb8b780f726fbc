// Package queue moves outbox jobs through RabbitMQ and executes them.
//
// The relay drains the outbox table into the broker; the consumer takes
// jobs off the broker and hands them to the executor. Without a broker
// the relay hands jobs to the executor directly.
package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

const attemptHeader = "x-attempt"

// Job is the message body published for an outbox row.
type Job struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func jobFromOutbox(m model.OutboxMessage) Job {
	return Job{ID: m.ID, Kind: m.Kind, Payload: m.Payload, CreatedAt: m.CreatedAt}
}

// Sink accepts outbox jobs from the relay.
type Sink interface {
	Dispatch(ctx context.Context, m model.OutboxMessage) error
}

// ErrPermanent marks a job failure that retrying cannot fix.
var ErrPermanent = model.ErrJobPermanent

func publishing(j Job, attempt int) (amqp.Publishing, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    j.ID,
		Type:         j.Kind,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
		Body:         body,
	}, nil
}

// attemptOf reads the attempt counter of a delivery; first deliveries
// carry 0.
func attemptOf(h amqp.Table) int {
	switch v := h[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}
