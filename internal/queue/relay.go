package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/metrics"
	"github.com/iliyamo/luthier-storefront/internal/model"
)

// Outbox is the outbox table as the relay sees it.
type Outbox interface {
	Process(ctx context.Context, limit, maxAttempts int, fn func(model.OutboxMessage) error) (int, error)
	Pending(ctx context.Context) (int, error)
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
}

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Retention   time.Duration
}

// Relay periodically hands due outbox rows to a Sink.
type Relay struct {
	outbox    Outbox
	sink      Sink
	cfg       RelayConfig
	log       *zap.Logger
	lastPurge time.Time
}

func NewRelay(outbox Outbox, sink Sink, cfg RelayConfig, log *zap.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &Relay{outbox: outbox, sink: sink, cfg: cfg, log: log}
}

// Run ticks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick drains due jobs until a batch comes back short, then refreshes
// the pending gauge and purges old published rows about once an hour.
func (r *Relay) Tick(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.outbox.Process(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts, func(m model.OutboxMessage) error {
			err := r.sink.Dispatch(ctx, m)
			if err != nil {
				r.log.Warn("outbox job not delivered",
					zap.String("job_id", m.ID),
					zap.String("kind", m.Kind),
					zap.Int("attempts", m.Attempts+1),
					zap.Error(err))
			}
			return err
		})
		if err != nil {
			r.log.Error("outbox relay", zap.Error(err))
			break
		}
		if n < r.cfg.BatchSize {
			break
		}
	}

	if pending, err := r.outbox.Pending(ctx); err == nil {
		metrics.OutboxPending.Set(float64(pending))
	}

	if time.Since(r.lastPurge) >= time.Hour {
		r.lastPurge = time.Now()
		if n, err := r.outbox.PurgePublished(ctx, time.Now().Add(-r.cfg.Retention)); err != nil {
			r.log.Warn("outbox purge", zap.Error(err))
		} else if n > 0 {
			r.log.Info("outbox purged", zap.Int64("rows", n))
		}
	}
}
