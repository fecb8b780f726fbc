package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

// OutboxRepo stores side-effect jobs until the relay hands them to the
// broker.
type OutboxRepo struct{ db *sql.DB }

func NewOutboxRepo(db *sql.DB) *OutboxRepo { return &OutboxRepo{db: db} }

// EnqueueTx inserts msgs within tx, so they become visible only if the
// surrounding state change commits.
func (r *OutboxRepo) EnqueueTx(ctx context.Context, tx *sql.Tx, msgs ...model.OutboxMessage) error {
	return enqueue(ctx, tx, msgs)
}

// Enqueue inserts msgs outside any caller transaction.
func (r *OutboxRepo) Enqueue(ctx context.Context, msgs ...model.OutboxMessage) error {
	return enqueue(ctx, r.db, msgs)
}

func enqueue(ctx context.Context, q dbtx, msgs []model.OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	query := `INSERT INTO outbox (id, kind, payload, status, attempts, available_at, created_at) VALUES `
	args := make([]any, 0, len(msgs)*7)
	for i, m := range msgs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?)"
		status := m.Status
		if status == "" {
			status = model.OutboxPending
		}
		args = append(args, m.ID, m.Kind, []byte(m.Payload), status, m.Attempts, m.AvailableAt.UTC(), m.CreatedAt.UTC())
	}
	_, err := q.ExecContext(ctx, query, args...)
	return translate(err)
}

// Process claims up to limit due pending jobs, skipping rows another relay
// holds, and passes each to fn. A job fn accepts is marked published; a
// rejected one is retried later with exponential backoff until it has
// been attempted maxAttempts times, after which it is marked failed. A
// rejection wrapping model.ErrJobPermanent is marked failed at once.
// Process returns the number of published jobs.
//
// fn runs while the claiming transaction is open and the row marks are
// written only at commit. If the commit fails after fn succeeded, the
// rows go back to pending and are handed out again, so delivery is at
// least once: fn must be idempotent per job id, and it should be quick
// since the claimed rows stay locked until it returns.
func (r *OutboxRepo) Process(ctx context.Context, limit, maxAttempts int, fn func(model.OutboxMessage) error) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT id, kind, payload, status, attempts, COALESCE(last_error, ''), available_at, created_at
		FROM outbox
		WHERE status = 'pending' AND available_at <= UTC_TIMESTAMP(3)
		ORDER BY created_at, id
		LIMIT ?
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, err
	}
	var batch []model.OutboxMessage
	for rows.Next() {
		var m model.OutboxMessage
		var payload []byte
		if err := rows.Scan(&m.ID, &m.Kind, &payload, &m.Status, &m.Attempts, &m.LastError, &m.AvailableAt, &m.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		m.Payload = payload
		batch = append(batch, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	published := 0
	for _, m := range batch {
		now := time.Now().UTC()
		if ferr := fn(m); ferr != nil {
			attempts := m.Attempts + 1
			status := model.OutboxPending
			if attempts >= maxAttempts || errors.Is(ferr, model.ErrJobPermanent) {
				status = model.OutboxFailed
			}
			if _, err := tx.ExecContext(ctx, `UPDATE outbox SET attempts = ?, last_error = ?, status = ?, available_at = ? WHERE id = ?`,
				attempts, ferr.Error(), status, now.Add(RetryDelay(attempts)), m.ID); err != nil {
				return published, err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE outbox SET status = 'published', attempts = attempts + 1, published_at = ? WHERE id = ?`,
			now, m.ID); err != nil {
			return published, err
		}
		published++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return published, nil
}

// Pending returns the number of jobs waiting to be published.
func (r *OutboxRepo) Pending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// PurgePublished deletes published jobs created before cutoff. Payloads
// can carry one-time codes, so they are not kept longer than needed.
func (r *OutboxRepo) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE status = 'published' AND created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RetryDelay is the backoff before attempt+1 of a job: 2^attempt seconds,
// capped at five minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 8 {
		return 5 * time.Minute
	}
	d := time.Duration(1<<attempt) * time.Second
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}
