package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

// Tx is the set of writes the reservation engine and the order lifecycle
// perform atomically. Every method runs on the same database transaction.
type Tx interface {
	// InstrumentsForUpdate loads and row-locks the given instruments.
	// Missing ids are simply absent from the result.
	InstrumentsForUpdate(ctx context.Context, ids []uint64) ([]model.Instrument, error)
	UpdateInstrumentState(ctx context.Context, id uint64, status model.InstrumentStatus, stock int) error
	// CountPendingOrders counts pending_payment orders of a customer (when
	// customerID is set) or of a guest email, locking the counted rows.
	CountPendingOrders(ctx context.Context, customerID *uint64, guestEmail string) (int, error)
	InsertOrder(ctx context.Context, o *model.Order) error
	OrderForUpdate(ctx context.Context, id uint64) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	Enqueue(ctx context.Context, msgs ...model.OutboxMessage) error
}

// Store opens transactions spanning the instrument, order and outbox
// repositories.
type Store struct {
	db          *sql.DB
	instruments *InstrumentRepo
	orders      *OrderRepo
	outbox      *OutboxRepo
}

func NewStore(db *sql.DB, instruments *InstrumentRepo, orders *OrderRepo, outbox *OutboxRepo) *Store {
	return &Store{db: db, instruments: instruments, orders: orders, outbox: outbox}
}

// WithinTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise; fn's error is returned unchanged.
func (s *Store) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&sqlTx{tx: tx, s: s}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

type sqlTx struct {
	tx *sql.Tx
	s  *Store
}

func (t *sqlTx) InstrumentsForUpdate(ctx context.Context, ids []uint64) ([]model.Instrument, error) {
	return t.s.instruments.ForUpdateTx(ctx, t.tx, ids)
}

func (t *sqlTx) UpdateInstrumentState(ctx context.Context, id uint64, status model.InstrumentStatus, stock int) error {
	return t.s.instruments.UpdateStateTx(ctx, t.tx, id, status, stock)
}

func (t *sqlTx) CountPendingOrders(ctx context.Context, customerID *uint64, guestEmail string) (int, error) {
	return t.s.orders.CountPendingTx(ctx, t.tx, customerID, guestEmail)
}

func (t *sqlTx) InsertOrder(ctx context.Context, o *model.Order) error {
	return t.s.orders.CreateTx(ctx, t.tx, o)
}

func (t *sqlTx) OrderForUpdate(ctx context.Context, id uint64) (*model.Order, error) {
	return t.s.orders.ForUpdateTx(ctx, t.tx, id)
}

func (t *sqlTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	return t.s.orders.UpdateTx(ctx, t.tx, o)
}

func (t *sqlTx) Enqueue(ctx context.Context, msgs ...model.OutboxMessage) error {
	return t.s.outbox.EnqueueTx(ctx, t.tx, msgs...)
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// placeholders returns "?,?,…" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

func idArgs(ids []uint64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
