package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

var instrumentCols = []string{"id", "slug", "type", "model", "price", "year", "status", "stock",
	"specs", "main_image", "gallery", "audio_url", "created_at", "updated_at", "title", "notes", "locale"}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestTranslateErrors(t *testing.T) {
	assert.ErrorIs(t, translate(sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, translate(&mysql.MySQLError{Number: 1062}), ErrDuplicate)
	assert.ErrorIs(t, translate(&mysql.MySQLError{Number: 1451}), ErrConflict)
	assert.ErrorIs(t, translate(&mysql.MySQLError{Number: 1452}), ErrNotFound)
	other := errors.New("boom")
	assert.Equal(t, other, translate(other))
	assert.NoError(t, translate(nil))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?,?,?", placeholders(3))
}

func TestInstrumentsForUpdateWithinTx(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC()
	store := NewStore(db, NewInstrumentRepo(db, "en"), NewOrderRepo(db), NewOutboxRepo(db))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM instruments i .* WHERE i.id IN \(\?,\?\) ORDER BY i.id FOR UPDATE OF i`).
		WithArgs("en", "en", uint64(7), uint64(9)).
		WillReturnRows(sqlmock.NewRows(instrumentCols).
			AddRow(7, "om-28", "guitar", "OM-28", "3500.00", 2023, "available", 1,
				[]byte(`[{"key":"Top","value":"Spruce"}]`), "/img/7.jpg", []byte(`["/img/7b.jpg"]`), nil,
				now, now, "OM Guitar", "Warm tone", "en"))
	mock.ExpectCommit()

	var got []model.Instrument
	err := store.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		got, err = tx.InstrumentsForUpdate(context.Background(), []uint64{7, 9})
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "OM Guitar", got[0].Title)
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(3500)))
	assert.Equal(t, model.InstrumentAvailable, got[0].Status)
	assert.Equal(t, []model.Spec{{Key: "Top", Value: "Spruce"}}, got[0].Specs)
	assert.Equal(t, []string{"/img/7b.jpg"}, got[0].Gallery)
	assert.Nil(t, got[0].AudioURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db, NewInstrumentRepo(db, "en"), NewOrderRepo(db), NewOutboxRepo(db))

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("stop")
	err := store.WithinTx(context.Background(), func(Tx) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountPendingByCustomerAndGuest(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM orders WHERE customer_id = \? AND status = 'pending_payment' FOR UPDATE`).
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectQuery(`SELECT id FROM orders WHERE guest_email = \? AND status = 'pending_payment' FOR UPDATE`).
		WithArgs("guest@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	id := uint64(5)
	n, err := repo.CountPendingTx(context.Background(), tx, &id, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.CountPendingTx(context.Background(), tx, nil, " Guest@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteInstrumentReferenced(t *testing.T) {
	db, mock := newMock(t)
	repo := NewInstrumentRepo(db, "en")

	mock.ExpectExec(`DELETE FROM instruments WHERE id = \?`).
		WithArgs(uint64(3)).
		WillReturnError(&mysql.MySQLError{Number: 1451, Message: "Cannot delete or update a parent row"})

	err := repo.Delete(context.Background(), 3)
	assert.ErrorIs(t, err, ErrConflict)

	mock.ExpectExec(`DELETE FROM instruments WHERE id = \?`).
		WithArgs(uint64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), 4), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeOTPOnlyOnce(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE users\s+SET email_verified = 1, otp_hash = NULL, otp_expiry = NULL`).
		WithArgs(uint64(1), "h", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users\s+SET email_verified = 1`).
		WithArgs(uint64(1), "h", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ConsumeOTP(context.Background(), 1, "h", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ConsumeOTP(context.Background(), 1, "h", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := repo.Create(context.Background(), &model.User{Email: " A@B.C ", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrEmailExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDefaultAddressPromotesNewest(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAddressRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM users_saved_addresses WHERE user_id = \? FOR UPDATE`).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10).AddRow(11).AddRow(12))
	mock.ExpectQuery(`SELECT is_default FROM users_saved_addresses WHERE id = \? AND user_id = \?`).
		WithArgs(uint64(10), uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"is_default"}).AddRow(true))
	mock.ExpectExec(`DELETE FROM users_saved_addresses WHERE id = \?`).
		WithArgs(uint64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM users_saved_addresses WHERE user_id = \?\s+ORDER BY created_at DESC`).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectExec(`UPDATE users_saved_addresses SET is_default = 1 WHERE id = \?`).
		WithArgs(uint64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), 1, 10))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxProcessPublishesAndRetries(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutboxRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM outbox\s+WHERE status = 'pending'.*FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "payload", "status", "attempts", "last_error", "available_at", "created_at"}).
			AddRow("a", model.JobOTP, []byte(`{}`), "pending", 0, "", now, now).
			AddRow("b", model.JobOTP, []byte(`{}`), "pending", 2, "x", now, now))
	mock.ExpectExec(`UPDATE outbox SET status = 'published'`).
		WithArgs(sqlmock.AnyArg(), "a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE outbox SET attempts = \?, last_error = \?, status = \?`).
		WithArgs(3, "broker down", model.OutboxFailed, sqlmock.AnyArg(), "b").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.Process(context.Background(), 10, 3, func(m model.OutboxMessage) error {
		if m.ID == "b" {
			return errors.New("broker down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxProcessPermanentFailureSkipsRetries(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutboxRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM outbox\s+WHERE status = 'pending'.*FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "payload", "status", "attempts", "last_error", "available_at", "created_at"}).
			AddRow("c", "email.unknown", []byte(`{}`), "pending", 0, "", now, now))
	mock.ExpectExec(`UPDATE outbox SET attempts = \?, last_error = \?, status = \?`).
		WithArgs(1, sqlmock.AnyArg(), model.OutboxFailed, sqlmock.AnyArg(), "c").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	n, err := repo.Process(context.Background(), 10, 5, func(m model.OutboxMessage) error {
		calls++
		return fmt.Errorf("%w: unknown job kind %q", model.ErrJobPermanent, m.Kind)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, RetryDelay(1))
	assert.Equal(t, 8*time.Second, RetryDelay(3))
	assert.Equal(t, 5*time.Minute, RetryDelay(20))
}

func TestInstrumentListFilters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewInstrumentRepo(db, "en")
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE 1=1 AND i.status = \? AND i.type = \? AND \(LOWER\(COALESCE\(l.title, d.title, ''\)\) LIKE \? OR LOWER\(i.model\) LIKE \?\) ORDER BY`).
		WithArgs("de", "en", "available", "guitar", "%martin%", "%martin%").
		WillReturnRows(sqlmock.NewRows(instrumentCols).
			AddRow(7, "om-28", "guitar", "OM-28", "3500.00", 2023, "available", 1,
				nil, "", nil, nil, now, now, "Martin OM", "", "en"))

	got, err := repo.List(context.Background(), model.InstrumentFilter{
		Status: model.InstrumentAvailable,
		Type:   "guitar",
		Locale: "DE",
		Query:  " Martin ",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "en", got[0].Locale)
	assert.NoError(t, mock.ExpectationsWereMet())
}
