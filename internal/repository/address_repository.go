package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

// AddressRepo manages users_saved_addresses. Every write that can touch
// the default flag runs in a transaction holding row locks on all of the
// user's addresses, so a user never ends up with two defaults.
type AddressRepo struct{ db *sql.DB }

func NewAddressRepo(db *sql.DB) *AddressRepo { return &AddressRepo{db: db} }

const addressColumns = `id, user_id, label, first_name, last_name, phone, street, city, state, zip, country,
	is_default, created_at, updated_at`

func scanAddress(s rowScanner) (model.SavedAddress, error) {
	var a model.SavedAddress
	err := s.Scan(&a.ID, &a.UserID, &a.Label, &a.FirstName, &a.LastName, &a.Phone, &a.Street,
		&a.City, &a.State, &a.Zip, &a.Country, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// List returns the user's addresses, default first, then newest first.
func (r *AddressRepo) List(ctx context.Context, userID uint64) ([]model.SavedAddress, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+addressColumns+` FROM users_saved_addresses
		WHERE user_id = ? ORDER BY is_default DESC, created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.SavedAddress{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get returns one address of the user or ErrNotFound.
func (r *AddressRepo) Get(ctx context.Context, userID, id uint64) (*model.SavedAddress, error) {
	a, err := scanAddress(r.db.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM users_saved_addresses WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (r *AddressRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// lockUserAddresses locks every address row of the user and returns
// their count.
func lockUserAddresses(ctx context.Context, tx *sql.Tx, userID uint64) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM users_saved_addresses WHERE user_id = ? FOR UPDATE`, userID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

// Create inserts a. The user's first address always becomes the default;
// a new default clears the flag on the others.
func (r *AddressRepo) Create(ctx context.Context, a *model.SavedAddress) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		n, err := lockUserAddresses(ctx, tx, a.UserID)
		if err != nil {
			return err
		}
		if n == 0 {
			a.IsDefault = true
		}
		if a.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE users_saved_addresses SET is_default = 0 WHERE user_id = ?`, a.UserID); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO users_saved_addresses
			(user_id, label, first_name, last_name, phone, street, city, state, zip, country, is_default)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.UserID, a.Label, a.FirstName, a.LastName, a.Phone, a.Street, a.City, a.State, a.Zip, a.Country, a.IsDefault)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a.ID = uint64(id)
		created, err := scanAddress(tx.QueryRowContext(ctx,
			`SELECT `+addressColumns+` FROM users_saved_addresses WHERE id = ?`, a.ID))
		if err != nil {
			return err
		}
		*a = created
		return nil
	})
}

// Update overwrites an address of the user. Setting IsDefault clears the
// flag on the user's other addresses.
func (r *AddressRepo) Update(ctx context.Context, a *model.SavedAddress) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockUserAddresses(ctx, tx, a.UserID); err != nil {
			return err
		}
		if a.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE users_saved_addresses SET is_default = 0 WHERE user_id = ? AND id <> ?`, a.UserID, a.ID); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `UPDATE users_saved_addresses SET
			label = ?, first_name = ?, last_name = ?, phone = ?, street = ?, city = ?, state = ?, zip = ?, country = ?, is_default = ?
			WHERE id = ? AND user_id = ?`,
			a.Label, a.FirstName, a.LastName, a.Phone, a.Street, a.City, a.State, a.Zip, a.Country, a.IsDefault,
			a.ID, a.UserID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var one int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM users_saved_addresses WHERE id = ? AND user_id = ?`, a.ID, a.UserID).Scan(&one); err != nil {
				return translate(err)
			}
		}
		updated, err := scanAddress(tx.QueryRowContext(ctx,
			`SELECT `+addressColumns+` FROM users_saved_addresses WHERE id = ?`, a.ID))
		if err != nil {
			return err
		}
		*a = updated
		return nil
	})
}

// Delete removes an address of the user. When it was the default, the
// most recently created remaining address is promoted.
func (r *AddressRepo) Delete(ctx context.Context, userID, id uint64) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockUserAddresses(ctx, tx, userID); err != nil {
			return err
		}
		var wasDefault bool
		err := tx.QueryRowContext(ctx, `SELECT is_default FROM users_saved_addresses WHERE id = ? AND user_id = ?`, id, userID).Scan(&wasDefault)
		if err != nil {
			return translate(err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users_saved_addresses WHERE id = ?`, id); err != nil {
			return err
		}
		if !wasDefault {
			return nil
		}
		var next uint64
		err = tx.QueryRowContext(ctx, `SELECT id FROM users_saved_addresses WHERE user_id = ?
			ORDER BY created_at DESC, id DESC LIMIT 1`, userID).Scan(&next)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE users_saved_addresses SET is_default = 1 WHERE id = ?`, next)
		return err
	})
}
