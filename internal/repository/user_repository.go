package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `id, email, name, password_hash, role, provider, provider_id, image,
	email_verified, otp_hash, otp_expiry, created_at, updated_at`

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u          model.User
		providerID sql.NullString
		image      sql.NullString
		otpHash    sql.NullString
		otpExpiry  sql.NullTime
	)
	err := s.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.Provider, &providerID,
		&image, &u.EmailVerified, &otpHash, &otpExpiry, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	u.ProviderID = stringPtr(providerID)
	u.Image = stringPtr(image)
	u.OTPHash = stringPtr(otpHash)
	u.OTPExpiry = timePtr(otpExpiry)
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts u and sets its ID. The email is normalized first.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = normalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = model.RoleCustomer
	}
	if u.Provider == "" {
		u.Provider = model.ProviderCredentials
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO users
		(email, name, password_hash, role, provider, provider_id, image, email_verified, otp_hash, otp_expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.Name, u.PasswordHash, u.Role, u.Provider, nullString(u.ProviderID), nullString(u.Image),
		u.EmailVerified, nullString(u.OTPHash), nullTime(u.OTPExpiry))
	if err != nil {
		if errors.Is(translate(err), ErrDuplicate) {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? LIMIT 1`, normalizeEmail(email)))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? LIMIT 1`, id))
}

// SetOTP replaces the pending verification code of a user.
func (r *UserRepo) SetOTP(ctx context.Context, id uint64, hash string, expiry time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET otp_hash = ?, otp_expiry = ? WHERE id = ?`, hash, expiry.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeOTP marks the user verified and clears the code, but only if
// hash is still the pending code and has not expired at now. It reports
// whether the code was consumed; a concurrent second attempt gets false.
func (r *UserRepo) ConsumeOTP(ctx context.Context, id uint64, hash string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE users
		SET email_verified = 1, otp_hash = NULL, otp_expiry = NULL
		WHERE id = ? AND otp_hash = ? AND otp_expiry > ?`, id, hash, now.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpsertOAuth creates or refreshes a user arriving from an OAuth provider.
// Such users are verified by the provider. An existing credentials account
// with the same email is linked, keeping its password and role.
func (r *UserRepo) UpsertOAuth(ctx context.Context, u *model.User) (*model.User, error) {
	u.Email = normalizeEmail(u.Email)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users
		(email, name, role, provider, provider_id, image, email_verified)
		VALUES (?, ?, 'CUSTOMER', ?, ?, ?, 1)
		ON DUPLICATE KEY UPDATE
			name = IF(name = '', VALUES(name), name),
			image = COALESCE(VALUES(image), image),
			provider_id = COALESCE(provider_id, VALUES(provider_id)),
			email_verified = 1`,
		u.Email, u.Name, u.Provider, nullString(u.ProviderID), nullString(u.Image))
	if err != nil {
		return nil, err
	}
	return r.GetByEmail(ctx, u.Email)
}

// SetRole changes the role of the user with the given email.
func (r *UserRepo) SetRole(ctx context.Context, email, role string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET role = ? WHERE email = ?`, role, normalizeEmail(email))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		if err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE email = ?`, normalizeEmail(email)).Scan(&one); err != nil {
			return translate(err)
		}
	}
	return nil
}
