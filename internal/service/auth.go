package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/repository"
	"github.com/iliyamo/luthier-storefront/internal/utils"
)

// UserStore is the user persistence the auth service needs.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	SetOTP(ctx context.Context, id uint64, hash string, expiry time.Time) error
	ConsumeOTP(ctx context.Context, id uint64, hash string, now time.Time) (bool, error)
	UpsertOAuth(ctx context.Context, u *model.User) (*model.User, error)
}

// TokenStore persists refresh token hashes.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// AuthConfig holds token lifetimes and hashing cost.
type AuthConfig struct {
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	OTPTTL     time.Duration
	BcryptCost int
}

// Session is an issued token pair.
type Session struct {
	User    *model.User
	Access  utils.AccessToken
	Refresh utils.RefreshToken
}

type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type OAuthInput struct {
	Provider   string  `json:"provider" validate:"required,oneof=google github"`
	ProviderID string  `json:"providerId" validate:"required,max=255"`
	Email      string  `json:"email" validate:"required,email,max=255"`
	Name       string  `json:"name" validate:"max=255"`
	Image      *string `json:"image" validate:"omitempty,url,max=1024"`
}

// AuthService handles registration, email verification codes and token
// issuance.
type AuthService struct {
	users     UserStore
	tokens    TokenStore
	outbox    Enqueuer
	cfg       AuthConfig
	validator *Validator
	log       *zap.Logger
	now       func() time.Time
}

func NewAuthService(users UserStore, tokens TokenStore, outbox Enqueuer, cfg AuthConfig, log *zap.Logger) *AuthService {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 10 * time.Minute
	}
	return &AuthService{users: users, tokens: tokens, outbox: outbox, cfg: cfg, validator: NewValidator(), log: log, now: time.Now}
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Register creates an unverified credentials account and mails it a
// verification code.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, otpHash, expiry, err := s.newOTP()
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         model.RoleCustomer,
		Provider:     model.ProviderCredentials,
		OTPHash:      &otpHash,
		OTPExpiry:    &expiry,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, newError(http.StatusConflict, CodeEmailExists, "an account with this email already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	// The account exists either way; a lost email is recovered via send-otp.
	if err := s.queueOTP(ctx, u, code, expiry); err != nil {
		s.log.Error("queue verification email", zap.Uint64("user_id", u.ID), zap.Error(err))
	}
	return u, nil
}

// SendOTP issues a fresh verification code. Unknown and already verified
// emails are silently ignored so the endpoint cannot be used to probe
// for accounts.
func (s *AuthService) SendOTP(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return newError(http.StatusBadRequest, CodeInvalidRequest, "email is required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Info("otp requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.EmailVerified {
		return nil
	}
	code, otpHash, expiry, err := s.newOTP()
	if err != nil {
		return err
	}
	if err := s.users.SetOTP(ctx, u.ID, otpHash, expiry); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	return s.queueOTP(ctx, u, code, expiry)
}

// VerifyOTP checks a code for email. A matching code before expiry
// succeeds once: it marks the email verified, clears the code and starts
// a session. Expired codes yield otp_expired, anything else otp_invalid.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || len(code) != utils.OTPLength {
		return nil, errOTPInvalid
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errOTPInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.OTPHash == nil || u.OTPExpiry == nil {
		return nil, errOTPInvalid
	}
	now := s.now().UTC()
	if !now.Before(*u.OTPExpiry) {
		return nil, newError(http.StatusBadRequest, CodeOTPExpired, "the code has expired, request a new one").With("expired", true)
	}
	if !utils.OTPMatches(code, *u.OTPHash) {
		return nil, errOTPInvalid
	}
	ok, err := s.users.ConsumeOTP(ctx, u.ID, *u.OTPHash, now)
	if err != nil {
		return nil, fmt.Errorf("consume otp: %w", err)
	}
	if !ok {
		return nil, errOTPInvalid
	}
	u.EmailVerified = true
	u.OTPHash = nil
	u.OTPExpiry = nil
	return s.issue(ctx, u)
}

// Login starts a session for a verified credentials account.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, errBadCredentials
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.PasswordHash == "" || !utils.VerifyPassword(u.PasswordHash, password) {
		return nil, errBadCredentials
	}
	if !u.EmailVerified {
		return nil, newError(http.StatusForbidden, CodeEmailNotVerified, "verify your email address first")
	}
	return s.issue(ctx, u)
}

// OAuth starts a session for a user vouched for by an OAuth provider.
func (s *AuthService) OAuth(ctx context.Context, in OAuthInput) (*Session, error) {
	in.Email = normalizeEmail(in.Email)
	in.Provider = strings.ToLower(strings.TrimSpace(in.Provider))
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	pid := in.ProviderID
	u, err := s.users.UpsertOAuth(ctx, &model.User{
		Email:      in.Email,
		Name:       strings.TrimSpace(in.Name),
		Provider:   in.Provider,
		ProviderID: &pid,
		Image:      in.Image,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert oauth user: %w", err)
	}
	return s.issue(ctx, u)
}

// Refresh rotates a refresh token: the old one is revoked and a new pair
// is issued. A token can be rotated only once.
func (s *AuthService) Refresh(ctx context.Context, raw string) (*Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errInvalidRefresh
	}
	hash := utils.HashRefreshRaw(raw)
	userID, err := s.tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		return nil, errInvalidRefresh
	}
	revoked, err := s.tokens.RevokeByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("revoke refresh: %w", err)
	}
	if !revoked {
		return nil, errInvalidRefresh
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errInvalidRefresh
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return s.issue(ctx, u)
}

// Logout revokes one refresh token.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	hash := utils.HashRefreshRaw(strings.TrimSpace(raw))
	if _, err := s.tokens.ValidateRefresh(ctx, hash); err != nil {
		return errInvalidRefresh
	}
	_, err := s.tokens.RevokeByHash(ctx, hash)
	return err
}

// LogoutAll revokes every refresh token of a user.
func (s *AuthService) LogoutAll(ctx context.Context, userID uint64) error {
	return s.tokens.RevokeAllForUser(ctx, userID)
}

// Me returns the account behind an access token.
func (s *AuthService) Me(ctx context.Context, userID uint64) (*model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errNotFound
	}
	return u, err
}

func (s *AuthService) issue(ctx context.Context, u *model.User) (*Session, error) {
	access, err := utils.NewAccessToken(s.cfg.JWTSecret, u.ID, u.Role, u.Email, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access: %w", err)
	}
	refresh, err := utils.NewRefreshToken(s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh: %w", err)
	}
	if err := s.tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return nil, fmt.Errorf("save refresh: %w", err)
	}
	return &Session{User: u, Access: access, Refresh: refresh}, nil
}

func (s *AuthService) newOTP() (code, hash string, expiry time.Time, err error) {
	code, err = utils.NewOTPCode()
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("generate otp: %w", err)
	}
	return code, utils.HashOTP(code), s.now().UTC().Add(s.cfg.OTPTTL), nil
}

func (s *AuthService) queueOTP(ctx context.Context, u *model.User, code string, expiry time.Time) error {
	m, err := model.NewOutboxMessage(model.JobOTP, model.OTPEmailPayload{
		Email: u.Email, Name: u.Name, Code: code, ExpiresAt: expiry,
	})
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, m)
}
