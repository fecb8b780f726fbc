package model

import "time"

// Roles carried in access tokens.
const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)

// Auth providers. Credential users log in with a password; the others
// arrive through the OAuth callback and are trusted as verified.
const (
	ProviderCredentials = "credentials"
	ProviderGoogle      = "google"
	ProviderGitHub      = "github"
)

// User represents an account as stored in the `users` table.
//
// Fields:
//
//	ID            – users.id
//	Email         – unique, lowercased
//	Name          – display name
//	PasswordHash  – bcrypt hash; empty for OAuth-only users
//	Role          – CUSTOMER or ADMIN
//	Provider      – credentials, google or github
//	ProviderID    – id at the OAuth provider (nullable)
//	Image         – avatar URL (nullable)
//	EmailVerified – set once an OTP was confirmed or OAuth vouched for the email
//	OTPHash       – SHA-256 hex of the pending one-time code (nullable)
//	OTPExpiry     – when the pending code stops being accepted (nullable)
type User struct {
	ID            uint64
	Email         string
	Name          string
	PasswordHash  string
	Role          string
	Provider      string
	ProviderID    *string
	Image         *string
	EmailVerified bool
	OTPHash       *string
	OTPExpiry     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SavedAddress is an address book entry belonging to a user. At most
// one entry per user has IsDefault set.
type SavedAddress struct {
	ID        uint64    `json:"id"`
	UserID    uint64    `json:"-"`
	Label     string    `json:"label"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Phone     string    `json:"phone"`
	Street    string    `json:"street"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	Zip       string    `json:"zip"`
	Country   string    `json:"country"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RefreshToken models an entry in the `refresh_tokens` table. Only the
// SHA-256 hash of the raw token is stored.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
