package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the identity record. The password hash is the password credential;
// social credentials live in the accounts table.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name" json:"name,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PendingEmail  string     `bun:"pending_email,nullzero" json:"pending_email,omitempty"`
	Phone         string     `bun:"phone" json:"phone,omitempty"`
	Image         string     `bun:"image" json:"image,omitempty"`
	PasswordHash  string     `bun:"password_hash" json:"-"`
	EmailVerified bool       `bun:"email_verified" json:"email_verified"`
	IsAdmin       bool       `bun:"is_admin" json:"is_admin"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// HasPassword reports whether the user holds a password credential.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// Account is a linked social credential, unique system-wide on
// (provider, provider_account_id).
type Account struct {
	bun.BaseModel     `bun:"table:accounts,alias:acc"`
	ID                uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID            uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Provider          string     `bun:"provider,notnull" json:"provider,omitempty"`
	ProviderAccountID string     `bun:"provider_account_id,notnull" json:"provider_account_id,omitempty"`
	Email             string     `bun:"email" json:"email,omitempty"`
	Name              string     `bun:"name" json:"name,omitempty"`
	AvatarURL         string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	CreatedAt         *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Session is a server-side session row. A session is valid while now is
// before ExpiresAt; LastActivityAt drives the rolling renewal.
type Session struct {
	bun.BaseModel  `bun:"table:sessions,alias:ses"`
	ID             uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID         uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	IssuedAt       time.Time `bun:"issued_at,notnull" json:"issued_at"`
	ExpiresAt      time.Time `bun:"expires_at,notnull" json:"expires_at"`
	LastActivityAt time.Time `bun:"last_activity_at,notnull" json:"last_activity_at"`
	IPAddress      string    `bun:"ip_address" json:"-"`
	UserAgent      string    `bun:"user_agent" json:"-"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// TokenPurpose scopes a verification token to a single flow.
type TokenPurpose = string

const (
	PurposeEmailVerify   TokenPurpose = "email-verify"
	PurposePasswordReset TokenPurpose = "password-reset"
	PurposeMagicLink     TokenPurpose = "magic-link"
)

// VerificationToken is a single-use, time-bounded secret. ConsumedAt doubles
// as the consumed flag; the claim is a conditional update so only one
// concurrent consumer wins.
type VerificationToken struct {
	bun.BaseModel `bun:"table:verification_tokens,alias:vtk"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string     `bun:"token,notnull,unique" json:"-"`
	Purpose       string     `bun:"purpose,notnull" json:"purpose,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	UserID        *uuid.UUID `bun:"user_id,nullzero,type:uuid" json:"user_id,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	ConsumedAt    *time.Time `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Consumed reports whether the token has already been used.
func (t *VerificationToken) Consumed() bool {
	return t != nil && t.ConsumedAt != nil
}

// Expired reports whether the token is past its expiry at the given time.
func (t *VerificationToken) Expired(now time.Time) bool {
	return t == nil || !now.Before(t.ExpiresAt)
}

// NormalizeEmail lower-cases and trims an email for the unique lookup column.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
