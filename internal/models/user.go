package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the identity record the protected authentication surface
// operates on. The defense layer itself only needs the ID and role; the
// rest exists so login and registration can be exercised end to end.
// The TOTP fields back the administrative step-up check and are nil for
// regular accounts.
type User struct {
	ID              uuid.UUID  `db:"id"`
	Email           string     `db:"email"`
	PasswordHash    string     `db:"password_hash"`
	Name            string     `db:"name"`
	Role            string     `db:"role"`
	Status          string     `db:"status"` // "active", "suspended", "disabled"
	TOTPSecretEnc   []byte     `db:"totp_secret_enc"`
	TOTPSecretNonce []byte     `db:"totp_secret_nonce"`
	TOTPConfirmedAt *time.Time `db:"totp_confirmed_at"`
	TOTPLastUsedAt  *time.Time `db:"totp_last_used_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	LastLoginAt     *time.Time `db:"last_login_at"`
}

// IsActive reports whether authentication may proceed for this user
func (u *User) IsActive() bool {
	return u.Status == "active"
}

// TOTPEnabled reports whether the user has completed TOTP enrollment
func (u *User) TOTPEnabled() bool {
	return len(u.TOTPSecretEnc) > 0 && u.TOTPConfirmedAt != nil
}
