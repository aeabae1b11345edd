package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bastionsec/bastion/internal/database"
	"github.com/bastionsec/bastion/internal/models"
)

// UserRepository handles user data access
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, email, password_hash, name, role, status,
	       totp_secret_enc, totp_secret_nonce, totp_confirmed_at, totp_last_used_at,
	       created_at, updated_at, last_login_at`

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash *string

	err := scanner.Scan(
		&user.ID, &user.Email, &passwordHash, &user.Name, &user.Role, &user.Status,
		&user.TOTPSecretEnc, &user.TOTPSecretNonce, &user.TOTPConfirmedAt, &user.TOTPLastUsedAt,
		&user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

// Create inserts a new user. The caller supplies email, password hash,
// name, role and status; identifiers and timestamps are assigned here.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New()

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.Status == "" {
		user.Status = "active"
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	created, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name, user.Role, user.Status,
		user.CreatedAt, user.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Update persists mutable profile fields and the password hash
func (r *UserRepository) Update(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		UPDATE users
		SET email = $2, password_hash = $3, name = $4, role = $5, status = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	updated, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name, user.Role, user.Status,
	))
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *UserRepository) RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.execForUser(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`,
		id, at)
}

// SaveTOTPSecret stores a pending enrollment secret. Re-running setup
// replaces the pending secret and clears any previous confirmation.
func (r *UserRepository) SaveTOTPSecret(ctx context.Context, id uuid.UUID, encrypted, nonce []byte) error {
	return r.execForUser(ctx,
		`UPDATE users
		 SET totp_secret_enc = $2, totp_secret_nonce = $3,
		     totp_confirmed_at = NULL, totp_last_used_at = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id, encrypted, nonce)
}

func (r *UserRepository) ConfirmTOTP(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.execForUser(ctx,
		`UPDATE users SET totp_confirmed_at = $2, updated_at = NOW() WHERE id = $1`,
		id, at)
}

func (r *UserRepository) TouchTOTPUsage(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.execForUser(ctx,
		`UPDATE users SET totp_last_used_at = $2 WHERE id = $1`,
		id, at)
}

// execForUser runs a single-row update and maps a missing row to ErrNotFound
func (r *UserRepository) execForUser(ctx context.Context, query string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
