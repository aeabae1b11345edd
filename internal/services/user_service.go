package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/models"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Update(ctx context.Context, user *models.User) (*models.User, error)
	RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SaveTOTPSecret(ctx context.Context, id uuid.UUID, encrypted, nonce []byte) error
	ConfirmTOTP(ctx context.Context, id uuid.UUID, at time.Time) error
	TouchTOTPUsage(ctx context.Context, id uuid.UUID, at time.Time) error
}

// UserService handles user lookups for the authenticated surface
type UserService struct {
	repo   UserRepository
	logger *slog.Logger
}

// NewUserService creates a new UserService
func NewUserService(repo UserRepository, logger *slog.Logger) *UserService {
	return &UserService{
		repo:   repo,
		logger: logger,
	}
}

// GetByID retrieves a user by ID. Also satisfies the role middleware's
// fetcher interface so authorization always sees live role data.
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to get user",
			slog.String("user_id", id.String()),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return user, nil
}
