package services_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/services"
)

func TestUserServiceGetByID_Success(t *testing.T) {
	user := services.NewTestUser("alice@example.com")
	repo := &services.MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.User, error) {
			if id == user.ID {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
	}
	svc := services.NewUserService(repo, slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	result, err := svc.GetByID(context.Background(), user.ID)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, user.Email, result.Email)
	assert.Equal(t, models.RoleUser, result.Role)
}

func TestUserServiceGetByID_NotFound(t *testing.T) {
	repo := &services.MockUserRepository{}
	svc := services.NewUserService(repo, slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	result, err := svc.GetByID(context.Background(), uuid.New())

	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUserServiceGetByID_RepositoryFailure(t *testing.T) {
	repo := &services.MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.User, error) {
			return nil, errors.New("connection reset")
		},
	}
	svc := services.NewUserService(repo, slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	result, err := svc.GetByID(context.Background(), uuid.New())

	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrInternalServer)
}
