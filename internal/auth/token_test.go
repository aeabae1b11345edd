package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/models"
)

func testTokenManager() *auth.TokenManager {
	return auth.NewTokenManager("test-secret-key-minimum-32-chars!!", 15*time.Minute, 7*24*time.Hour)
}

func TestTokenManager_AccessTokenRoundTrip(t *testing.T) {
	tm := testTokenManager()

	tokenString, err := tm.GenerateAccessToken("user-123", "user@example.com", models.RoleUser)
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	claims, err := tm.ValidateToken(tokenString)
	require.NoError(t, err)

	assert.Equal(t, models.TokenTypeAccess, claims.Type)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, models.RoleUser, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_RefreshTokenCarriesType(t *testing.T) {
	tm := testTokenManager()

	tokenString, err := tm.GenerateRefreshToken("user-123", "user@example.com", models.RoleAdmin)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(tokenString)
	require.NoError(t, err)

	assert.Equal(t, models.TokenTypeRefresh, claims.Type)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestTokenManager_UniqueJTIPerToken(t *testing.T) {
	tm := testTokenManager()

	first, err := tm.GenerateAccessToken("user-123", "user@example.com", models.RoleUser)
	require.NoError(t, err)
	second, err := tm.GenerateAccessToken("user-123", "user@example.com", models.RoleUser)
	require.NoError(t, err)

	firstClaims, err := tm.ValidateToken(first)
	require.NoError(t, err)
	secondClaims, err := tm.ValidateToken(second)
	require.NoError(t, err)

	assert.NotEqual(t, firstClaims.ID, secondClaims.ID)
}

func TestTokenManager_WrongSecretRejected(t *testing.T) {
	tm := testTokenManager()
	other := auth.NewTokenManager("another-secret-key-32-characters!", 15*time.Minute, 7*24*time.Hour)

	tokenString, err := tm.GenerateAccessToken("user-123", "user@example.com", models.RoleUser)
	require.NoError(t, err)

	_, err = other.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestTokenManager_GarbageRejected(t *testing.T) {
	tm := testTokenManager()

	_, err := tm.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}

func TestTokenManager_ExpiredTokenRejected(t *testing.T) {
	tm := auth.NewTokenManager("test-secret-key-minimum-32-chars!!", -time.Minute, -time.Minute)

	tokenString, err := tm.GenerateAccessToken("user-123", "user@example.com", models.RoleUser)
	require.NoError(t, err)

	_, err = tm.ValidateToken(tokenString)
	assert.Error(t, err)
}
