package auth

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "bastion")
	require.NoError(t, err)
	return tm
}

func TestTOTPManager_NewTOTPManager_ValidKey(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "bastion")
	assert.NoError(t, err)
	assert.NotNil(t, tm)
}

func TestTOTPManager_NewTOTPManager_InvalidKeyLength(t *testing.T) {
	tests := []int{0, 16, 24, 31, 33, 64}
	for _, length := range tests {
		key := make([]byte, length)
		tm, err := NewTOTPManager(key, "bastion")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestTOTPManager_GenerateSecretWithQR_Success(t *testing.T) {
	tm := testTOTPManager(t)

	encrypted, nonce, secret, qrDataURL, err := tm.GenerateSecretWithQR("admin@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, encrypted)
	assert.Len(t, nonce, 12)
	assert.NotEmpty(t, secret)
	assert.True(t, strings.HasPrefix(qrDataURL, "data:image/png;base64,"))
}

func TestTOTPManager_EncryptDecrypt_RoundTrip(t *testing.T) {
	tm := testTOTPManager(t)
	secret := []byte("JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP")

	encrypted, nonce, err := tm.EncryptSecret(secret)
	require.NoError(t, err)
	assert.NotEqual(t, secret, encrypted)

	decrypted, err := tm.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)
	assert.Equal(t, secret, decrypted)
}

func TestTOTPManager_DecryptSecret_TamperedCiphertext(t *testing.T) {
	tm := testTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)

	encrypted[0] ^= 0xFF

	_, err = tm.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestTOTPManager_ValidateTOTP_ValidCode(t *testing.T) {
	tm := testTOTPManager(t)

	_, _, secretBase32, _, err := tm.GenerateSecretWithQR("admin@example.com")
	require.NoError(t, err)

	validCode, err := totp.GenerateCode(secretBase32, time.Now())
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP([]byte(secretBase32), validCode, nil)
	assert.NoError(t, err)
	assert.True(t, valid)
}

func TestTOTPManager_ValidateTOTP_PlusOneTimeStep(t *testing.T) {
	tm := testTOTPManager(t)

	_, _, secretBase32, _, err := tm.GenerateSecretWithQR("admin@example.com")
	require.NoError(t, err)

	// Code from the next time step should pass under the skew tolerance
	futureCode, err := totp.GenerateCode(secretBase32, time.Now().Add(30*time.Second))
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP([]byte(secretBase32), futureCode, nil)
	assert.NoError(t, err)
	assert.True(t, valid)
}

func TestTOTPManager_ValidateTOTP_InvalidCode(t *testing.T) {
	tm := testTOTPManager(t)

	_, _, secretBase32, _, err := tm.GenerateSecretWithQR("admin@example.com")
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP([]byte(secretBase32), "000000", nil)
	assert.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_ValidateTOTP_ReplayRejected(t *testing.T) {
	tm := testTOTPManager(t)

	_, _, secretBase32, _, err := tm.GenerateSecretWithQR("admin@example.com")
	require.NoError(t, err)

	validCode, err := totp.GenerateCode(secretBase32, time.Now())
	require.NoError(t, err)

	lastUsed := time.Now().Add(-10 * time.Second)
	valid, err := tm.ValidateTOTP([]byte(secretBase32), validCode, &lastUsed)
	assert.Error(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_ValidateTOTP_ExpiredCode(t *testing.T) {
	tm := testTOTPManager(t)

	_, _, secretBase32, _, err := tm.GenerateSecretWithQR("admin@example.com")
	require.NoError(t, err)

	// Two full periods back falls outside the skew window
	staleCode, err := totp.GenerateCode(secretBase32, time.Now().Add(-90*time.Second))
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP([]byte(secretBase32), staleCode, nil)
	assert.NoError(t, err)
	assert.False(t, valid)
}
