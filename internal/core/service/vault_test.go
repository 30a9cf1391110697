package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmgate.io/ingestion/internal/core/domain"
)

const testMasterSecret = "0123456789abcdef0123456789abcdef"

func TestNewVault_RejectsShortSecret(t *testing.T) {
	_, err := NewVault("too-short")
	assert.Error(t, err)
}

func TestVault_RoundTrip(t *testing.T) {
	vault, err := NewVault(testMasterSecret)
	require.NoError(t, err)

	ciphertext, iv, err := vault.Encrypt("ya29.super-secret-access-token")
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)
	assert.NotEmpty(t, iv)
	assert.NotContains(t, ciphertext, "super-secret")

	plaintext, err := vault.Decrypt(ciphertext, iv)
	require.NoError(t, err)
	assert.Equal(t, "ya29.super-secret-access-token", plaintext)
}

func TestVault_FreshNoncePerCall(t *testing.T) {
	vault, err := NewVault(testMasterSecret)
	require.NoError(t, err)

	c1, iv1, err := vault.Encrypt("same plaintext")
	require.NoError(t, err)
	c2, iv2, err := vault.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, iv1, iv2)
	assert.NotEqual(t, c1, c2)
}

func TestVault_TamperedCiphertext(t *testing.T) {
	vault, err := NewVault(testMasterSecret)
	require.NoError(t, err)

	ciphertext, iv, err := vault.Encrypt("refresh-token-material")
	require.NoError(t, err)

	// Flip a character in the middle of the base64 payload
	tampered := []byte(ciphertext)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}

	_, err = vault.Decrypt(string(tampered), iv)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestVault_WrongKey(t *testing.T) {
	vault1, err := NewVault(testMasterSecret)
	require.NoError(t, err)
	vault2, err := NewVault("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)

	ciphertext, iv, err := vault1.Encrypt("token")
	require.NoError(t, err)

	_, err = vault2.Decrypt(ciphertext, iv)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestVault_GarbageInput(t *testing.T) {
	vault, err := NewVault(testMasterSecret)
	require.NoError(t, err)

	_, err = vault.Decrypt("not base64 !!!", "also not base64 !!!")
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)

	// Valid base64 but a nonce of the wrong length
	_, err = vault.Decrypt("aGVsbG8=", "aGVsbG8=")
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestVault_ConstantTimeEqual(t *testing.T) {
	vault, err := NewVault(testMasterSecret)
	require.NoError(t, err)

	assert.True(t, vault.ConstantTimeEqual("shared-secret", "shared-secret"))
	assert.False(t, vault.ConstantTimeEqual("shared-secret", "shared-secreT"))
	assert.False(t, vault.ConstantTimeEqual("shared-secret", ""))
}
