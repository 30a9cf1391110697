package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"crmgate.io/ingestion/internal/core/domain"
)

// Vault performs authenticated encryption of OAuth token material. The
// 256-bit key is derived by hashing a single long-lived master secret; every
// Encrypt call draws a fresh 96-bit nonce so an IV is never reused under the
// key. Plaintext, key, and nonce are never logged.
type Vault struct {
	key [32]byte
}

func NewVault(masterSecret string) (*Vault, error) {
	if len(masterSecret) < 32 {
		return nil, fmt.Errorf("master secret must be at least 32 bytes, got %d", len(masterSecret))
	}
	return &Vault{key: sha256.Sum256([]byte(masterSecret))}, nil
}

// Encrypt returns base64-encoded AES-256-GCM ciphertext and the nonce used.
func (v *Vault) Encrypt(plaintext string) (ciphertext, iv string, err error) {
	gcm, err := v.gcm()
	if err != nil {
		return "", "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(nonce), nil
}

// Decrypt reverses Encrypt. Any failure to decode or authenticate maps to
// domain.ErrDecryptionFailed: the credential is unusable and the user must
// reconnect, this is not a transient fault.
func (v *Vault) Decrypt(ciphertext, iv string) (string, error) {
	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", domain.ErrDecryptionFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", domain.ErrDecryptionFailed
	}
	if len(nonce) != gcm.NonceSize() {
		return "", domain.ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", domain.ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// ConstantTimeEqual compares two secrets in time independent of where the
// first mismatch occurs.
func (v *Vault) ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return gcm, nil
}
