// Package crypto seals the passwords of external connections at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
)

var (
	// ErrInvalidKey is returned when the encryption key is empty.
	ErrInvalidKey = errors.New("invalid encryption key: must not be empty")
	// ErrDecryptionFailed is returned for malformed ciphertext. A well-formed
	// ciphertext that fails authentication unwraps to
	// apperrors.ErrCredentialsKeyMismatch instead.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext")
)

// CredentialEncryptor provides AES-256-GCM sealing for connection passwords.
type CredentialEncryptor struct {
	gcm cipher.AEAD
}

// NewCredentialEncryptor creates an encryptor from CREDENTIALS_KEY.
// A base64 value decoding to exactly 32 bytes is used as the key; anything
// else is treated as a passphrase and hashed with SHA-256.
func NewCredentialEncryptor(keyInput string) (*CredentialEncryptor, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	key := deriveKey(keyInput)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &CredentialEncryptor{gcm: gcm}, nil
}

func deriveKey(keyInput string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(keyInput); err == nil && len(decoded) == 32 {
		return decoded
	}
	hash := sha256.Sum256([]byte(keyInput))
	return hash[:]
}

// Encrypt returns base64(nonce || ciphertext || tag). Empty input stays empty.
func (e *CredentialEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input stays empty.
func (e *CredentialEncryptor) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize+e.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", apperrors.ErrCredentialsKeyMismatch
	}
	return string(plaintext), nil
}

// SealConnection moves conn.Password into conn.SealedPassword.
func (e *CredentialEncryptor) SealConnection(conn *models.ExternalConnection) error {
	sealed, err := e.Encrypt(conn.Password)
	if err != nil {
		return fmt.Errorf("failed to seal password: %w", err)
	}
	conn.SealedPassword = sealed
	conn.Password = ""
	return nil
}

// OpenConnection fills conn.Password from conn.SealedPassword.
func (e *CredentialEncryptor) OpenConnection(conn *models.ExternalConnection) error {
	password, err := e.Decrypt(conn.SealedPassword)
	if err != nil {
		return fmt.Errorf("failed to open password of connection %s: %w", conn.ID, err)
	}
	conn.Password = password
	return nil
}
