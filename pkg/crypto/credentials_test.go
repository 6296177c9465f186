package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
)

// Test key generated with: openssl rand -base64 32
const testKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM=" // "test-key-for-unit-tests-32-bytes"

func TestNewCredentialEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"valid 32-byte base64 key", testKey, nil},
		{"empty key", "", ErrInvalidKey},
		{"passphrase", "my-simple-passphrase", nil},
		{"short base64 key is hashed", base64.StdEncoding.EncodeToString([]byte("sixteen-byte-key")), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewCredentialEncryptor(tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, enc)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{"secret", "p@ss/w#rd?x", "contraseña-ñandú", ""} {
		sealed, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		if plaintext != "" {
			assert.NotEqual(t, plaintext, sealed)
		}
		opened, err := enc.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	a, err := enc.Encrypt("same")
	require.NoError(t, err)
	b, err := enc.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_WrongKey(t *testing.T) {
	enc1, _ := NewCredentialEncryptor(testKey)
	enc2, _ := NewCredentialEncryptor("another-passphrase")

	sealed, err := enc1.Encrypt("secret")
	require.NoError(t, err)

	_, err = enc2.Decrypt(sealed)
	assert.ErrorIs(t, err, apperrors.ErrCredentialsKeyMismatch)
}

func TestDecrypt_Malformed(t *testing.T) {
	enc, _ := NewCredentialEncryptor(testKey)

	_, err := enc.Decrypt("not base64!!")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = enc.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSealOpenConnection(t *testing.T) {
	enc, _ := NewCredentialEncryptor(testKey)
	conn := &models.ExternalConnection{Host: "db", Password: "hunter2"}

	require.NoError(t, enc.SealConnection(conn))
	assert.Empty(t, conn.Password)
	assert.NotEmpty(t, conn.SealedPassword)

	require.NoError(t, enc.OpenConnection(conn))
	assert.Equal(t, "hunter2", conn.Password)
}
