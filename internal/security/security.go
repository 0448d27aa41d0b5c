package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseCipher wraps a PBKDF2-derived AES-GCM envelope, generalized
// from the teacher's memory-blob encryption into a scoped envelope:
// every Seal/Open call binds its ciphertext to a caller-supplied scope
// (a peer id, a channel id, a document id — whatever identifies which
// domain object the passphrase is meant to unlock), passed as the
// GCM additional authenticated data. A ciphertext sealed under one
// scope fails AEAD verification if opened under another, so a
// passphrase-protected identity file copied onto a different peer's
// data directory (or a document export copied under a different
// document id) does not silently decrypt into the wrong identity.
type PassphraseCipher struct {
	iterations int
	keyLength  int
}

func NewPassphraseCipher() *PassphraseCipher {
	return &PassphraseCipher{
		iterations: 100000,
		keyLength:  32,
	}
}

// DeriveKey derives an encryption key from a passphrase and salt.
func (c *PassphraseCipher) DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key(
		[]byte(passphrase),
		salt,
		c.iterations,
		c.keyLength,
		sha256.New,
	)
}

// Seal encrypts data under key, binding the ciphertext to scope via
// AES-GCM's additional authenticated data so it can only be opened
// back under that same scope.
func (c *PassphraseCipher) Seal(data, key, scope []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, data, scope)
	return ciphertext, nil
}

// Open decrypts data sealed by Seal under the same key and scope.
func (c *PassphraseCipher) Open(sealed, key, scope []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// GenerateSalt generates a random salt for key derivation.
func (c *PassphraseCipher) GenerateSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// EncodeKey encodes a key to base64 for storage.
func (c *PassphraseCipher) EncodeKey(key []byte) string {
	return base64.URLEncoding.EncodeToString(key)
}

// DecodeKey decodes a base64-encoded key.
func (c *PassphraseCipher) DecodeKey(encoded string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(encoded)
}
