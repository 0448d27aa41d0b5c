package security

import (
	"bytes"
	"testing"
)

func TestNewPassphraseCipher(t *testing.T) {
	c := NewPassphraseCipher()
	if c == nil {
		t.Fatal("Expected PassphraseCipher, got nil")
	}
	if c.iterations != 100000 {
		t.Errorf("Expected iterations 100000, got %d", c.iterations)
	}
	if c.keyLength != 32 {
		t.Errorf("Expected keyLength 32, got %d", c.keyLength)
	}
}

func TestDeriveKey(t *testing.T) {
	c := NewPassphraseCipher()
	salt := []byte("test-salt-1234567890123456") // 26 bytes

	key := c.DeriveKey("test-secret", salt)
	if len(key) != 32 {
		t.Errorf("Expected key length 32, got %d", len(key))
	}

	// Test that same inputs produce same key
	key2 := c.DeriveKey("test-secret", salt)
	if !bytes.Equal(key, key2) {
		t.Error("Expected same key for same inputs")
	}

	// Test that different inputs produce different keys
	key3 := c.DeriveKey("different-secret", salt)
	if bytes.Equal(key, key3) {
		t.Error("Expected different key for different secret")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := NewPassphraseCipher()
	key := []byte("12345678901234567890123456789012") // 32 bytes
	plaintext := []byte("This is a test message for encryption")

	sealed, err := c.Seal(plaintext, key, []byte("peer-1"))
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}
	if len(sealed) == 0 {
		t.Error("Expected non-empty ciphertext")
	}
	if bytes.Equal(sealed, plaintext) {
		t.Error("Expected ciphertext to be different from plaintext")
	}

	opened, err := c.Open(sealed, key, []byte("peer-1"))
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Expected opened text to match original, got %s", string(opened))
	}
}

// TestOpenRejectsMismatchedScope proves a ciphertext sealed under one
// scope (e.g. one peer's identity) cannot be opened under another,
// even with the correct key — the property identity_store.go relies
// on to keep an identity file from silently unlocking under the wrong
// peer id.
func TestOpenRejectsMismatchedScope(t *testing.T) {
	c := NewPassphraseCipher()
	key := []byte("12345678901234567890123456789012")
	plaintext := []byte("identity key material")

	sealed, err := c.Seal(plaintext, key, []byte("peer-1"))
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}

	if _, err := c.Open(sealed, key, []byte("peer-2")); err == nil {
		t.Error("expected Open to reject a ciphertext sealed under a different scope")
	}
}

func TestOpenInvalidCiphertext(t *testing.T) {
	c := NewPassphraseCipher()
	key := []byte("12345678901234567890123456789012")

	// Test with too short ciphertext
	_, err := c.Open([]byte("short"), key, nil)
	if err == nil {
		t.Error("Expected error for too short ciphertext")
	}

	// Test with invalid ciphertext
	_, err = c.Open([]byte("invalid-ciphertext-that-is-long-enough"), key, nil)
	if err == nil {
		t.Error("Expected error for invalid ciphertext")
	}
}

func TestGenerateSalt(t *testing.T) {
	c := NewPassphraseCipher()

	salt1, err := c.GenerateSalt()
	if err != nil {
		t.Fatalf("Failed to generate salt: %v", err)
	}
	if len(salt1) != 16 {
		t.Errorf("Expected salt length 16, got %d", len(salt1))
	}

	// Test that salts are random
	salt2, err := c.GenerateSalt()
	if err != nil {
		t.Fatalf("Failed to generate second salt: %v", err)
	}
	if bytes.Equal(salt1, salt2) {
		t.Error("Expected different salts on multiple calls")
	}
}

func TestEncodeDecodeKey(t *testing.T) {
	c := NewPassphraseCipher()
	key := []byte("12345678901234567890123456789012")

	encoded := c.EncodeKey(key)
	if encoded == "" {
		t.Error("Expected non-empty encoded key")
	}

	decoded, err := c.DecodeKey(encoded)
	if err != nil {
		t.Fatalf("Failed to decode key: %v", err)
	}
	if !bytes.Equal(decoded, key) {
		t.Error("Expected decoded key to match original")
	}
}

func TestDecodeKeyInvalid(t *testing.T) {
	c := NewPassphraseCipher()

	_, err := c.DecodeKey("invalid-base64!")
	if err == nil {
		t.Error("Expected error for invalid base64")
	}
}

func TestSealInvalidKey(t *testing.T) {
	c := NewPassphraseCipher()

	invalidKey := []byte("short-key")
	data := []byte("test data")

	_, err := c.Seal(data, invalidKey, nil)
	if err == nil {
		t.Error("Expected error for invalid key length")
	}
}

func TestOpenInvalidKey(t *testing.T) {
	c := NewPassphraseCipher()

	invalidKey := []byte("short-key")
	ciphertext := []byte("some-ciphertext")

	_, err := c.Open(ciphertext, invalidKey, nil)
	if err == nil {
		t.Error("Expected error for invalid key length")
	}
}
