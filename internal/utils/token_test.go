package utils

import (
	"bytes"
	"testing"
)

func TestTokenCipherRoundTrip(t *testing.T) {
	cipher, err := NewTokenCipher("unit-test-secret")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}

	const token = "shpat_0123456789abcdef"
	encrypted, err := cipher.Encrypt(token)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(encrypted, []byte(token)) {
		t.Error("ciphertext contains the plaintext token")
	}

	decrypted, err := cipher.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != token {
		t.Errorf("round trip = %q, want %q", decrypted, token)
	}
}

func TestTokenCipherWrongSecret(t *testing.T) {
	c1, err := NewTokenCipher("secret-one")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	c2, err := NewTokenCipher("secret-two")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}

	encrypted, err := c1.Encrypt("shpat_token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := c2.Decrypt(encrypted); err == nil {
		t.Error("decrypting with a different secret should fail")
	}
}

func TestTokenCipherEmptySecret(t *testing.T) {
	if _, err := NewTokenCipher("  "); err == nil {
		t.Error("blank secret should be rejected")
	}
}

func TestTokenCipherShortCiphertext(t *testing.T) {
	c, err := NewTokenCipher("secret")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	if _, err := c.Decrypt([]byte("short")); err == nil {
		t.Error("truncated ciphertext should fail to decrypt")
	}
}
