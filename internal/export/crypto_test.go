package export

import (
	"bytes"
	"testing"
)

func TestDeriveKeyDeterminism(t *testing.T) {
	salt := []byte("1234567890abcdef")

	key1 := DeriveKey("mypassphrase", salt)
	key2 := DeriveKey("mypassphrase", salt)

	if !bytes.Equal(key1, key2) {
		t.Error("same passphrase+salt should produce same key")
	}
	if len(key1) != keySize {
		t.Errorf("key length = %d, want %d", len(key1), keySize)
	}
}

func TestDeriveKeyDifferentPassphrases(t *testing.T) {
	salt := []byte("1234567890abcdef")

	key1 := DeriveKey("password1", salt)
	key2 := DeriveKey("password2", salt)

	if bytes.Equal(key1, key2) {
		t.Error("different passphrases should produce different keys")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	original := []byte(`{"space":{"name":"Morrow Family"},"tasks":[]}`)

	sealed, err := Encrypt(original, "correct horse battery staple")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(sealed, []byte("Morrow")) {
		t.Error("ciphertext leaks plaintext")
	}

	plain, err := Decrypt(sealed, "correct horse battery staple")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(plain, original) {
		t.Errorf("round trip = %q, want %q", plain, original)
	}
}

func TestEncryptFreshSaltPerCall(t *testing.T) {
	data := []byte("same input")

	sealed1, err := Encrypt(data, "pass")
	if err != nil {
		t.Fatalf("encrypt 1: %v", err)
	}
	sealed2, err := Encrypt(data, "pass")
	if err != nil {
		t.Fatalf("encrypt 2: %v", err)
	}

	if bytes.Equal(sealed1[:saltSize], sealed2[:saltSize]) {
		t.Error("two encryptions should use different salts")
	}
	if bytes.Equal(sealed1, sealed2) {
		t.Error("two encryptions should not produce identical output")
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	sealed, err := Encrypt([]byte("secret data"), "right")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := Decrypt(sealed, "wrong"); err == nil {
		t.Error("expected decryption failure with wrong passphrase")
	}
}

func TestDecryptTampered(t *testing.T) {
	sealed, err := Encrypt([]byte("secret data"), "pass")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	sealed[len(sealed)-1] ^= 0xFF
	if _, err := Decrypt(sealed, "pass"); err == nil {
		t.Error("expected decryption failure for tampered ciphertext")
	}
}

func TestDecryptTruncated(t *testing.T) {
	if _, err := Decrypt([]byte("short"), "pass"); err == nil {
		t.Error("expected error for truncated input")
	}
}
