package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func newTestEncryptor(t *testing.T) *AESEncryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	enc, err := NewAESEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}
	return enc
}

func TestNewAESEncryptorKeyValidation(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		errorMsg string
	}{
		{"empty key", "", "encryption key is empty"},
		{"invalid base64", "not-valid-base64!@#$", "base64 decode failed"},
		{"key too short", base64.StdEncoding.EncodeToString(make([]byte, 16)), "must be 32 bytes"},
		{"key too long", base64.StdEncoding.EncodeToString(make([]byte, 64)), "must be 32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAESEncryptor(tt.key)
			if err == nil {
				t.Fatal("NewAESEncryptor() expected error but got nil")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("NewAESEncryptor() error = %v, want error containing %q", err, tt.errorMsg)
			}
		})
	}

	if enc, err := NewAESEncryptor(base64.StdEncoding.EncodeToString(make([]byte, 32))); err != nil || enc == nil {
		t.Errorf("NewAESEncryptor() with valid key: enc = %v, err = %v", enc, err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	plaintexts := []string{
		"hello",
		"ya29.a0AfH6SMBx...",
		strings.Repeat("a", 1000),
		"Hello 世界 🌍",
		"!@#$%^&*()_+-={}[]|\\:;\"'<>,.?/~`",
	}

	for _, plaintext := range plaintexts {
		ciphertext, err := enc.Encrypt([]byte(plaintext))
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", plaintext, err)
		}
		if bytes.Equal(ciphertext, []byte(plaintext)) {
			t.Errorf("Encrypt(%q) returned plaintext unchanged", plaintext)
		}

		decrypted, err := enc.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt error = %v", err)
		}
		if string(decrypted) != plaintext {
			t.Errorf("Decrypt() = %q, want %q", string(decrypted), plaintext)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc := newTestEncryptor(t)
	plaintext := []byte("test plaintext")

	c1, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	c2, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if bytes.Equal(c1, c2) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}

	for _, c := range [][]byte{c1, c2} {
		got, err := enc.Decrypt(c)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("Decrypt() = %q, want %q", got, plaintext)
		}
	}
}

func TestDecryptRejectsInvalidCiphertext(t *testing.T) {
	enc := newTestEncryptor(t)

	tests := []struct {
		name       string
		errorMsg   string
		ciphertext []byte
	}{
		{"empty ciphertext", "ciphertext is empty", []byte{}},
		{"shorter than nonce", "ciphertext too short", []byte{1, 2, 3}},
		{"random bytes", "authentication or integrity check failed", make([]byte, 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Decrypt(tt.ciphertext)
			if err == nil {
				t.Fatal("Decrypt() expected error but got nil")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Decrypt() error = %v, want error containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	enc := newTestEncryptor(t)

	ciphertext, err := enc.Encrypt([]byte("sensitive data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// flip one bit past the nonce
	ciphertext[20] ^= 0x01

	_, err = enc.Decrypt(ciphertext)
	if err == nil {
		t.Fatal("Decrypt() should fail for tampered ciphertext")
	}
	if !strings.Contains(err.Error(), "authentication or integrity check failed") {
		t.Errorf("Decrypt() error = %v, want authentication failure", err)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	enc1 := newTestEncryptor(t)
	enc2 := newTestEncryptor(t)

	ciphertext, err := enc1.Encrypt([]byte("secret message"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := enc2.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() with a different key should fail")
	}
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	enc := newTestEncryptor(t)

	_, err := enc.Encrypt([]byte{})
	if err == nil {
		t.Fatal("Encrypt() with empty plaintext should return error")
	}
	if !strings.Contains(err.Error(), "plaintext is empty") {
		t.Errorf("Encrypt() error = %v, want empty-plaintext error", err)
	}
}

func TestStringWrappers(t *testing.T) {
	enc := newTestEncryptor(t)

	t.Run("empty passes through", func(t *testing.T) {
		if got, err := EncryptString(enc, ""); err != nil || got != "" {
			t.Errorf("EncryptString(\"\") = %q, %v; want empty, nil", got, err)
		}
		if got, err := DecryptString(enc, ""); err != nil || got != "" {
			t.Errorf("DecryptString(\"\") = %q, %v; want empty, nil", got, err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		plaintext := "test-access-token-12345"
		encrypted, err := EncryptString(enc, plaintext)
		if err != nil {
			t.Fatalf("EncryptString() error = %v", err)
		}
		if _, err := base64.StdEncoding.DecodeString(encrypted); err != nil {
			t.Errorf("EncryptString() result is not valid base64: %v", err)
		}
		decrypted, err := DecryptString(enc, encrypted)
		if err != nil {
			t.Fatalf("DecryptString() error = %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("DecryptString() = %q, want %q", decrypted, plaintext)
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := DecryptString(enc, "not-valid-base64!@#")
		if err == nil {
			t.Fatal("DecryptString() with invalid base64 should return error")
		}
		if !strings.Contains(err.Error(), "base64 decode failed") {
			t.Errorf("DecryptString() error = %v, want base64 error", err)
		}
	})
}

func TestCiphertextOverhead(t *testing.T) {
	enc := newTestEncryptor(t)

	plaintext := []byte("test")
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// 12-byte nonce + 16-byte GCM tag
	if overhead := len(ciphertext) - len(plaintext); overhead != 28 {
		t.Errorf("ciphertext overhead = %d bytes, want 28", overhead)
	}
}
