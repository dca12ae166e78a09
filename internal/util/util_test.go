package util

import (
	"bytes"
	"strings"
	"testing"
)

func TestSeal(t *testing.T) {
	key, err := RandomBytes(KeySize)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	plainText := []byte("bearer-token")
	aad := []byte("session:token")

	t.Run("RoundTrip", func(t *testing.T) {
		sealed, err := Seal(key, plainText, aad)
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		opened, err := Open(key, sealed, aad)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if !bytes.Equal(plainText, opened) {
			t.Errorf("expected %s, got %s", plainText, opened)
		}
	})

	t.Run("WrongAAD", func(t *testing.T) {
		sealed, _ := Seal(key, plainText, aad)
		if _, err := Open(key, sealed, []byte("other")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("Tampered", func(t *testing.T) {
		sealed, _ := Seal(key, plainText, aad)
		sealed[len(sealed)-1] ^= 0xFF
		if _, err := Open(key, sealed, aad); err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		if _, err := Open(key, []byte{1, 2, 3}, aad); err == nil {
			t.Error("expected error for truncated input, got nil")
		}
	})

	t.Run("BadKeySize", func(t *testing.T) {
		if _, err := Seal([]byte("short"), plainText, aad); err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})
}

func TestDeriveKey(t *testing.T) {
	seed := []byte("device secret")
	k1, err := DeriveKey(seed, nil, []byte("token"))
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	k2, _ := DeriveKey(seed, nil, []byte("token"))
	k3, _ := DeriveKey(seed, nil, []byte("other"))
	if len(k1) != KeySize {
		t.Fatalf("expected %d byte key, got %d", KeySize, len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same inputs produced different keys")
	}
	if bytes.Equal(k1, k3) {
		t.Error("different info produced the same key")
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(hash, "argon2id$") {
		t.Fatalf("unexpected hash format %q", hash)
	}
	if !VerifyPassword("secret", hash) {
		t.Error("expected password to verify")
	}
	if VerifyPassword("Secret", hash) {
		t.Error("expected different password to fail")
	}
	if VerifyPassword("secret", "not-a-hash") {
		t.Error("expected malformed hash to fail")
	}
}

func TestFoldPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"9876543210", "9876543210"},
		{" 98765 43210 ", "9876543210"},
		{"+91 (987) 654-3210", "+919876543210"},
		{"９８７６５４３２１０", "9876543210"},
		{"98+76", "9876"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FoldPhone(tt.in); got != tt.want {
			t.Errorf("FoldPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	c := CopyBytes(b)
	WipeBytes(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("expected wiped slice, got %v", b)
	}
	if !bytes.Equal(c, []byte{1, 2, 3}) {
		t.Errorf("copy should be independent, got %v", c)
	}
	if CopyBytes(nil) != nil {
		t.Error("CopyBytes(nil) should be nil")
	}
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	if err != nil {
		t.Fatalf("RandomHex failed: %v", err)
	}
	b, _ := RandomHex(16)
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	if a == b {
		t.Error("two RandomHex calls returned the same value")
	}
}
