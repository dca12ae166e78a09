package storage

import (
	"bytes"
	"testing"

	"github.com/jmcleod/patientportal/internal/util"
)

func TestEnvelope(t *testing.T) {
	key, _ := util.RandomBytes(util.KeySize)
	plain := []byte("bearer-abc")
	aad := []byte("session:token")

	env, err := SealRecord(key, plain, aad)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if env.Ver != 1 {
		t.Errorf("expected version 1, got %d", env.Ver)
	}

	decrypted, err := OpenRecord(key, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if !bytes.Equal(plain, decrypted) {
		t.Errorf("expected %s, got %s", plain, decrypted)
	}

	t.Run("MarshalRoundTrip", func(t *testing.T) {
		data, err := env.Marshal()
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		back, err := UnmarshalEnvelope(data)
		if err != nil {
			t.Fatalf("UnmarshalEnvelope failed: %v", err)
		}
		got, err := OpenRecord(key, back, aad)
		if err != nil {
			t.Fatalf("OpenRecord after decode failed: %v", err)
		}
		if !bytes.Equal(plain, got) {
			t.Errorf("expected %s, got %s", plain, got)
		}
	})

	t.Run("UnmarshalGarbage", func(t *testing.T) {
		if _, err := UnmarshalEnvelope([]byte("{not json")); err == nil {
			t.Error("expected error decoding garbage, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		wrongKey, _ := util.RandomBytes(util.KeySize)
		if _, err := OpenRecord(wrongKey, env, aad); err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		badEnv := *env
		badEnv.Ver = 99
		if _, err := OpenRecord(key, &badEnv, aad); err == nil {
			t.Error("expected error with unsupported version, got nil")
		}
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		badEnv := *env
		badEnv.Scheme = "unknown"
		if _, err := OpenRecord(key, &badEnv, aad); err == nil {
			t.Error("expected error with unsupported scheme, got nil")
		}
	})
}
