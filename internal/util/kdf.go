package util

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands seed into a KeySize key scoped by info.
func DeriveKey(seed, salt, info []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, KeySize)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonSaltLen = 16
)

// HashPassword returns an encoded argon2id hash of the NFKD-normalized
// password in the form "argon2id$<salt>$<key>".
func HashPassword(password string) (string, error) {
	salt, err := RandomBytes(argonSaltLen)
	if err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(Normalize(password)), salt, argonTime, argonMemory, argonThreads, KeySize)
	enc := base64.RawStdEncoding
	return "argon2id$" + enc.EncodeToString(salt) + "$" + enc.EncodeToString(key), nil
}

// VerifyPassword reports whether password matches an encoded hash produced
// by HashPassword. Malformed hashes never match.
func VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := enc.DecodeString(parts[2])
	if err != nil || len(want) != KeySize {
		return false
	}
	got := argon2.IDKey([]byte(Normalize(password)), salt, argonTime, argonMemory, argonThreads, KeySize)
	return subtle.ConstantTimeCompare(got, want) == 1
}
