package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

const (
	// accessKeyPrefix is the prefix used for generated pairing keys.
	accessKeyPrefix = "tg_"
	// accessKeyHashCost is the bcrypt work factor for the stored key hash.
	// Pairing happens once per install, so a slow hash costs nothing.
	accessKeyHashCost = 12
)

// GenerateAccessKey creates a new random pairing key string.
func GenerateAccessKey() (string, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate access key: %w", err)
	}
	return accessKeyPrefix + hex.EncodeToString(secret), nil
}

// GenerateRandomString returns a hex-encoded random string of the given length.
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	return hex.EncodeToString(bytes)[:length], nil
}

// HashAccessKey returns the bcrypt hash stored in place of the pairing key;
// the plaintext is shown once at setup and never persisted.
func HashAccessKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), accessKeyHashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckAccessKey reports whether a presented pairing key matches the stored
// hash.
func CheckAccessKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
