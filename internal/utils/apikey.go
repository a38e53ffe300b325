package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// GenerateAPIKey returns a new random API key and its bcrypt hash. Only the
// hash is persisted; the raw key is shown to the tenant once.
func GenerateAPIKey() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	raw = "hx_" + base64.RawURLEncoding.EncodeToString(buf)
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}
	return raw, string(hashed), nil
}

// HashAPIKey hashes a raw API key for storage.
func HashAPIKey(raw string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hashed), nil
}

// VerifyAPIKey reports whether raw matches the stored bcrypt hash.
func VerifyAPIKey(hash, raw string) bool {
	if strings.TrimSpace(hash) == "" || strings.TrimSpace(raw) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
