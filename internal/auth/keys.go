// Package auth issues and hashes user API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix marks sceneplane API keys so they are recognisable in configs and logs.
const KeyPrefix = "sp_"

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GenerateKey returns a new random API key (32 bytes of entropy).
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("entropy failure: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(raw), nil
}
