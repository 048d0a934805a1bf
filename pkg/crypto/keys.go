package crypto

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateAPIKey produces the public project identifier (32 hex chars).
func GenerateAPIKey() (string, error) {
	return randomHex(16)
}

// GenerateSecurityKey produces the shared ingestion secret (64 hex chars).
func GenerateSecurityKey() (string, error) {
	return randomHex(32)
}

func randomHex(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
