package tool

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// TokenBytes is the entropy of a download token: 20 bytes, 160 bits.
const TokenBytes = 20

func GenerateRandomUUID() string {
	return uuid.New().String()
}

// GenerateToken returns an unguessable hex token for download links.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateShortID returns an 8 char hex id, used for log correlation and temp file suffixes.
func GenerateShortID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return GenerateRandomUUID()[:8] // fallback
	}
	return hex.EncodeToString(b)
}
