package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateRandomString returns a hex string carrying byteLen random bytes.
func GenerateRandomString(byteLen int) (string, error) {
	if byteLen <= 0 {
		byteLen = 32
	}
	buf := make([]byte, byteLen)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("security: random string: %w", errRead)
	}
	return hex.EncodeToString(buf), nil
}
