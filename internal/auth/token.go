package auth

import (
	"crypto/rand"
	"fmt"
)

// TokenLength is the size of a bearer token in characters.
const TokenLength = 64

const tokenChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateToken returns a fresh 64-character alphanumeric bearer token.
func GenerateToken() (string, error) {
	buf := make([]byte, TokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = tokenChars[int(b)%len(tokenChars)]
	}
	return string(buf), nil
}
