// Package idgen generates unguessable identifiers and throwaway secrets.
package idgen

import (
	"crypto/rand"
	"fmt"
)

// UserIDLength is the length of every user id.
const UserIDLength = 10

// alphabet is lowercase RFC 4648 base32: 32 symbols, so one random byte
// masked to 5 bits maps to a symbol without bias.
const alphabet = "abcdefghijklmnopqrstuvwxyz234567"

// String returns n crypto-random characters from the lowercase base32 alphabet.
func String(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("idgen: reading random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = alphabet[b&31]
	}
	return string(buf), nil
}

// UserID returns a new user id. Collisions are not rechecked; 50 bits of
// entropy make them negligible at server scale.
func UserID() (string, error) {
	return String(UserIDLength)
}
