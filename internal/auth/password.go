package auth

// PASSWORD HASHING:
//
// WHY BCRYPT?
// bcrypt is deliberately slow, which makes brute-forcing a stolen digest
// expensive. It also:
//   - generates a random salt per hash (equal passwords get different digests)
//   - embeds the salt and cost in its output (no separate salt column)
//   - lets the work factor grow with hardware via "cost"
//
// Digest format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 iterations)
//	 version
//
// THE 72-BYTE LIMIT:
// bcrypt only reads the first 72 bytes of its input, and x/crypto refuses
// longer input outright. A password longer than that is first reduced with
// SHA-256 and base64 (44 bytes), so every byte still counts. Passwords of 72
// bytes or fewer go to bcrypt unchanged, which keeps existing digests valid.

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/tenant-accounts/internal/apperror"
)

const (
	// DefaultCost is the bcrypt work factor used in production.
	//
	// COST TUNING RULE OF THUMB:
	// pick the cost that makes one hash take ~200-300ms on production
	// hardware. Lower is easy to crack; higher makes logins sluggish under
	// load. BCRYPT_COST overrides it.
	DefaultCost = 12

	// DefaultMinLength is the minimum password length when none is configured.
	DefaultMinLength = 8

	// bcryptInputLimit is the most bcrypt will read.
	bcryptInputLimit = 72
)

// ErrMismatch is returned by Verify when the password does not match.
var ErrMismatch = errors.New("auth: invalid password")

// PasswordService enforces the password policy and produces bcrypt digests.
//
// It's a struct (not free functions) so the cost can be injected: tests use
// bcrypt.MinCost and run in milliseconds without changing the logic.
type PasswordService struct {
	cost      int
	minLength int
}

// NewPasswordService creates a PasswordService. Zero values fall back to
// DefaultCost and DefaultMinLength.
func NewPasswordService(cost, minLength int) *PasswordService {
	if cost == 0 {
		cost = DefaultCost
	}
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &PasswordService{cost: cost, minLength: minLength}
}

// NewPasswordServiceForTest uses bcrypt.MinCost. Do NOT use in production.
func NewPasswordServiceForTest(minLength int) *PasswordService {
	return NewPasswordService(bcrypt.MinCost, minLength)
}

// MinLength is the configured minimum password length.
func (p *PasswordService) MinLength() int {
	return p.minLength
}

// Validate checks the policy without hashing.
func (p *PasswordService) Validate(plaintext string) error {
	if len(plaintext) < p.minLength {
		return apperror.PasswordTooShort(p.minLength)
	}
	return nil
}

// bcryptInput is what actually goes into bcrypt for plaintext.
func bcryptInput(plaintext string) []byte {
	if len(plaintext) <= bcryptInputLimit {
		return []byte(plaintext)
	}
	sum := sha256.Sum256([]byte(plaintext))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// Hash validates the password and returns its bcrypt digest.
// The plaintext is never returned or logged.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if err := p.Validate(plaintext); err != nil {
		return "", err
	}

	hashed, err := bcrypt.GenerateFromPassword(bcryptInput(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks a plaintext password against a stored digest.
// It returns ErrMismatch when they differ. bcrypt compares in constant time.
func (p *PasswordService) Verify(digest, plaintext string) error {
	if digest == "" {
		return ErrMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), bcryptInput(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
