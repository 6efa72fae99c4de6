// Package security issues operator tokens and verifies operator passwords.
package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned when an operator password does not match the configured hash.
var ErrBadCredentials = errors.New("bad credentials")

// Hasher hashes and verifies operator passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to 4–31. Zero selects bcrypt's default.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	cost = max(cost, bcrypt.MinCost)
	cost = min(cost, bcrypt.MaxCost)
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of password, suitable for OPERATOR_PASSWORD_HASH.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against hash in constant time. A mismatch or an empty hash yields
// ErrBadCredentials; a malformed hash is returned as is.
func (h *Hasher) Compare(hash string, password []byte) error {
	if hash == "" {
		return ErrBadCredentials
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), password)
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrBadCredentials
	}
	return err
}
