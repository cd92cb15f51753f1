package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies secrets with bcrypt. It is used for both
// passwords and action tokens, so neither is ever persisted in plaintext.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher with the given bcrypt cost factor. Costs
// outside the bcrypt range fall back to the library default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the salted one-way hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("auth: empty plaintext")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches the stored hash. A mismatch is
// not an error.
func (h *Hasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
