// Package hasher provides credential hashing implementations.
package hasher

import (
	"github.com/artpar/plume/ports"
	"golang.org/x/crypto/bcrypt"
)

// Bcrypt uses bcrypt for hashing.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher. Out-of-range costs fall back to the
// bcrypt default.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Hash generates a bcrypt hash from plaintext.
func (h *Bcrypt) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Compare checks if plaintext matches hash.
func (h *Bcrypt) Compare(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

var _ ports.Hasher = (*Bcrypt)(nil)

// Fake is a no-op hasher for tests (NOT FOR PRODUCTION). The hash is the
// plaintext prefixed so tests can assert derivation happened.
type Fake struct{}

// Hash returns a marked copy of the plaintext.
func (Fake) Hash(plaintext string) ([]byte, error) {
	return []byte("hashed:" + plaintext), nil
}

// Compare does the inverse of Hash.
func (Fake) Compare(hash []byte, plaintext string) bool {
	return string(hash) == "hashed:"+plaintext
}

var _ ports.Hasher = Fake{}
