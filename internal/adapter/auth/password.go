package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when no real hash is available, so an
// unknown username costs the same as a wrong password.
var dummyHash = mustHash("knowledge-gatekeeper-dummy-password", bcrypt.DefaultCost)

// BcryptHasher implements port.PasswordHasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher. A cost of 0 uses bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the bcrypt hash of password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

// Verify reports whether password matches hash. An empty or malformed hash
// is replaced by a dummy comparison and always fails.
func (h *BcryptHasher) Verify(hash, password string) bool {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func mustHash(password string, cost int) []byte {
	out, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		panic("auth: bcrypt dummy hash: " + err.Error())
	}
	return out
}
