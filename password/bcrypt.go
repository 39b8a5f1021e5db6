package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt hashes with bcrypt at a fixed cost.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher. A zero cost selects bcrypt.DefaultCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	return &Bcrypt{cost: cost}, nil
}

func (b *Bcrypt) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *Bcrypt) Verify(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrMalformedHash
	}
}

func isBcryptHash(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}

// Multi hashes new passwords with Primary and verifies stored hashes with the
// algorithm their prefix names.
type Multi struct {
	Primary *Argon2
	Legacy  *Bcrypt
}

func (m *Multi) Hash(password string) (string, error) {
	return m.Primary.Hash(password)
}

func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, argon2Prefix):
		return m.Primary.Verify(password, encodedHash)
	case isBcryptHash(encodedHash) && m.Legacy != nil:
		return m.Legacy.Verify(password, encodedHash)
	default:
		return false, ErrMalformedHash
	}
}

// NeedsUpgrade reports true for every legacy hash and for argon2 hashes
// minted with weaker parameters.
func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	if isBcryptHash(encodedHash) {
		return true, nil
	}
	return m.Primary.NeedsUpgrade(encodedHash)
}
