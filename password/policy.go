package password

import (
	"errors"
	"strings"
	"unicode"

	"github.com/MrEthical07/charityauth/internal"
)

// ErrWeakPassword is returned when a password fails the strength policy.
var ErrWeakPassword = errors.New("password must be at least 8 characters with uppercase, lowercase, number and special character")

// Symbols is the punctuation set that satisfies the symbol rule.
const Symbols = `!@#$%^&*(),.?":{}|<>`

// Policy is a strength rule set. Each class flag requires at least one
// character of that class.
type Policy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// StrictPolicy applies to password change, reset and, by default,
// registration.
func StrictPolicy() Policy {
	return Policy{
		MinLength:     8,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// RegistrationPolicy is the lighter tier allowed at sign-up when enabled.
func RegistrationPolicy() Policy {
	p := StrictPolicy()
	p.MinLength = 6
	return p
}

// Validate returns ErrWeakPassword when any rule fails.
func (p Policy) Validate(password string) error {
	if len([]rune(password)) < p.MinLength {
		return ErrWeakPassword
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(Symbols, r):
			symbol = true
		}
	}

	if (p.RequireUpper && !upper) ||
		(p.RequireLower && !lower) ||
		(p.RequireDigit && !digit) ||
		(p.RequireSymbol && !symbol) {
		return ErrWeakPassword
	}
	return nil
}

const (
	generatedLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	generatedDigits  = "0123456789"
	generatedSymbols = "!@#$%^&*"
	maxGenerateTries = 64
)

// Generate returns a random password of the given length that satisfies
// StrictPolicy. Used for admin-provisioned accounts.
func Generate(length int) (string, error) {
	if length < StrictPolicy().MinLength {
		return "", errors.New("generated password length must be >= 8")
	}

	alphabet := generatedLetters + generatedDigits + generatedSymbols
	policy := StrictPolicy()
	for i := 0; i < maxGenerateTries; i++ {
		candidate, err := internal.RandomString(length, alphabet)
		if err != nil {
			return "", err
		}
		if policy.Validate(candidate) == nil {
			return candidate, nil
		}
	}
	return "", errors.New("failed to generate a compliant password")
}
