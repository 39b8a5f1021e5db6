package internal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// NewOTP returns a uniformly random numeric code with a non-zero leading digit,
// so a 6 digit code is drawn from 100000-999999.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	first, err := rand.Int(rand.Reader, big.NewInt(9))
	if err != nil {
		return "", err
	}
	b.WriteByte(byte('1' + first.Int64()))

	max := big.NewInt(10)
	for i := 1; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// RandomString draws length characters uniformly from alphabet.
func RandomString(length int, alphabet string) (string, error) {
	if length <= 0 || alphabet == "" {
		return "", errors.New("invalid random string parameters")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// RandomDuration returns a uniformly random duration in [min, max].
func RandomDuration(min, max time.Duration) (time.Duration, error) {
	if max < min {
		return 0, errors.New("invalid duration range")
	}
	if max == min {
		return min, nil
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min)+1))
	if err != nil {
		return 0, err
	}
	return min + time.Duration(n.Int64()), nil
}
