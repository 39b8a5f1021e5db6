package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashValue returns the sha256 digest of v.
func HashValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}

// HashValueHex returns the lowercase hex sha256 digest of v.
func HashValueHex(v string) string {
	sum := HashValue(v)
	return hex.EncodeToString(sum[:])
}
