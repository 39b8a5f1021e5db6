// Package device keeps the set of trusted device fingerprints on an account.
//
// Only fingerprints are persisted. A fingerprint is the hex sha256 of the
// client-supplied device identifier, so a leaked account row does not reveal
// the identifiers themselves.
package device

import (
	"strings"

	"github.com/MrEthical07/charityauth/internal"
)

// Fingerprint returns the stored form of deviceID, or "" for a blank id.
func Fingerprint(deviceID string) string {
	id := strings.TrimSpace(deviceID)
	if id == "" {
		return ""
	}
	return internal.HashValueHex(id)
}

// IsTrusted reports whether deviceID is in the trusted set. A blank id is
// never trusted.
func IsTrusted(trusted []string, deviceID string) bool {
	fp := Fingerprint(deviceID)
	if fp == "" {
		return false
	}
	return indexOf(trusted, fp) >= 0
}

// Trust adds deviceID to the set. It returns the resulting set and whether it
// changed; trusting an already trusted device is a no-op.
func Trust(trusted []string, deviceID string) ([]string, bool) {
	fp := Fingerprint(deviceID)
	if fp == "" || indexOf(trusted, fp) >= 0 {
		return trusted, false
	}
	out := make([]string, 0, len(trusted)+1)
	out = append(out, trusted...)
	return append(out, fp), true
}

// Revoke removes deviceID from the set. Revoking an unknown device is a no-op.
func Revoke(trusted []string, deviceID string) ([]string, bool) {
	fp := Fingerprint(deviceID)
	i := indexOf(trusted, fp)
	if fp == "" || i < 0 {
		return trusted, false
	}
	out := make([]string, 0, len(trusted)-1)
	out = append(out, trusted[:i]...)
	return append(out, trusted[i+1:]...), true
}

func indexOf(set []string, fp string) int {
	for i, v := range set {
		if v == fp {
			return i
		}
	}
	return -1
}
