package twofactor

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/charityauth/internal"
)

const (
	// DefaultBackupCodeCount is the number of codes issued per set.
	DefaultBackupCodeCount = 8
	backupCodeLength       = 10
	backupCodeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// BackupCode is the persisted form of a backup code. The plaintext is never
// stored.
type BackupCode struct {
	Hash   string     `json:"hash"`
	Used   bool       `json:"used"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

// GenerateBackupCodes returns count plaintext codes for one-time display and
// their persisted hashes, in the same order.
func GenerateBackupCodes(accountID string, count int) ([]string, []BackupCode, error) {
	if accountID == "" {
		return nil, nil, errors.New("backup codes require an account id")
	}
	if count <= 0 {
		count = DefaultBackupCodeCount
	}

	plain := make([]string, 0, count)
	stored := make([]BackupCode, 0, count)
	seen := make(map[string]struct{}, count)
	for len(plain) < count {
		raw, err := internal.RandomString(backupCodeLength, backupCodeAlphabet)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		plain = append(plain, formatBackupCode(raw))
		stored = append(stored, BackupCode{Hash: HashBackupCode(accountID, raw)})
	}
	return plain, stored, nil
}

// ConsumeBackupCode marks the unused code matching input as used and reports
// whether one was found. codes is modified in place. Used codes never match
// again.
func ConsumeBackupCode(accountID string, codes []BackupCode, input string, now time.Time) bool {
	canonical := CanonicalizeBackupCode(input)
	if canonical == "" {
		return false
	}
	want := []byte(HashBackupCode(accountID, canonical))

	match := -1
	for i := range codes {
		eq := subtle.ConstantTimeCompare([]byte(codes[i].Hash), want) == 1
		if eq && !codes[i].Used && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return false
	}

	usedAt := now
	codes[match].Used = true
	codes[match].UsedAt = &usedAt
	return true
}

// RemainingBackupCodes counts unused codes.
func RemainingBackupCodes(codes []BackupCode) int {
	n := 0
	for _, c := range codes {
		if !c.Used {
			n++
		}
	}
	return n
}

// CanonicalizeBackupCode upper-cases input and strips spaces and dashes.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// HashBackupCode binds a canonical code to its account.
func HashBackupCode(accountID, canonical string) string {
	data := make([]byte, 0, len(accountID)+1+len(canonical))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func formatBackupCode(code string) string {
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
