package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/MrEthical07/charityauth"
)

func TestTranslateMapsDriverErrors(t *testing.T) {
	assert.NoError(t, translate("op", nil))
	assert.ErrorIs(t, translate("op", pgx.ErrNoRows), charityauth.ErrAccountNotFound)
	assert.ErrorIs(t, translate("op", fmt.Errorf("exec: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation})), charityauth.ErrDuplicateAccount)
	assert.ErrorIs(t, translate("op", context.DeadlineExceeded), context.DeadlineExceeded)

	boom := errors.New("connection reset")
	err := translate("update account", boom)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "postgres: update account")
}

func TestSelectAccountsAliasesEveryColumn(t *testing.T) {
	plain := selectAccounts("")
	aliased := selectAccounts("a")

	assert.True(t, strings.HasSuffix(plain, " FROM accounts"))
	for _, c := range accountColumns {
		assert.Contains(t, aliased, "a."+c)
	}
	assert.Equal(t, len(accountColumns)-1, strings.Count(plain, ", "))
}

func TestIdentifierKeysMatchMemoryStore(t *testing.T) {
	assert.Equal(t, "donor@example.org", emailKey("  Donor@Example.org "))
	assert.Equal(t, "+15550100001", phoneKey("+1 (555) 010-0001"))
	assert.Empty(t, emailKey(" "))
}
