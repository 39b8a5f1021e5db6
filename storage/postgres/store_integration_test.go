//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/charityauth"
	"github.com/MrEthical07/charityauth/storetest"
)

// Run with CHARITYAUTH_TEST_POSTGRES_DSN pointing at a disposable database:
//
//	go test -tags integration ./storage/postgres
func TestStoreSuite(t *testing.T) {
	dsn := os.Getenv("CHARITYAUTH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHARITYAUTH_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := Open(ctx, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := New(pool)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrate must be idempotent")
	version, dirty, err := store.MigrationVersion(ctx)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(2), version)

	storetest.Run(t, func(t *testing.T) charityauth.AccountStore {
		_, err := pool.Exec(ctx, `TRUNCATE verification_documents, accounts`)
		require.NoError(t, err)
		return store
	})
}
