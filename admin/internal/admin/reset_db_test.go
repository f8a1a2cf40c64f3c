package admin

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/bonds/api/store"
	apitesting "github.com/malbeclabs/bonds/api/testing"
	bondstesting "github.com/malbeclabs/bonds/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var sharedDB *apitesting.DB

func TestMain(m *testing.M) {
	var err error
	sharedDB, err = apitesting.NewDB(context.Background(), bondstesting.NewLogger(), nil)
	if err != nil {
		panic(err)
	}
	code := m.Run()
	sharedDB.Close()
	os.Exit(code)
}

func seed(t *testing.T, pool *pgxpool.Pool, configAddr solana.PublicKey) {
	t.Helper()
	st, err := store.NewStore(store.StoreConfig{Logger: bondstesting.NewLogger(), Pool: pool, Config: configAddr})
	require.NoError(t, err)
	bond := store.Bond{
		Address:     solana.NewWallet().PublicKey().String(),
		Config:      configAddr.String(),
		VoteAccount: solana.NewWallet().PublicKey().String(),
		Authority:   solana.NewWallet().PublicKey().String(),
	}
	settlement := store.Settlement{
		Address:     solana.NewWallet().PublicKey().String(),
		Config:      configAddr.String(),
		Bond:        bond.Address,
		VoteAccount: bond.VoteAccount,
		MerkleRoot:  solana.Hash{}.String(),
		Epoch:       10,
	}
	require.NoError(t, st.ReplaceSnapshot(t.Context(), 11, 100, []store.Bond{bond}, []store.Settlement{settlement}))
}

func countRows(t *testing.T, pool *pgxpool.Pool) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(t.Context(),
		"SELECT (SELECT COUNT(*) FROM bonds) + (SELECT COUNT(*) FROM settlements) + (SELECT COUNT(*) FROM sync_state)").Scan(&n))
	return n
}

func TestBonds_Admin_ResetDB(t *testing.T) {
	t.Parallel()

	t.Run("dry run keeps rows", func(t *testing.T) {
		t.Parallel()
		pool := apitesting.NewTestPool(t, sharedDB)
		seed(t, pool, solana.NewWallet().PublicKey())

		var out bytes.Buffer
		require.NoError(t, ResetDB(t.Context(), bondstesting.NewLogger(), pool, ResetDBConfig{DryRun: true, Out: &out}))
		require.Contains(t, out.String(), "[DRY RUN]")
		require.Equal(t, 3, countRows(t, pool))
	})

	t.Run("declined confirmation keeps rows", func(t *testing.T) {
		t.Parallel()
		pool := apitesting.NewTestPool(t, sharedDB)
		seed(t, pool, solana.NewWallet().PublicKey())

		var out bytes.Buffer
		require.NoError(t, ResetDB(t.Context(), bondstesting.NewLogger(), pool, ResetDBConfig{In: strings.NewReader("no\n"), Out: &out}))
		require.Contains(t, out.String(), "cancelled")
		require.Equal(t, 3, countRows(t, pool))
	})

	t.Run("confirmed reset scoped to config", func(t *testing.T) {
		t.Parallel()
		pool := apitesting.NewTestPool(t, sharedDB)
		keep, drop := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
		seed(t, pool, keep)
		seed(t, pool, drop)

		var out bytes.Buffer
		require.NoError(t, ResetDB(t.Context(), bondstesting.NewLogger(), pool, ResetDBConfig{
			Config: drop.String(),
			In:     strings.NewReader("yes\n"),
			Out:    &out,
		}))
		require.Contains(t, out.String(), "Successfully deleted 3 row(s)")
		require.Equal(t, 3, countRows(t, pool))
	})

	t.Run("empty database", func(t *testing.T) {
		t.Parallel()
		pool := apitesting.NewTestPool(t, sharedDB)
		var out bytes.Buffer
		require.NoError(t, ResetDB(t.Context(), bondstesting.NewLogger(), pool, ResetDBConfig{SkipConfirm: true, Out: &out}))
		require.Contains(t, out.String(), "No rows to delete")
	})
}
