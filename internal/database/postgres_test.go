package database

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pingpay/backend/internal/models"
)

// Set PINGPAY_TEST_DATABASE_URL to a disposable database to run these, e.g.
// "host=localhost port=5432 user=postgres password=postgres dbname=pingpay_test sslmode=disable"
const testDSNEnv = "PINGPAY_TEST_DATABASE_URL"

func openTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}

	ctx := context.Background()
	db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(ctx, db, "migrations/001_schema.sql"))
	_, err = db.ExecContext(ctx, `TRUNCATE transfers, wallets RESTART IDENTITY`)
	require.NoError(t, err)

	return db
}

func TestPostgres_UpsertWallet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, inserted, err := db.UpsertWallet(ctx, &models.Wallet{Handle: "@Alice", Address: "0xAAA", PrivateKey: "k1"})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "alice", first.Handle)
	assert.Equal(t, "0xaaa", first.Address)

	second, inserted, err := db.UpsertWallet(ctx, &models.Wallet{Handle: "ALICE", Address: "0xBBB", PrivateKey: "k2"})
	require.NoError(t, err)
	assert.False(t, inserted, "an existing row reports inserted=false")
	assert.Equal(t, "0xaaa", second.Address)
	assert.Equal(t, "k1", second.PrivateKey)

	missing, err := db.GetWalletByHandle(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	w, err := db.UpdateWalletChannel(ctx, "alice", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", models.StringValue(w.NotificationChannel))
}

func TestPostgres_UpsertWalletConcurrent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserts  int
		accounts = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, inserted, err := db.UpsertWallet(ctx, &models.Wallet{
				Handle:     "carol",
				Address:    "0x" + string(rune('a'+i)),
				PrivateKey: "k",
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if inserted {
				inserts++
			}
			accounts[w.Address] = true
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, inserts)
	assert.Len(t, accounts, 1)
}

func TestPostgres_GuardedTransitions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stored, inserted, err := db.InsertTransfer(ctx, newTestTransfer("t1"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, models.TransferStatusPending, stored.Status)

	again, inserted, err := db.InsertTransfer(ctx, newTestTransfer("t1"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, stored.ID, again.ID)

	_, ok, err := db.AttachTxHash(ctx, "t1", "0xhash")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = db.ConfirmTransfer(ctx, "t1", "0xother", "tok")
	require.NoError(t, err)
	assert.False(t, ok, "a different hash misses the guard")

	confirmed, ok, err := db.ConfirmTransfer(ctx, "t1", "0xhash", "tok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok", models.StringValue(confirmed.ClaimToken))

	_, ok, err = db.ConfirmTransfer(ctx, "t1", "0xhash", "tok2")
	require.NoError(t, err)
	assert.False(t, ok)

	claimedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	claimed, ok, err := db.ClaimTransfer(ctx, "tok", claimedAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, claimedAt.Equal(*claimed.ClaimedAt))

	_, ok, err = db.ClaimTransfer(ctx, "tok", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = db.FailTransfer(ctx, "t1", "late")
	require.NoError(t, err)
	assert.False(t, ok, "claimed transfers cannot fail")
}

func TestPostgres_FailClearsToken(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, _, err := db.InsertTransfer(ctx, newTestTransfer("t1"))
	require.NoError(t, err)
	_, _, err = db.ConfirmTransfer(ctx, "t1", "0xhash", "tok")
	require.NoError(t, err)

	failed, ok, err := db.FailTransfer(ctx, "t1", "reorg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, failed.ClaimToken)

	byToken, err := db.GetTransferByClaimToken(ctx, "tok")
	require.NoError(t, err)
	assert.Nil(t, byToken)
}

func TestPostgres_TxHashBindsOneTransfer(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		_, _, err := db.InsertTransfer(ctx, newTestTransfer(id))
		require.NoError(t, err)
	}

	_, _, err := db.ConfirmTransfer(ctx, "t1", "0xpaid", "tok1")
	require.NoError(t, err)

	_, ok, err := db.AttachTxHash(ctx, "t2", "0xpaid")
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.False(t, ok)

	_, ok, err = db.ConfirmTransfer(ctx, "t2", "0xpaid", "tok2")
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.False(t, ok)

	t2, err := db.GetTransferByID(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusPending, t2.Status)
	assert.Nil(t, t2.TxHash)
}

func TestPostgres_CheckConstraints(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, _, err := db.InsertTransfer(ctx, newTestTransfer("t1"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
	}{
		{name: "confirmed without a claim token", query: `UPDATE transfers SET status = 'confirmed' WHERE transfer_id = 't1'`},
		{name: "claimed without claimed_at", query: `UPDATE transfers SET status = 'claimed', claim_token = 'x' WHERE transfer_id = 't1'`},
		{name: "unknown status", query: `UPDATE transfers SET status = 'refunded' WHERE transfer_id = 't1'`},
		{name: "failure reason on a pending transfer", query: `UPDATE transfers SET failure_reason = 'rpc down' WHERE transfer_id = 't1'`},
		{name: "mixed case handle", query: `INSERT INTO wallets (handle, address, private_key) VALUES ('Bob', '0xb0b', 'k')`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.ExecContext(ctx, tt.query)
			assert.Error(t, err)
		})
	}
}

func TestPostgres_VerifyAttemptsAndIdleListing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, _, err := db.InsertTransfer(ctx, newTestTransfer("t1"))
	require.NoError(t, err)
	_, _, err = db.AttachTxHash(ctx, "t1", "0xhash")
	require.NoError(t, err)

	attempts, err := db.IncrementVerifyAttempts(ctx, "t1", "rpc down")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	stored, err := db.GetTransferByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusPending, stored.Status)
	assert.Nil(t, stored.FailureReason)
	assert.Equal(t, "rpc down", models.StringValue(stored.LastVerifyError))

	recent, err := db.ListUnverifiedTransfers(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, recent, "just touched")

	idle, err := db.ListUnverifiedTransfers(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "t1", idle[0].TransferID)
}
