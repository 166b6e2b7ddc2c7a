package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: "sqlite", DSN: ":memory:"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	t.Run("unsupported driver", func(t *testing.T) {
		_, err := Open(context.Background(), Config{Driver: "postgres", DSN: "x"}, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("mysql requires dsn", func(t *testing.T) {
		_, err := Open(context.Background(), Config{Driver: "mysql"}, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("file database is migrated idempotently", func(t *testing.T) {
		path := t.TempDir() + "/chainpilot.db"
		db, err := Open(context.Background(), Config{Driver: "sqlite", DSN: path}, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, db.Close())

		db, err = Open(context.Background(), Config{Driver: "sqlite", DSN: path}, zerolog.Nop())
		require.NoError(t, err)
		assert.NoError(t, db.Ping(context.Background()))
		require.NoError(t, db.Close())
	})
}

func TestGetOrCreateUser(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	u, created, err := db.GetOrCreateUser(ctx, UserParams{TelegramID: 42, Username: "alice", Name: "Alice", ReferredBy: "FRIEND01"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(42), u.TelegramID)
	assert.NotEmpty(t, u.CurrentThreadID)
	assert.Len(t, u.ReferralCode, referralLength)
	assert.Equal(t, "FRIEND01", u.ReferredBy)
	assert.False(t, u.HasWallet())

	again, created, err := db.GetOrCreateUser(ctx, UserParams{TelegramID: 42, Username: "renamed"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.CurrentThreadID, again.CurrentThreadID)
	assert.Equal(t, "alice", again.Username)
}

func TestGetOrCreateUserConcurrent(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	var wg sync.WaitGroup
	threads := make([]string, 8)
	for i := range threads {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, _, err := db.GetOrCreateUser(ctx, UserParams{TelegramID: 7})
			if assert.NoError(t, err) {
				threads[i] = u.CurrentThreadID
			}
		}(i)
	}
	wg.Wait()

	for _, th := range threads {
		assert.Equal(t, threads[0], th)
	}
}

func TestMnemonic(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	_, err := db.GetMnemonicByTelegramID(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = db.GetOrCreateUser(ctx, UserParams{TelegramID: 1})
	require.NoError(t, err)

	_, err = db.GetMnemonicByTelegramID(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound, "user without seed phrase has no wallet")

	require.NoError(t, db.SetMnemonic(ctx, 1, "legal winner thank year wave sausage worth useful legal winner thank yellow"))
	m, err := db.GetMnemonicByTelegramID(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, m, "sausage")

	assert.ErrorIs(t, db.SetMnemonic(ctx, 99, "x"), ErrNotFound)
}

func TestRotateThread(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	u, _, err := db.GetOrCreateUser(ctx, UserParams{TelegramID: 5})
	require.NoError(t, err)

	next, err := db.RotateThread(ctx, 5)
	require.NoError(t, err)
	assert.NotEqual(t, u.CurrentThreadID, next)

	reloaded, err := db.GetUser(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, next, reloaded.CurrentThreadID)

	_, err = db.RotateThread(ctx, 6)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaims(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := db.SaveClaimTransaction(ctx, Claim{TelegramID: 1, Amount: "1.5", TokenSymbol: "BNB", Network: "bnb",
		Provider: "lista", TxHash: "0xaaa", EligibleAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = db.SaveClaimTransaction(ctx, Claim{TelegramID: 1, Amount: "2", TokenSymbol: "ETH", Network: "base",
		Provider: "aave", TxHash: "0xbbb", EligibleAt: base.Add(48 * time.Hour)})
	require.NoError(t, err)

	_, err = db.SaveClaimTransaction(ctx, Claim{TelegramID: 1})
	assert.Error(t, err, "hash is required")

	due, err := db.DueClaims(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "0xaaa", due[0].TxHash)
	assert.Equal(t, base.Add(time.Hour), due[0].EligibleAt)
	assert.True(t, due[0].NotifiedAt.IsZero())

	require.NoError(t, db.MarkNotified(ctx, due[0].ID, base.Add(2*time.Hour)))

	due, err = db.DueClaims(ctx, base.Add(72*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "0xbbb", due[0].TxHash)

	assert.ErrorIs(t, db.MarkNotified(ctx, 999, base), ErrNotFound)
}

func TestClaimsNotifyFailuresBackOff(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	failing, err := db.SaveClaimTransaction(ctx, Claim{TelegramID: 1, Amount: "1", TokenSymbol: "BNB", Network: "bnb",
		TxHash: "0xold", EligibleAt: base})
	require.NoError(t, err)
	fresh, err := db.SaveClaimTransaction(ctx, Claim{TelegramID: 2, Amount: "1", TokenSymbol: "BNB", Network: "bnb",
		TxHash: "0xnew", EligibleAt: base.Add(time.Minute)})
	require.NoError(t, err)

	now := base.Add(time.Hour)
	require.NoError(t, db.RecordNotifyFailure(ctx, failing, now.Add(10*time.Minute)))

	due, err := db.DueClaims(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, fresh, due[0].ID, "a claim backing off does not hold the batch")

	due, err = db.DueClaims(ctx, now.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, fresh, due[0].ID, "never-attempted claims come first")
	assert.Equal(t, 1, due[1].NotifyAttempts)
	assert.Equal(t, now.Add(10*time.Minute), due[1].NextAttemptAt)

	for i := 1; i < MaxNotifyAttempts; i++ {
		require.NoError(t, db.RecordNotifyFailure(ctx, failing, now))
	}
	due, err = db.DueClaims(ctx, now.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1, "claims out of attempts are no longer due")
	assert.Equal(t, fresh, due[0].ID)

	require.NoError(t, db.MarkNotified(ctx, fresh, now))
	assert.ErrorIs(t, db.RecordNotifyFailure(ctx, fresh, now), ErrNotFound)
}
