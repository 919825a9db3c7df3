package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jmsession.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	db, path := openTestDB(t)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	require.Equal(t, 2, count)
	require.NoError(t, db.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	require.Equal(t, 2, count)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSessionRoundTrip(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	_, _, ok, err := db.LoadSession(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.SaveSession(ctx, "walletA", "token-a"))
	require.NoError(t, db.SaveSession(ctx, "walletB", "token-b"))

	name, token, ok, err := db.LoadSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "walletB", name)
	require.Equal(t, "token-b", token)

	require.Error(t, db.SaveSession(ctx, "", "tok"))
}

func TestClearSessionOnlyForNamedWallet(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.SaveSession(ctx, "walletB", "token-b"))

	require.NoError(t, db.ClearSession(ctx, "walletA"))
	_, _, ok, err := db.LoadSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.ClearSession(ctx, "walletB"))
	_, _, ok, err = db.LoadSession(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.SaveSession(ctx, "walletC", "token-c"))
	require.NoError(t, db.ClearSession(ctx, ""))
	_, _, ok, err = db.LoadSession(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStatusHistoryNewestFirst(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, db.RecordStatus(ctx, StatusRecord{
		RecordedAt: base, Indicator: "idle", MakerRunning: "false", CoinjoinInProcess: "false",
	}))
	require.NoError(t, db.RecordStatus(ctx, StatusRecord{
		RecordedAt: base.Add(time.Minute), WalletName: "walletA", Indicator: "maker running",
		MakerRunning: "true", CoinjoinInProcess: "false", WebsocketConnected: true,
	}))
	require.NoError(t, db.RecordStatus(ctx, StatusRecord{
		RecordedAt: base.Add(2 * time.Minute), Indicator: "disconnected",
		MakerRunning: "unknown", CoinjoinInProcess: "unknown", ConnectionError: "Service Unavailable",
	}))

	recs, err := db.RecentStatus(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "disconnected", recs[0].Indicator)
	require.Equal(t, "Service Unavailable", recs[0].ConnectionError)
	require.Equal(t, "walletA", recs[1].WalletName)
	require.True(t, recs[1].WebsocketConnected)
	require.True(t, recs[1].RecordedAt.Equal(base.Add(time.Minute)))
}

func TestPruneHistoryKeepsNewest(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordStatus(ctx, StatusRecord{Indicator: "idle", MakerRunning: "false", CoinjoinInProcess: "false"}))
	}
	require.NoError(t, db.pruneHistory(ctx, 3))

	recs, err := db.RecentStatus(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Greater(t, recs[0].ID, recs[2].ID)
}
