package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/negosync/db"
	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/negotiation"
	"github.com/memohai/negosync/internal/notification"
)

func delivered(i int, at time.Time) notification.Notification {
	rate := 2000 + float64(i)
	return notification.Notification{
		ID: fmt.Sprintf("n%d", i),
		Event: negotiation.Event{
			EventID:    fmt.Sprintf("e%d", i),
			BidID:      fmt.Sprintf("b%d", i),
			SenderID:   "s1",
			SenderName: "Shipper",
			SenderRole: identity.RoleShipper,
			Message:    "msg",
			Rate:       &rate,
			OccurredAt: at,
			Origin:     negotiation.OriginChannel,
			Alias:      negotiation.AliasShipperInternalNegotiate,
		},
		CreatedAt: at,
	}
}

func TestCacheBoundedMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	c, err := Open(ctx, nil, path, 3)
	require.NoError(t, err)
	defer c.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Dispatch(ctx, delivered(i, base.Add(time.Duration(i)*time.Second))))
	}

	entries, err := c.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e4", entries[0].EventID)
	assert.Equal(t, "e2", entries[2].EventID)
	require.NotNil(t, entries[0].Rate)
	assert.Equal(t, 2004.0, *entries[0].Rate)
	assert.Equal(t, identity.RoleShipper, entries[0].SenderRole)
	assert.True(t, entries[0].OccurredAt.Equal(base.Add(4*time.Second)))
	assert.Equal(t, "|b4", entries[0].ThreadKey)

	n := entries[0].Notification()
	assert.Equal(t, "n4", n.ID)
	assert.Equal(t, negotiation.OriginChannel, n.Origin)
}

func TestCacheReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(ctx, nil, path, 10)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, delivered(1, time.Now())))
	require.NoError(t, c.Close())

	c, err = Open(ctx, nil, path, 10)
	require.NoError(t, err)
	defer c.Close()
	entries, err := c.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].EventID)
}

func TestRunMigrateUnknownCommand(t *testing.T) {
	err := RunMigrate(nil, filepath.Join(t.TempDir(), "x.db"), db.MigrationsFS, db.MigrationsDir, "invalid", nil)
	require.Error(t, err)
	err = RunMigrate(nil, filepath.Join(t.TempDir(), "x.db"), db.MigrationsFS, db.MigrationsDir, "force", nil)
	require.Error(t, err)
}

func TestRunMigrateDownAndVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, RunMigrate(nil, path, db.MigrationsFS, db.MigrationsDir, "up", nil))
	require.NoError(t, RunMigrate(nil, path, db.MigrationsFS, db.MigrationsDir, "version", nil))
	require.NoError(t, RunMigrate(nil, path, db.MigrationsFS, db.MigrationsDir, "down", nil))
}
