package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/nudge/internal/core/notify"
)

func TestAuditStore_RecordAndList(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(openTestDB(t, t.TempDir()))

	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	events := []notify.AuditEvent{
		{NotificationID: "a", Status: notify.StatusFired, Title: "Stretch", CreatedAt: base},
		{NotificationID: "b", Status: notify.StatusCancelled, Title: "Water", CreatedAt: base.Add(time.Minute)},
		{NotificationID: "c", Status: notify.StatusFailed, Title: "Sleep", Detail: "exit status 1", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		require.NoError(t, store.Record(ctx, ev))
	}

	got, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].NotificationID, "newest first")
	assert.Equal(t, notify.StatusFailed, got[0].Status)
	assert.Equal(t, "exit status 1", got[0].Detail)
	assert.True(t, got[0].CreatedAt.Equal(base.Add(2*time.Minute)))

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestAuditStore_RecordDefaultsTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(openTestDB(t, t.TempDir()))

	require.NoError(t, store.Record(ctx, notify.AuditEvent{NotificationID: "x", Status: notify.StatusFired}))

	got, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestAuditStore_Prune(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(openTestDB(t, t.TempDir()))

	now := time.Now()
	require.NoError(t, store.Record(ctx, notify.AuditEvent{NotificationID: "old", Status: notify.StatusFired, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.Record(ctx, notify.AuditEvent{NotificationID: "new", Status: notify.StatusFired, CreatedAt: now}))

	n, err := store.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].NotificationID)
}
