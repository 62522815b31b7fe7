package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screentrail/internal/record"
	"screentrail/internal/storage"
)

func setupTestDB(t *testing.T) storage.Storage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test_screentrail.db")
	store := NewSQLiteStore(dbPath)
	require.NoError(t, store.Init(context.Background()), "Failed to initialize test database")
	t.Cleanup(func() {
		assert.NoError(t, store.Close(), "Failed to close test database")
	})
	return store
}

func TestSaveAndGetSegment(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	seg := record.Segment{
		StartTime:   now,
		EndTime:     now.Add(42 * time.Second),
		AppName:     "VSCode",
		WindowTitle: "main.go - screentrail",
		IsCaptured:  true,
	}

	id, err := store.SaveSegment(ctx, seg)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	retrieved, err := store.GetSegments(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, retrieved, 1)

	got := retrieved[0]
	assert.Equal(t, seg.StartTime, got.StartTime.Truncate(time.Second))
	assert.Equal(t, seg.EndTime, got.EndTime.Truncate(time.Second))
	assert.Equal(t, seg.AppName, got.AppName)
	assert.Equal(t, seg.WindowTitle, got.WindowTitle)
	assert.Equal(t, seg.IsCaptured, got.IsCaptured)
}

func TestGetSegmentsRangeAndOrder(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	t1 := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	t2 := t1.Add(1 * time.Minute)
	t3 := t1.Add(5 * time.Minute)
	t4 := t1.Add(15 * time.Minute) // outside the queried range

	segs := []record.Segment{
		{StartTime: t1, EndTime: t2, AppName: "VSCode", WindowTitle: "main.go", IsCaptured: true},
		{StartTime: t2, EndTime: t3, AppName: "Spotify", WindowTitle: "Spotify Free", IsCaptured: false},
		{StartTime: t3, EndTime: t4, AppName: "Chrome", WindowTitle: "Docs", IsCaptured: true},
		{StartTime: t4, EndTime: t4.Add(time.Minute), AppName: "Chrome", WindowTitle: "Mail", IsCaptured: true},
	}
	// Insert out of order to verify the query sorts by start_time.
	for _, i := range []int{2, 0, 3, 1} {
		_, err := store.SaveSegment(ctx, segs[i])
		require.NoError(t, err)
	}

	retrieved, err := store.GetSegments(ctx, t1, t3)
	require.NoError(t, err)
	require.Len(t, retrieved, 3)
	assert.Equal(t, "VSCode", retrieved[0].AppName)
	assert.Equal(t, "Spotify", retrieved[1].AppName)
	assert.Equal(t, "Chrome", retrieved[2].AppName)
	assert.False(t, retrieved[1].IsCaptured)

	retrieved, err = store.GetSegments(ctx, t1.Add(10*time.Hour), t1.Add(11*time.Hour))
	require.NoError(t, err)
	assert.Len(t, retrieved, 0)
}

func TestSaveAfterClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_screentrail.db")
	store := NewSQLiteStore(dbPath)
	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Close())

	now := time.Now().UTC()
	_, err := store.SaveSegment(ctx, record.Segment{
		StartTime: now, EndTime: now.Add(time.Second),
		AppName: "VSCode", WindowTitle: "main.go", IsCaptured: true,
	})
	assert.Error(t, err)
}
