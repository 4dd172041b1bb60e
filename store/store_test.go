package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenCreatesSchemaOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holdesk.db")
	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, path, st.Path())
	n, err := st.CountServers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertServerInsertsAndUpdates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := &ServerRecord{
		ID:       "catalog:filesystem",
		Name:     "Filesystem",
		Tags:     []string{"files", "local"},
		Registry: "catalog",
		IsActive: true,
	}
	require.NoError(t, st.UpsertServer(ctx, rec))

	got, err := st.GetServer(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Filesystem", got.Name)
	assert.Equal(t, []string{"files", "local"}, got.Tags)
	assert.False(t, got.LastFetched.IsZero())

	rec.Description = "updated"
	rec.InstallCount = 5
	require.NoError(t, st.UpsertServer(ctx, rec))

	got, err = st.GetServer(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)
	assert.Equal(t, 5, got.InstallCount)

	n, err := st.CountServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertServerRejectsEmptyID(t *testing.T) {
	st := newTestStore(t)
	assert.Error(t, st.UpsertServer(context.Background(), &ServerRecord{Name: "x"}))
}

func TestGetServerAbsentReturnsNil(t *testing.T) {
	st := newTestStore(t)
	got, err := st.GetServer(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetServersPreservesOrderAndSkipsMissing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.UpsertServer(ctx, &ServerRecord{ID: id, Name: id, Registry: "r", IsActive: true}))
	}

	got, err := st.GetServers(ctx, []string{"c", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestQueryServersFiltersAndPaginates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed := []*ServerRecord{
		{ID: "1", Name: "Filesystem", Description: "file access", Tags: []string{"files"}, Registry: "r", InstallCount: 100, IsActive: true},
		{ID: "2", Name: "GitHub", Description: "git hosting", Tags: []string{"git"}, Registry: "r", InstallCount: 50, IsActive: true},
		{ID: "3", Name: "GitLab", Description: "git hosting", Tags: []string{"git"}, Registry: "r", InstallCount: 75, IsActive: true},
		{ID: "4", Name: "Inactive", Description: "git hosting", Registry: "r", IsActive: false},
	}
	require.NoError(t, st.UpsertServers(ctx, seed))

	// Inactive records never match.
	all, total, err := st.QueryServers(ctx, ServerQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)
	assert.Equal(t, "1", all[0].ID) // highest install count first

	byText, total, err := st.QueryServers(ctx, ServerQuery{Text: "git"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, byText, 3)

	byTag, total, err := st.QueryServers(ctx, ServerQuery{Tags: []string{"git"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "3", byTag[0].ID)

	page, total, err := st.QueryServers(ctx, ServerQuery{Tags: []string{"git"}, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, "2", page[0].ID)
}

func TestUpsertServersCommitsValidRowsAroundFailure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.UpsertServers(ctx, []*ServerRecord{
		{ID: "catalog:alpha", Name: "Alpha", Registry: "catalog", IsActive: true},
		{Name: "no id", Registry: "catalog"},
		{ID: "catalog:beta", Name: "Beta", Registry: "catalog", IsActive: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3")
	assert.Contains(t, err.Error(), "server id cannot be empty")

	n, err := st.CountServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := st.GetServer(ctx, "catalog:beta")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Beta", rec.Name)
}

func TestDeleteServersByRegistry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertServer(ctx, &ServerRecord{ID: "a", Name: "a", Registry: "one", IsActive: true}))
	require.NoError(t, st.UpsertServer(ctx, &ServerRecord{ID: "b", Name: "b", Registry: "two", IsActive: true}))

	require.NoError(t, st.DeleteServersByRegistry(ctx, "one"))
	require.NoError(t, st.DeleteServersByRegistry(ctx, "empty"))

	n, err := st.CountServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSearchEntryLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	entry := &SearchEntry{
		QueryHash: "abc123",
		ServerIDs: []string{"a", "b"},
		Total:     2,
		HasMore:   false,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, st.PutSearchEntry(ctx, entry))

	got, err := st.GetSearchEntry(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a", "b"}, got.ServerIDs)
	assert.Equal(t, 2, got.Total)

	require.NoError(t, st.IncrementSearchHit(ctx, "abc123"))
	stats, err := st.GetSearchCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.TotalHits)

	missing, err := st.GetSearchEntry(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExpiredSearchEntryIsInvisibleUntilCleaned(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutSearchEntry(ctx, &SearchEntry{
		QueryHash: "stale",
		ServerIDs: []string{"a"},
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	got, err := st.GetSearchEntry(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := st.DeleteExpiredSearchEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.DeleteExpiredSearchEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClearSearchCache(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutSearchEntry(ctx, &SearchEntry{
		QueryHash: "x",
		ExpiresAt: time.Now().Add(time.Minute),
	}))
	require.NoError(t, st.ClearSearchCache(ctx))

	stats, err := st.GetSearchCacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}

func TestSyncRecordRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := &SyncRecord{
		Registry:      "pulsemcp",
		LastSyncAt:    now,
		LastSuccessAt: now,
		ServerCount:   42,
		Status:        SyncSuccess,
		NextSyncAt:    now.Add(time.Hour),
	}
	require.NoError(t, st.UpsertSyncRecord(ctx, rec))

	got, err := st.GetSyncRecord(ctx, "pulsemcp")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, SyncSuccess, got.Status)
	assert.Equal(t, 42, got.ServerCount)
	assert.True(t, got.LastSuccessAt.Equal(now))

	rec.Status = SyncError
	rec.ErrorMessage = "rate limited"
	require.NoError(t, st.UpsertSyncRecord(ctx, rec))

	got, err = st.GetSyncRecord(ctx, "pulsemcp")
	require.NoError(t, err)
	assert.Equal(t, SyncError, got.Status)
	assert.Equal(t, "rate limited", got.ErrorMessage)

	list, err := st.ListSyncRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	missing, err := st.GetSyncRecord(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, st.ClearSyncRecords(ctx))
	list, err = st.ListSyncRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
