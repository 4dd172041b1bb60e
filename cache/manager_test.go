package cache

import (
	"context"
	"testing"
	"time"

	"github.com/hashgraphonline/holdesk/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts Options) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewManager(st, opts), st
}

func seedServers(t *testing.T, m *Manager, recs ...*store.ServerRecord) {
	t.Helper()
	for _, rec := range recs {
		rec.IsActive = true
		require.NoError(t, m.CacheServer(context.Background(), rec))
	}
}

func TestQueryHashIsOrderInvariant(t *testing.T) {
	a := QueryHash(SearchOptions{Query: "Files", Tags: []string{"fs", "io"}})
	b := QueryHash(SearchOptions{Query: "files ", Tags: []string{"IO", "fs"}})
	assert.Equal(t, a, b)

	c := QueryHash(SearchOptions{Query: "files", Tags: []string{"fs"}})
	assert.NotEqual(t, a, c)
}

func TestQueryHashAppliesDefaultLimit(t *testing.T) {
	implicit := QueryHash(SearchOptions{Query: "x"})
	explicit := QueryHash(SearchOptions{Query: "x", Limit: DefaultSearchLimit})
	assert.Equal(t, implicit, explicit)
}

func TestSearchMissesThenHits(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	seedServers(t, m,
		&store.ServerRecord{ID: "s1", Name: "filesystem", Registry: "catalog", InstallCount: 10},
		&store.ServerRecord{ID: "s2", Name: "github", Registry: "catalog", InstallCount: 5},
	)

	first := m.SearchServers(ctx, SearchOptions{Query: "filesystem"})
	assert.False(t, first.FromCache)
	require.Len(t, first.Servers, 1)
	assert.Equal(t, "s1", first.Servers[0].ID)

	second := m.SearchServers(ctx, SearchOptions{Query: "filesystem"})
	assert.True(t, second.FromCache)
	require.Len(t, second.Servers, 1)
	assert.Equal(t, "s1", second.Servers[0].ID)
	assert.Equal(t, first.Total, second.Total)
}

func TestSearchHitReflectsUpdatedServerRecord(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	seedServers(t, m, &store.ServerRecord{ID: "s1", Name: "filesystem", Registry: "catalog"})
	m.SearchServers(ctx, SearchOptions{Query: "filesystem"})

	// A registry refresh changes the record; the memoized id list must
	// resolve to the latest version.
	seedServers(t, m, &store.ServerRecord{ID: "s1", Name: "filesystem", Description: "updated", Registry: "catalog"})

	hit := m.SearchServers(ctx, SearchOptions{Query: "filesystem"})
	assert.True(t, hit.FromCache)
	require.Len(t, hit.Servers, 1)
	assert.Equal(t, "updated", hit.Servers[0].Description)
}

func TestSearchExpiredEntryIsAMiss(t *testing.T) {
	m, _ := newTestManager(t, Options{SearchTTL: time.Millisecond})
	ctx := context.Background()

	seedServers(t, m, &store.ServerRecord{ID: "s1", Name: "filesystem", Registry: "catalog"})
	m.SearchServers(ctx, SearchOptions{Query: "filesystem"})

	time.Sleep(5 * time.Millisecond)

	result := m.SearchServers(ctx, SearchOptions{Query: "filesystem"})
	assert.False(t, result.FromCache)
}

func TestSearchPaginationSetsHasMore(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	seedServers(t, m,
		&store.ServerRecord{ID: "a", Name: "tool-a", Registry: "catalog"},
		&store.ServerRecord{ID: "b", Name: "tool-b", Registry: "catalog"},
		&store.ServerRecord{ID: "c", Name: "tool-c", Registry: "catalog"},
	)

	page := m.SearchServers(ctx, SearchOptions{Query: "tool", Limit: 2})
	assert.Len(t, page.Servers, 2)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)

	last := m.SearchServers(ctx, SearchOptions{Query: "tool", Limit: 2, Offset: 2})
	assert.Len(t, last.Servers, 1)
	assert.False(t, last.HasMore)
}

func TestSearchNeverErrorsAfterStoreClosed(t *testing.T) {
	m, st := newTestManager(t, Options{})
	ctx := context.Background()

	seedServers(t, m, &store.ServerRecord{ID: "s1", Name: "filesystem", Registry: "catalog"})
	require.NoError(t, st.Close())

	result := m.SearchServers(ctx, SearchOptions{Query: "filesystem"})
	require.NotNil(t, result)
	assert.Empty(t, result.Servers)
	assert.Zero(t, result.Total)
	assert.False(t, result.FromCache)
}

func TestSearchByTag(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	seedServers(t, m,
		&store.ServerRecord{ID: "s1", Name: "filesystem", Tags: []string{"files", "local"}, Registry: "catalog"},
		&store.ServerRecord{ID: "s2", Name: "github", Tags: []string{"git"}, Registry: "catalog"},
	)

	result := m.SearchServers(ctx, SearchOptions{Tags: []string{"FILES"}})
	require.Len(t, result.Servers, 1)
	assert.Equal(t, "s1", result.Servers[0].ID)
}

func TestBulkCacheServersKeepsValidRecordsPastFailure(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	// The middle record has no id and cannot be persisted; the records
	// around it must still land, and the caller must not see an error.
	m.BulkCacheServers(ctx, []*store.ServerRecord{
		{ID: "catalog:alpha", Name: "Alpha", Registry: "catalog", IsActive: true},
		{Name: "no id", Registry: "catalog"},
		{ID: "catalog:beta", Name: "Beta", Registry: "catalog", IsActive: true},
	})

	alpha, err := m.Server(ctx, "catalog:alpha")
	require.NoError(t, err)
	require.NotNil(t, alpha)

	beta, err := m.Server(ctx, "catalog:beta")
	require.NoError(t, err)
	require.NotNil(t, beta)
	assert.Equal(t, "Beta", beta.Name)
}

func TestIsRegistryFresh(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	assert.False(t, m.IsRegistryFresh(ctx, "pulsemcp", time.Hour))

	require.NoError(t, m.UpdateRegistrySync(ctx, "pulsemcp", store.SyncSuccess, SyncDetails{ServerCount: 12}))
	assert.True(t, m.IsRegistryFresh(ctx, "pulsemcp", time.Hour))
	assert.False(t, m.IsRegistryFresh(ctx, "pulsemcp", time.Nanosecond))
}

func TestUpdateRegistrySyncPreservesLastSuccessOnError(t *testing.T) {
	m, st := newTestManager(t, Options{})
	ctx := context.Background()

	require.NoError(t, m.UpdateRegistrySync(ctx, "pulsemcp", store.SyncSuccess, SyncDetails{ServerCount: 12}))
	require.NoError(t, m.UpdateRegistrySync(ctx, "pulsemcp", store.SyncError, SyncDetails{ErrorMessage: "rate limited"}))

	rec, err := st.GetSyncRecord(ctx, "pulsemcp")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, store.SyncError, rec.Status)
	assert.Equal(t, "rate limited", rec.ErrorMessage)
	assert.False(t, rec.LastSuccessAt.IsZero())
	assert.Equal(t, 12, rec.ServerCount)

	// A registry that only ever failed is never fresh.
	require.NoError(t, m.UpdateRegistrySync(ctx, "broken", store.SyncError, SyncDetails{ErrorMessage: "down"}))
	assert.False(t, m.IsRegistryFresh(ctx, "broken", time.Hour))
}

func TestFixedIntervalScheduleBacksOffAfterError(t *testing.T) {
	policy := FixedIntervalSchedule(time.Hour)
	now := time.Now()

	next := policy(nil, store.SyncSuccess, now)
	assert.Equal(t, now.Add(time.Hour), next)

	retry := policy(nil, store.SyncError, now)
	assert.Equal(t, now.Add(15*time.Minute), retry)
}

func TestCacheStats(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	seedServers(t, m,
		&store.ServerRecord{ID: "s1", Name: "filesystem", Registry: "catalog"},
		&store.ServerRecord{ID: "s2", Name: "github", Registry: "catalog"},
	)

	m.SearchServers(ctx, SearchOptions{Query: "filesystem"}) // miss
	m.SearchServers(ctx, SearchOptions{Query: "filesystem"}) // hit

	stats := m.CacheStats(ctx)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.TotalServers)
	assert.Equal(t, 1, stats.CacheEntries)
	assert.InDelta(t, 0.5, stats.HitRate, 0.01)
}

func TestCleanupExpired(t *testing.T) {
	m, _ := newTestManager(t, Options{SearchTTL: time.Millisecond})
	ctx := context.Background()

	seedServers(t, m, &store.ServerRecord{ID: "s1", Name: "filesystem", Registry: "catalog"})
	m.SearchServers(ctx, SearchOptions{Query: "filesystem"})
	time.Sleep(5 * time.Millisecond)

	removed := m.CleanupExpired(ctx)
	assert.Equal(t, 1, removed)
	assert.Zero(t, m.CleanupExpired(ctx))
}

func TestClearSearchCache(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	seedServers(t, m, &store.ServerRecord{ID: "s1", Name: "filesystem", Registry: "catalog"})
	m.SearchServers(ctx, SearchOptions{Query: "filesystem"})
	require.NoError(t, m.ClearSearchCache(ctx))

	result := m.SearchServers(ctx, SearchOptions{Query: "filesystem"})
	assert.False(t, result.FromCache)
}
