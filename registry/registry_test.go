package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashgraphonline/holdesk/cache"
	"github.com/hashgraphonline/holdesk/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "filesystem", slugify("Filesystem"))
	assert.Equal(t, "my-cool-server", slugify("My Cool  Server!"))
	assert.Equal(t, "v2-server", slugify("--V2 Server--"))
}

func TestPulseMCPFetcherSinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("count_per_page"))
		json.NewEncoder(w).Encode(map[string]any{
			"servers": []map[string]any{
				{
					"name":                   "Filesystem",
					"short_description":      "File access",
					"package_name":           "@modelcontextprotocol/server-filesystem",
					"package_download_count": 1200,
					"github_stars":           300,
					"tags":                   []string{"files"},
				},
				{"name": ""},
			},
			"total_count": 1,
		})
	}))
	defer srv.Close()

	f := NewPulseMCPFetcher(srv.URL)
	recs, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "pulsemcp:filesystem", rec.ID)
	assert.Equal(t, "Filesystem", rec.Name)
	assert.Equal(t, "pulsemcp", rec.Registry)
	assert.Equal(t, 1200, rec.InstallCount)
	assert.Equal(t, 300, rec.StarCount)
	assert.True(t, rec.IsActive)
	assert.NotEmpty(t, rec.Payload)
}

func TestPulseMCPFetcherPaginates(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := pages.Add(1)
		servers := make([]map[string]any, 0, pulsePageSize)
		if page == 1 {
			for i := 0; i < pulsePageSize; i++ {
				servers = append(servers, map[string]any{"name": fmt.Sprintf("server-%d", i)})
			}
		} else {
			servers = append(servers, map[string]any{"name": "last"})
		}
		next := ""
		if page == 1 {
			next = "more"
		}
		json.NewEncoder(w).Encode(map[string]any{"servers": servers, "next": next})
	}))
	defer srv.Close()

	f := NewPulseMCPFetcher(srv.URL)
	recs, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, pulsePageSize+1)
	assert.Equal(t, int32(2), pages.Load())
}

func TestPulseMCPFetcherReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewPulseMCPFetcher(srv.URL)
	_, err := f.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestCatalogFetcherServesBundledServers(t *testing.T) {
	f := NewCatalogFetcher()
	recs, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
	for _, rec := range recs {
		assert.Equal(t, "catalog", rec.Registry)
		assert.True(t, rec.IsActive)
		assert.NotEmpty(t, rec.ID)
		assert.NotEmpty(t, rec.Name)
	}
}

type stubFetcher struct {
	name    string
	records []*store.ServerRecord
	err     error
	calls   atomic.Int32
}

func (s *stubFetcher) Name() string { return s.name }

func (s *stubFetcher) Fetch(ctx context.Context) ([]*store.ServerRecord, error) {
	s.calls.Add(1)
	return s.records, s.err
}

func newTestCache(t *testing.T) *cache.Manager {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return cache.NewManager(st, cache.Options{})
}

func TestSyncAllCachesServersAndRecordsSuccess(t *testing.T) {
	cm := newTestCache(t)
	ctx := context.Background()

	f := &stubFetcher{name: "stub", records: []*store.ServerRecord{
		{ID: "stub:one", Name: "One", Registry: "stub"},
		{ID: "stub:two", Name: "Two", Registry: "stub"},
	}}
	svc := NewSyncService(cm, []Fetcher{f}, SyncOptions{FetchesPerMinute: 60000})

	results := svc.SyncAll(ctx)
	require.Len(t, results, 1)
	assert.True(t, results[0].Synced)
	assert.Equal(t, 2, results[0].ServerCount)

	rec, err := cm.Server(ctx, "stub:one")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, cm.IsRegistryFresh(ctx, "stub", time.Hour))
}

func TestSyncSkipsFreshRegistry(t *testing.T) {
	cm := newTestCache(t)
	ctx := context.Background()

	f := &stubFetcher{name: "stub"}
	svc := NewSyncService(cm, []Fetcher{f}, SyncOptions{Freshness: time.Hour, FetchesPerMinute: 60000})

	first := svc.SyncAll(ctx)
	assert.True(t, first[0].Synced)

	second := svc.SyncAll(ctx)
	assert.True(t, second[0].Skipped)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestSyncForceIgnoresFreshness(t *testing.T) {
	cm := newTestCache(t)
	ctx := context.Background()

	f := &stubFetcher{name: "stub"}
	svc := NewSyncService(cm, []Fetcher{f}, SyncOptions{Force: true, FetchesPerMinute: 60000})

	svc.SyncAll(ctx)
	svc.SyncAll(ctx)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestSyncFailureIsRecordedAndDoesNotBlockOthers(t *testing.T) {
	cm := newTestCache(t)
	ctx := context.Background()

	bad := &stubFetcher{name: "bad", err: fmt.Errorf("registry down")}
	good := &stubFetcher{name: "good", records: []*store.ServerRecord{
		{ID: "good:one", Name: "One", Registry: "good"},
	}}
	svc := NewSyncService(cm, []Fetcher{bad, good}, SyncOptions{FetchesPerMinute: 60000})

	results := svc.SyncAll(ctx)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Error, "registry down")
	assert.True(t, results[1].Synced)

	snapshot := cm.SyncSnapshot(ctx)
	byName := make(map[string]store.SyncStatus, len(snapshot))
	for _, rec := range snapshot {
		byName[rec.Registry] = rec.Status
	}
	assert.Equal(t, store.SyncError, byName["bad"])
	assert.Equal(t, store.SyncSuccess, byName["good"])
	assert.False(t, cm.IsRegistryFresh(ctx, "bad", time.Hour))
}

func TestSyncByNameRejectsUnknownRegistry(t *testing.T) {
	cm := newTestCache(t)
	svc := NewSyncService(cm, []Fetcher{&stubFetcher{name: "stub"}}, SyncOptions{FetchesPerMinute: 60000})

	_, err := svc.Sync(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown registry")

	result, err := svc.Sync(context.Background(), "stub")
	require.NoError(t, err)
	assert.True(t, result.Synced)
}
