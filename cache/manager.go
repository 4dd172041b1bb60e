// Package cache implements the cache-aside layer over the local registry
// store. Reads never fail: the cache is an optimization, not a source of
// truth, and a broken store degrades to empty results while the swallowed
// errors stay visible through the metrics hook.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashgraphonline/holdesk/log"
	"github.com/hashgraphonline/holdesk/metrics"
	"github.com/hashgraphonline/holdesk/store"
)

// DefaultSearchTTL is the lifetime of a memoized search result.
const DefaultSearchTTL = 5 * time.Minute

// DefaultFreshness is the default max age for IsRegistryFresh.
const DefaultFreshness = time.Hour

// SchedulePolicy computes when a registry should next be synced, given the
// outcome just recorded. The previous record is nil on first sync.
type SchedulePolicy func(prev *store.SyncRecord, status store.SyncStatus, now time.Time) time.Time

// FixedIntervalSchedule returns the default policy: a fixed interval after
// success, a quarter interval after an error so failed registries retry
// sooner.
func FixedIntervalSchedule(interval time.Duration) SchedulePolicy {
	return func(_ *store.SyncRecord, status store.SyncStatus, now time.Time) time.Time {
		if status == store.SyncError {
			return now.Add(interval / 4)
		}
		return now.Add(interval)
	}
}

// SearchResult is the outcome of SearchServers.
type SearchResult struct {
	Servers   []*store.ServerRecord `json:"servers"`
	Total     int                   `json:"total"`
	HasMore   bool                  `json:"hasMore"`
	FromCache bool                  `json:"fromCache"`
}

// SyncDetails carries the optional fields of a sync record update.
type SyncDetails struct {
	ServerCount  int
	ErrorMessage string
}

// Stats aggregates cache-wide counters. All fields are zero when the store
// is unavailable.
type Stats struct {
	TotalServers int       `json:"totalServers"`
	CacheEntries int       `json:"cacheEntries"`
	TotalHits    int       `json:"totalHits"`
	HitRate      float64   `json:"hitRate"`
	OldestEntry  time.Time `json:"oldestEntry,omitzero"`
	NewestEntry  time.Time `json:"newestEntry,omitzero"`
}

// Options configures a Manager.
type Options struct {
	// SearchTTL overrides DefaultSearchTTL when positive.
	SearchTTL time.Duration
	// Schedule overrides the default next-sync policy.
	Schedule SchedulePolicy
	// Metrics receives hit/miss/swallowed-error counts. Optional.
	Metrics *metrics.Metrics
}

// Manager answers registry searches from local storage when fresh and
// persists newly fetched results.
type Manager struct {
	store    *store.Store
	ttl      time.Duration
	schedule SchedulePolicy
	metrics  *metrics.Metrics
	// searches and hits back the hit-rate stat; counted per process.
	searches atomic.Int64
	hits     atomic.Int64
}

// NewManager creates a cache manager over the given store.
func NewManager(st *store.Store, opts Options) *Manager {
	ttl := opts.SearchTTL
	if ttl <= 0 {
		ttl = DefaultSearchTTL
	}
	schedule := opts.Schedule
	if schedule == nil {
		schedule = FixedIntervalSchedule(time.Hour)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Manager{store: st, ttl: ttl, schedule: schedule, metrics: m}
}

// SearchServers answers a search from the memoized cache when a fresh row
// exists for the query hash, otherwise it queries the persisted server
// records and memoizes the result. It never returns an error: storage
// failures degrade to an empty result.
func (m *Manager) SearchServers(ctx context.Context, opts SearchOptions) *SearchResult {
	m.searches.Add(1)
	hash := QueryHash(opts)

	if entry, err := m.store.GetSearchEntry(ctx, hash); err != nil {
		m.swallow("search cache lookup", err)
	} else if entry != nil {
		servers, err := m.store.GetServers(ctx, entry.ServerIDs)
		if err != nil {
			m.swallow("cached server fetch", err)
		} else {
			m.hits.Add(1)
			m.metrics.CacheHits.Inc()
			if err := m.store.IncrementSearchHit(ctx, hash); err != nil {
				m.swallow("hit counter update", err)
			}
			return &SearchResult{Servers: servers, Total: entry.Total, HasMore: entry.HasMore, FromCache: true}
		}
	}

	m.metrics.CacheMisses.Inc()
	norm := opts.normalize()
	servers, total, err := m.store.QueryServers(ctx, store.ServerQuery{
		Text:     norm.Query,
		Tags:     norm.Tags,
		Category: norm.Category,
		Offset:   norm.Offset,
		Limit:    norm.Limit,
	})
	if err != nil {
		m.swallow("server query", err)
		return &SearchResult{Servers: []*store.ServerRecord{}, Total: 0, HasMore: false}
	}

	ids := make([]string, len(servers))
	for i, s := range servers {
		ids[i] = s.ID
	}
	hasMore := norm.Offset+len(servers) < total
	entry := &store.SearchEntry{
		QueryHash: hash,
		ServerIDs: ids,
		Total:     total,
		HasMore:   hasMore,
		ExpiresAt: time.Now().Add(m.ttl),
	}
	if err := m.store.PutSearchEntry(ctx, entry); err != nil {
		m.swallow("search cache write", err)
	}

	if servers == nil {
		servers = []*store.ServerRecord{}
	}
	return &SearchResult{Servers: servers, Total: total, HasMore: hasMore}
}

// CacheServer upserts a single server record.
func (m *Manager) CacheServer(ctx context.Context, rec *store.ServerRecord) error {
	return m.store.UpsertServer(ctx, rec)
}

// BulkCacheServers upserts a batch of server records. Individual failures do
// not prevent the remaining batch from being attempted; they are logged, not
// returned.
func (m *Manager) BulkCacheServers(ctx context.Context, recs []*store.ServerRecord) {
	if len(recs) == 0 {
		return
	}
	if err := m.store.UpsertServers(ctx, recs); err != nil {
		m.swallow("bulk server cache", err)
	}
}

// Server returns the cached record for id, or nil when absent.
func (m *Manager) Server(ctx context.Context, id string) (*store.ServerRecord, error) {
	return m.store.GetServer(ctx, id)
}

// IsRegistryFresh reports whether the registry synced successfully within
// maxAge. A zero maxAge uses DefaultFreshness.
func (m *Manager) IsRegistryFresh(ctx context.Context, registry string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultFreshness
	}
	rec, err := m.store.GetSyncRecord(ctx, registry)
	if err != nil {
		m.swallow("sync record lookup", err)
		return false
	}
	if rec == nil || rec.LastSuccessAt.IsZero() {
		return false
	}
	return time.Since(rec.LastSuccessAt) < maxAge
}

// UpdateRegistrySync upserts the sync record for a registry and recomputes
// the next scheduled sync time.
func (m *Manager) UpdateRegistrySync(ctx context.Context, registry string, status store.SyncStatus, details SyncDetails) error {
	now := time.Now().UTC()
	prev, err := m.store.GetSyncRecord(ctx, registry)
	if err != nil {
		// Treat as first sync; the upsert below is still authoritative.
		m.swallow("sync record lookup", err)
		prev = nil
	}

	rec := &store.SyncRecord{
		Registry:   registry,
		LastSyncAt: now,
		Status:     status,
		NextSyncAt: m.schedule(prev, status, now),
	}
	if prev != nil {
		rec.LastSuccessAt = prev.LastSuccessAt
		rec.ServerCount = prev.ServerCount
	}
	switch status {
	case store.SyncSuccess:
		rec.LastSuccessAt = now
		rec.ServerCount = details.ServerCount
		rec.ErrorMessage = ""
	case store.SyncError:
		rec.ErrorMessage = details.ErrorMessage
	}

	m.metrics.RegistrySyncs.WithLabelValues(registry, string(status)).Inc()
	return m.store.UpsertSyncRecord(ctx, rec)
}

// SyncSnapshot returns the sync rows for all known registries.
func (m *Manager) SyncSnapshot(ctx context.Context) []*store.SyncRecord {
	recs, err := m.store.ListSyncRecords(ctx)
	if err != nil {
		m.swallow("sync snapshot", err)
		return nil
	}
	return recs
}

// CacheStats aggregates counts across servers and memoized searches. It
// returns zeroed defaults rather than failing when storage is unavailable.
func (m *Manager) CacheStats(ctx context.Context) *Stats {
	st := &Stats{}

	servers, err := m.store.CountServers(ctx)
	if err != nil {
		m.swallow("server count", err)
		return st
	}
	st.TotalServers = servers

	sc, err := m.store.GetSearchCacheStats(ctx)
	if err != nil {
		m.swallow("search cache stats", err)
		return st
	}
	st.CacheEntries = sc.Entries
	st.TotalHits = sc.TotalHits
	st.OldestEntry = sc.Oldest
	st.NewestEntry = sc.Newest
	if searches := m.searches.Load(); searches > 0 {
		st.HitRate = float64(m.hits.Load()) / float64(searches)
	}
	return st
}

// CleanupExpired removes expired search-cache rows and reports how many were
// removed.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	n, err := m.store.DeleteExpiredSearchEntries(ctx)
	if err != nil {
		m.swallow("expired entry cleanup", err)
		return 0
	}
	return n
}

// ClearRegistryCache removes all cached servers for one registry. Idempotent.
func (m *Manager) ClearRegistryCache(ctx context.Context, registry string) error {
	return m.store.DeleteServersByRegistry(ctx, registry)
}

// ClearSearchCache removes all memoized search results. Idempotent.
func (m *Manager) ClearSearchCache(ctx context.Context) error {
	return m.store.ClearSearchCache(ctx)
}

// ClearRegistrySync removes all registry sync bookkeeping. Idempotent.
func (m *Manager) ClearRegistrySync(ctx context.Context) error {
	return m.store.ClearSyncRecords(ctx)
}

// swallow records a storage error on the best-effort path: counted, logged,
// never returned.
func (m *Manager) swallow(op string, err error) {
	m.metrics.CacheErrorsDropped.Inc()
	log.S().Warnw("cache storage error ignored", "op", op, "error", err)
}
