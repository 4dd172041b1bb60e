package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// SearchEntry is a memoized search result. One row exists per query hash.
type SearchEntry struct {
	QueryHash string
	ServerIDs []string
	Total     int
	HasMore   bool
	HitCount  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// GetSearchEntry returns the cache row for hash, or nil when absent or
// expired. Expired rows are left in place for the next cleanup pass.
func (s *Store) GetSearchEntry(ctx context.Context, hash string) (*SearchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT query_hash, server_ids, total, has_more, hit_count, created_at, expires_at
		FROM search_cache WHERE query_hash = ?`, hash)

	var e SearchEntry
	var ids string
	var hasMore int
	err := row.Scan(&e.QueryHash, &ids, &e.Total, &hasMore, &e.HitCount, &e.CreatedAt, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(e.ExpiresAt) {
		return nil, nil
	}
	e.HasMore = hasMore == 1
	if ids != "" {
		e.ServerIDs = strings.Split(ids, ",")
	}
	return &e, nil
}

// PutSearchEntry writes (or replaces) the cache row for a query hash.
func (s *Store) PutSearchEntry(ctx context.Context, e *SearchEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_cache (query_hash, server_ids, total, has_more, hit_count, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(query_hash) DO UPDATE SET
			server_ids=excluded.server_ids,
			total=excluded.total,
			has_more=excluded.has_more,
			hit_count=excluded.hit_count,
			created_at=excluded.created_at,
			expires_at=excluded.expires_at`,
		e.QueryHash, strings.Join(e.ServerIDs, ","), e.Total, boolToInt(e.HasMore),
		e.HitCount, e.CreatedAt, e.ExpiresAt)
	return err
}

// IncrementSearchHit bumps the hit counter for a cache row.
func (s *Store) IncrementSearchHit(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE search_cache SET hit_count = hit_count + 1 WHERE query_hash = ?", hash)
	return err
}

// DeleteExpiredSearchEntries removes rows whose TTL has elapsed and reports
// how many were removed.
func (s *Store) DeleteExpiredSearchEntries(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM search_cache WHERE expires_at < ?", time.Now())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearSearchCache removes all memoized search results. Idempotent.
func (s *Store) ClearSearchCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM search_cache")
	return err
}

// SearchCacheStats aggregates over the search_cache table.
type SearchCacheStats struct {
	Entries   int
	TotalHits int
	Oldest    time.Time
	Newest    time.Time
}

// GetSearchCacheStats returns aggregate counts over memoized searches.
func (s *Store) GetSearchCacheStats(ctx context.Context) (*SearchCacheStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st SearchCacheStats
	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(hit_count), 0), MIN(created_at), MAX(created_at)
		FROM search_cache`).Scan(&st.Entries, &st.TotalHits, &oldest, &newest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		st.Oldest = oldest.Time
	}
	if newest.Valid {
		st.Newest = newest.Time
	}
	return &st, nil
}
