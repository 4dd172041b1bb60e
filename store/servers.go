package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ServerRecord is a cached MCP registry server listing.
type ServerRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Registry     string    `json:"registry"`
	PackageName  string    `json:"packageName,omitempty"`
	InstallCount int       `json:"installCount"`
	StarCount    int       `json:"starCount"`
	IsActive     bool      `json:"isActive"`
	LastFetched  time.Time `json:"lastFetched"`
	Payload      string    `json:"-"`
}

// ServerQuery is a filter over cached server records.
type ServerQuery struct {
	// Text matches name, description, or package name as a substring.
	Text     string
	Tags     []string
	Category string
	Offset   int
	Limit    int
}

// UpsertServer inserts a server record, or updates all fields and refreshes
// last_fetched when the id already exists.
func (s *Store) UpsertServer(ctx context.Context, rec *ServerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertServer(ctx, s.db, rec)
}

// UpsertServers writes a batch of server records in a single transaction.
// Individual failures are collected and do not abort the rest of the batch;
// the returned error aggregates any per-record failures.
func (s *Store) UpsertServers(ctx context.Context, recs []*ServerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var failed []string
	for _, rec := range recs {
		if err := upsertServer(ctx, tx, rec); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", rec.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit server batch: %w", err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to upsert %d of %d servers: %s", len(failed), len(recs), strings.Join(failed, "; "))
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertServer(ctx context.Context, db execer, rec *ServerRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("server id cannot be empty")
	}
	if rec.LastFetched.IsZero() {
		rec.LastFetched = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO mcp_servers (id, name, description, tags, registry, package_name,
			install_count, star_count, is_active, last_fetched, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			description=excluded.description,
			tags=excluded.tags,
			registry=excluded.registry,
			package_name=excluded.package_name,
			install_count=excluded.install_count,
			star_count=excluded.star_count,
			is_active=excluded.is_active,
			last_fetched=excluded.last_fetched,
			payload=excluded.payload`,
		rec.ID, rec.Name, rec.Description, strings.Join(rec.Tags, ","), rec.Registry,
		rec.PackageName, rec.InstallCount, rec.StarCount, boolToInt(rec.IsActive),
		rec.LastFetched, rec.Payload)
	return err
}

// GetServer returns the record with the given id, or nil when absent.
func (s *Store) GetServer(ctx context.Context, id string) (*ServerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, tags, registry, package_name,
			install_count, star_count, is_active, last_fetched, payload
		FROM mcp_servers WHERE id = ?`, id)
	rec, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// GetServers returns the records for the given ids, preserving id order.
// Missing ids are silently skipped.
func (s *Store) GetServers(ctx context.Context, ids []string) ([]*ServerRecord, error) {
	byID := make(map[string]*ServerRecord, len(ids))
	for _, id := range ids {
		rec, err := s.GetServer(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			byID[id] = rec
		}
	}
	out := make([]*ServerRecord, 0, len(byID))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// QueryServers performs a substring/keyword match over cached server records.
// It returns the matching page and the total match count.
func (s *Store) QueryServers(ctx context.Context, q ServerQuery) ([]*ServerRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"is_active = 1"}
	var args []any
	if q.Text != "" {
		pattern := "%" + strings.ToLower(q.Text) + "%"
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(package_name) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	for _, tag := range q.Tags {
		where = append(where, "(','||LOWER(tags)||',') LIKE ?")
		args = append(args, "%,"+strings.ToLower(tag)+",%")
	}
	if q.Category != "" {
		where = append(where, "(','||LOWER(tags)||',') LIKE ?")
		args = append(args, "%,"+strings.ToLower(q.Category)+",%")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mcp_servers WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT id, name, description, tags, registry, package_name,
			install_count, star_count, is_active, last_fetched, payload
		FROM mcp_servers WHERE %s
		ORDER BY install_count DESC, star_count DESC, name ASC
		LIMIT %d OFFSET %d`, cond, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ServerRecord
	for rows.Next() {
		rec, err := scanServer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// CountServers returns the total number of cached server records.
func (s *Store) CountServers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mcp_servers").Scan(&n)
	return n, err
}

// DeleteServersByRegistry removes all server records sourced from a registry.
// Deleting from an empty set is a no-op, not an error.
func (s *Store) DeleteServersByRegistry(ctx context.Context, registry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM mcp_servers WHERE registry = ?", registry)
	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanServer(row scannable) (*ServerRecord, error) {
	var rec ServerRecord
	var tags string
	var active int
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Description, &tags, &rec.Registry,
		&rec.PackageName, &rec.InstallCount, &rec.StarCount, &active,
		&rec.LastFetched, &rec.Payload); err != nil {
		return nil, err
	}
	rec.IsActive = active == 1
	if tags != "" {
		rec.Tags = strings.Split(tags, ",")
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
