package store

import (
	"context"
	"database/sql"
	"time"
)

// SyncStatus is the outcome of a registry sync attempt.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
)

// SyncRecord tracks sync bookkeeping for one external registry.
// Exactly one row exists per registry name.
type SyncRecord struct {
	Registry      string
	LastSyncAt    time.Time
	LastSuccessAt time.Time
	ServerCount   int
	Status        SyncStatus
	ErrorMessage  string
	NextSyncAt    time.Time
}

// GetSyncRecord returns the sync row for a registry, or nil when absent.
func (s *Store) GetSyncRecord(ctx context.Context, registry string) (*SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT registry, last_sync_at, last_success_at, server_count, status, error_message, next_sync_at
		FROM registry_sync WHERE registry = ?`, registry)

	var rec SyncRecord
	var lastSync, lastSuccess, nextSync sql.NullTime
	var errMsg sql.NullString
	err := row.Scan(&rec.Registry, &lastSync, &lastSuccess, &rec.ServerCount, &rec.Status, &errMsg, &nextSync)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		rec.LastSyncAt = lastSync.Time
	}
	if lastSuccess.Valid {
		rec.LastSuccessAt = lastSuccess.Time
	}
	if nextSync.Valid {
		rec.NextSyncAt = nextSync.Time
	}
	rec.ErrorMessage = errMsg.String
	return &rec, nil
}

// UpsertSyncRecord inserts or replaces the sync row for rec.Registry.
func (s *Store) UpsertSyncRecord(ctx context.Context, rec *SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registry_sync (registry, last_sync_at, last_success_at, server_count, status, error_message, next_sync_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(registry) DO UPDATE SET
			last_sync_at=excluded.last_sync_at,
			last_success_at=excluded.last_success_at,
			server_count=excluded.server_count,
			status=excluded.status,
			error_message=excluded.error_message,
			next_sync_at=excluded.next_sync_at`,
		rec.Registry, nullTime(rec.LastSyncAt), nullTime(rec.LastSuccessAt),
		rec.ServerCount, string(rec.Status), rec.ErrorMessage, nullTime(rec.NextSyncAt))
	return err
}

// ListSyncRecords returns sync rows for all known registries.
func (s *Store) ListSyncRecords(ctx context.Context) ([]*SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT registry, last_sync_at, last_success_at, server_count, status, error_message, next_sync_at
		FROM registry_sync ORDER BY registry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SyncRecord
	for rows.Next() {
		var rec SyncRecord
		var lastSync, lastSuccess, nextSync sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&rec.Registry, &lastSync, &lastSuccess, &rec.ServerCount,
			&rec.Status, &errMsg, &nextSync); err != nil {
			return nil, err
		}
		if lastSync.Valid {
			rec.LastSyncAt = lastSync.Time
		}
		if lastSuccess.Valid {
			rec.LastSuccessAt = lastSuccess.Time
		}
		if nextSync.Valid {
			rec.NextSyncAt = nextSync.Time
		}
		rec.ErrorMessage = errMsg.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ClearSyncRecords removes all registry sync bookkeeping. Idempotent.
func (s *Store) ClearSyncRecords(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM registry_sync")
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
