package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// EntityRecord is one remembered on-ledger entity association.
type EntityRecord struct {
	EntityID      string    `json:"entityId"`
	EntityName    string    `json:"entityName"`
	EntityType    string    `json:"entityType"`
	TransactionID string    `json:"transactionId,omitempty"`
	SessionID     string    `json:"sessionId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	IsActive      bool      `json:"isActive"`
	Metadata      string    `json:"metadata,omitempty"`
}

// EntityFilter narrows entity listings. Zero values match everything.
type EntityFilter struct {
	EntityType string
	SessionID  string
	Limit      int
}

const entityColumns = `entity_id, entity_name, entity_type, transaction_id,
	session_id, created_at, updated_at, is_active, metadata`

// InsertEntity records a new active entity association.
func (s *Store) InsertEntity(ctx context.Context, rec *EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	rec.IsActive = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_associations (entity_id, entity_name, entity_type,
			transaction_id, session_id, created_at, updated_at, is_active, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		rec.EntityID, rec.EntityName, rec.EntityType,
		nullStr(rec.TransactionID), nullStr(rec.SessionID),
		rec.CreatedAt, rec.UpdatedAt, nullStr(rec.Metadata))
	return err
}

// GetActiveEntity returns the most recent active association for an entity
// id, or nil when none exists.
func (s *Store) GetActiveEntity(ctx context.Context, entityID string) (*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM entity_associations
		WHERE entity_id = ? AND is_active = 1
		ORDER BY created_at DESC LIMIT 1`, entityID)
	rec, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListEntities returns active associations matching the filter, newest first.
func (s *Store) ListEntities(ctx context.Context, f EntityFilter) ([]*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"is_active = 1"}
	var args []any
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+`
		FROM entity_associations
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

// SearchEntities matches name, id, or transaction id as a case-insensitive
// substring. Only active associations are returned.
func (s *Store) SearchEntities(ctx context.Context, query, entityType string, limit int) ([]*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + strings.ToLower(query) + "%"
	where := "is_active = 1 AND (LOWER(entity_name) LIKE ? OR LOWER(entity_id) LIKE ? OR LOWER(COALESCE(transaction_id, '')) LIKE ?)"
	args := []any{pattern, pattern, pattern}
	if entityType != "" {
		where += " AND entity_type = ?"
		args = append(args, entityType)
	}
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+`
		FROM entity_associations
		WHERE `+where+`
		ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

// DeactivateEntity marks every association for an entity id inactive and
// reports whether any row changed.
func (s *Store) DeactivateEntity(ctx context.Context, entityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE entity_associations SET is_active = 0, updated_at = ?
		WHERE entity_id = ?`, time.Now().UTC(), entityID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RenameEntity updates the display name of an active entity and returns the
// updated record, or nil when no active association exists.
func (s *Store) RenameEntity(ctx context.Context, entityID, newName string) (*EntityRecord, error) {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE entity_associations SET entity_name = ?, updated_at = ?
		WHERE entity_id = ? AND is_active = 1`,
		newName, time.Now().UTC(), entityID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetActiveEntity(ctx, entityID)
}

func scanEntity(row scannable) (*EntityRecord, error) {
	var rec EntityRecord
	var txID, sessionID, metadata sql.NullString
	var active int
	if err := row.Scan(&rec.EntityID, &rec.EntityName, &rec.EntityType,
		&txID, &sessionID, &rec.CreatedAt, &rec.UpdatedAt, &active, &metadata); err != nil {
		return nil, err
	}
	rec.TransactionID = txID.String
	rec.SessionID = sessionID.String
	rec.Metadata = metadata.String
	rec.IsActive = active == 1
	return &rec, nil
}

func collectEntities(rows *sql.Rows) ([]*EntityRecord, error) {
	var out []*EntityRecord
	for rows.Next() {
		rec, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
