// Package entity remembers on-ledger entities (tokens, topics, contracts)
// created during agent sessions so later turns can resolve them by name.
package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashgraphonline/holdesk/store"
)

// Association is one remembered entity with its decoded metadata.
type Association struct {
	EntityID      string         `json:"entityId"`
	EntityName    string         `json:"entityName"`
	EntityType    string         `json:"entityType"`
	TransactionID string         `json:"transactionId,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	IsActive      bool           `json:"isActive"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// StoreResult reports whether a store call inserted a new association or
// found an existing active one.
type StoreResult struct {
	Entity  Association `json:"entity"`
	Created bool        `json:"created"`
}

// StoreRequest describes an entity to remember.
type StoreRequest struct {
	EntityID      string
	EntityName    string
	EntityType    string
	TransactionID string
	SessionID     string
	Metadata      map[string]any
}

// Service provides entity-association memory over the persistent store.
type Service struct {
	store *store.Store
}

// NewService creates an entity service.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// Store remembers an entity. When an active association for the entity id
// already exists it is returned unchanged and Created is false; duplicates
// are never inserted.
func (s *Service) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if strings.TrimSpace(req.EntityID) == "" {
		return nil, fmt.Errorf("entity id cannot be empty")
	}
	if strings.TrimSpace(req.EntityType) == "" {
		return nil, fmt.Errorf("entity type cannot be empty")
	}

	existing, err := s.store.GetActiveEntity(ctx, req.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity %s: %w", req.EntityID, err)
	}
	if existing != nil {
		assoc, err := fromRecord(existing)
		if err != nil {
			return nil, err
		}
		return &StoreResult{Entity: *assoc, Created: false}, nil
	}

	name := strings.TrimSpace(req.EntityName)
	if name == "" {
		name = req.EntityID
	}

	var metadata string
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode entity metadata: %w", err)
		}
		metadata = string(raw)
	}

	rec := &store.EntityRecord{
		EntityID:      req.EntityID,
		EntityName:    name,
		EntityType:    req.EntityType,
		TransactionID: req.TransactionID,
		SessionID:     req.SessionID,
		Metadata:      metadata,
	}
	if err := s.store.InsertEntity(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store entity %s: %w", req.EntityID, err)
	}

	assoc, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	return &StoreResult{Entity: *assoc, Created: true}, nil
}

// Get returns the active association for an entity id, or nil when the
// entity is unknown or deactivated.
func (s *Service) Get(ctx context.Context, entityID string) (*Association, error) {
	rec, err := s.store.GetActiveEntity(ctx, entityID)
	if err != nil || rec == nil {
		return nil, err
	}
	return fromRecord(rec)
}

// List returns active associations, optionally filtered by type and session.
func (s *Service) List(ctx context.Context, entityType, sessionID string, limit int) ([]*Association, error) {
	recs, err := s.store.ListEntities(ctx, store.EntityFilter{
		EntityType: entityType,
		SessionID:  sessionID,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	return fromRecords(recs)
}

// Search matches entity name, id, or transaction id as a substring.
func (s *Service) Search(ctx context.Context, query, entityType string, limit int) ([]*Association, error) {
	recs, err := s.store.SearchEntities(ctx, query, entityType, limit)
	if err != nil {
		return nil, err
	}
	return fromRecords(recs)
}

// Rename changes the display name of an active entity. It returns nil when
// the entity has no active association.
func (s *Service) Rename(ctx context.Context, entityID, newName string) (*Association, error) {
	if strings.TrimSpace(newName) == "" {
		return nil, fmt.Errorf("entity name cannot be empty")
	}
	rec, err := s.store.RenameEntity(ctx, entityID, newName)
	if err != nil || rec == nil {
		return nil, err
	}
	return fromRecord(rec)
}

// Deactivate hides an entity from lookups. It reports whether anything
// changed.
func (s *Service) Deactivate(ctx context.Context, entityID string) (bool, error) {
	return s.store.DeactivateEntity(ctx, entityID)
}

func fromRecord(rec *store.EntityRecord) (*Association, error) {
	assoc := &Association{
		EntityID:      rec.EntityID,
		EntityName:    rec.EntityName,
		EntityType:    rec.EntityType,
		TransactionID: rec.TransactionID,
		SessionID:     rec.SessionID,
		IsActive:      rec.IsActive,
	}
	if rec.Metadata != "" {
		if err := json.Unmarshal([]byte(rec.Metadata), &assoc.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for entity %s: %w", rec.EntityID, err)
		}
	}
	return assoc, nil
}

func fromRecords(recs []*store.EntityRecord) ([]*Association, error) {
	out := make([]*Association, 0, len(recs))
	for _, rec := range recs {
		assoc, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, assoc)
	}
	return out, nil
}
