// Package session persists chat sessions and their message history.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashgraphonline/holdesk/store"
)

// DefaultMode is the conversation mode for new sessions.
const DefaultMode = "chat"

// Message is one conversation turn.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is a persisted conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Service manages chat sessions over the persistent store.
type Service struct {
	store *store.Store
}

// NewService creates a session service.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// Create starts a new session. An empty title defaults to "New chat" and an
// empty mode to DefaultMode.
func (s *Service) Create(ctx context.Context, title, mode string) (*Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}
	if mode == "" {
		mode = DefaultMode
	}
	now := time.Now().UTC()
	rec := &store.SessionRecord{
		ID:        uuid.NewString(),
		Title:     title,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.UpsertSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return fromSessionRecord(rec), nil
}

// Get returns a session by id, or nil when it does not exist.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	rec, err := s.store.GetSession(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return fromSessionRecord(rec), nil
}

// List returns all sessions, most recently active first.
func (s *Service) List(ctx context.Context) ([]*Session, error) {
	recs, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromSessionRecord(rec))
	}
	return out, nil
}

// Rename changes a session's title. Renaming a missing session is an error.
func (s *Service) Rename(ctx context.Context, id, title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("session title cannot be empty")
	}
	rec, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("session not found: %s", id)
	}
	rec.Title = title
	rec.UpdatedAt = time.Now().UTC()
	return s.store.UpsertSession(ctx, rec)
}

// Delete removes a session and its messages. It reports whether the session
// existed.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	return s.store.DeleteSession(ctx, id)
}

// AppendMessage adds a message to a session and returns the stored message.
// The session must exist.
func (s *Service) AppendMessage(ctx context.Context, sessionID, role, content, metadata string) (*Message, error) {
	if strings.TrimSpace(role) == "" {
		return nil, fmt.Errorf("message role cannot be empty")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}

	rec := &store.MessageRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return fromMessageRecord(rec), nil
}

// Messages returns a session's history in order.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]*Message, error) {
	recs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromMessageRecord(rec))
	}
	return out, nil
}

func fromSessionRecord(rec *store.SessionRecord) *Session {
	return &Session{
		ID:        rec.ID,
		Title:     rec.Title,
		Mode:      rec.Mode,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func fromMessageRecord(rec *store.MessageRecord) *Message {
	return &Message{
		ID:        rec.ID,
		Role:      rec.Role,
		Content:   rec.Content,
		Metadata:  rec.Metadata,
		CreatedAt: rec.CreatedAt,
	}
}
