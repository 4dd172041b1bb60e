// Package store is the SQLite persistence layer backing the registry cache,
// entity-association memory, and chat session history. Schema bootstrap is
// idempotent; callers own the lifecycle of the returned Store.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a single SQLite database shared by all local caches.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates or opens the database at path and bootstraps the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenInMemory opens a private in-memory database. Used by tests.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to a :memory: database would see a different
	// database, so keep everything on one.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: ":memory:"}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// initSchema creates the database schema.
func (s *Store) initSchema() error {
	schema := `
	-- MCP registry server records
	CREATE TABLE IF NOT EXISTS mcp_servers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		tags TEXT,
		registry TEXT NOT NULL,
		package_name TEXT,
		install_count INTEGER NOT NULL DEFAULT 0,
		star_count INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_fetched DATETIME NOT NULL,
		payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_mcp_servers_name ON mcp_servers(name);
	CREATE INDEX IF NOT EXISTS idx_mcp_servers_registry ON mcp_servers(registry);

	-- Memoized registry search results keyed by a query hash
	CREATE TABLE IF NOT EXISTS search_cache (
		query_hash TEXT PRIMARY KEY,
		server_ids TEXT NOT NULL,
		total INTEGER NOT NULL,
		has_more INTEGER NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_search_cache_expires ON search_cache(expires_at);

	-- Per-registry sync bookkeeping
	CREATE TABLE IF NOT EXISTS registry_sync (
		registry TEXT PRIMARY KEY,
		last_sync_at DATETIME,
		last_success_at DATETIME,
		server_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		next_sync_at DATETIME
	);

	-- Entity-association memory
	CREATE TABLE IF NOT EXISTS entity_associations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		entity_name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		transaction_id TEXT,
		session_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_entity_associations_entity_id ON entity_associations(entity_id);
	CREATE INDEX IF NOT EXISTS idx_entity_associations_entity_type ON entity_associations(entity_type);
	CREATE INDEX IF NOT EXISTS idx_entity_associations_session_id ON entity_associations(session_id);

	-- Chat history
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'chat',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}
