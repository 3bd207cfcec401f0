// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides scoped property persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_properties (
			conversation_id TEXT NOT NULL,
			name            TEXT NOT NULL,
			value           BLOB NOT NULL,
			updated_at      TEXT NOT NULL,

			PRIMARY KEY (conversation_id, name)
		);

		CREATE TABLE IF NOT EXISTS user_properties (
			user_id    TEXT NOT NULL,
			name       TEXT NOT NULL,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (user_id, name)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// GetConversationProperty returns the named conversation-scoped property.
func (s *SQLiteStore) GetConversationProperty(ctx context.Context, conversationID, name string) ([]byte, error) {
	return s.getProperty(ctx, "conversation_properties", "conversation_id", conversationID, name)
}

// SetConversationProperty upserts the named conversation-scoped property.
func (s *SQLiteStore) SetConversationProperty(ctx context.Context, conversationID, name string, value []byte) error {
	return s.setProperty(ctx, "conversation_properties", "conversation_id", conversationID, name, value)
}

// DeleteConversationProperty removes the named conversation-scoped property.
// Deleting a property that does not exist is not an error.
func (s *SQLiteStore) DeleteConversationProperty(ctx context.Context, conversationID, name string) error {
	return s.deleteProperty(ctx, "conversation_properties", "conversation_id", conversationID, name)
}

// GetUserProperty returns the named user-scoped property.
func (s *SQLiteStore) GetUserProperty(ctx context.Context, userID, name string) ([]byte, error) {
	return s.getProperty(ctx, "user_properties", "user_id", userID, name)
}

// SetUserProperty upserts the named user-scoped property.
func (s *SQLiteStore) SetUserProperty(ctx context.Context, userID, name string, value []byte) error {
	return s.setProperty(ctx, "user_properties", "user_id", userID, name, value)
}

// DeleteUserProperty removes the named user-scoped property.
func (s *SQLiteStore) DeleteUserProperty(ctx context.Context, userID, name string) error {
	return s.deleteProperty(ctx, "user_properties", "user_id", userID, name)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) getProperty(ctx context.Context, table, scopeCol, scopeID, name string) ([]byte, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE %s = ? AND name = ?", table, scopeCol)

	var value []byte
	err := s.db.QueryRowContext(ctx, query, scopeID, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading property %s/%s: %w", scopeID, name, err)
	}
	return value, nil
}

func (s *SQLiteStore) setProperty(ctx context.Context, table, scopeCol, scopeID, name string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, name, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (%s, name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, table, scopeCol, scopeCol)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, query, scopeID, name, value, now); err != nil {
		return fmt.Errorf("writing property %s/%s: %w", scopeID, name, err)
	}
	return nil
}

func (s *SQLiteStore) deleteProperty(ctx context.Context, table, scopeCol, scopeID, name string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND name = ?", table, scopeCol)
	if _, err := s.db.ExecContext(ctx, query, scopeID, name); err != nil {
		return fmt.Errorf("deleting property %s/%s: %w", scopeID, name, err)
	}
	return nil
}
