// ABOUTME: SQLite implementation of the room-scoped state store using modernc.org/sqlite
// ABOUTME: Single table keyed by (room, key) with automatic schema creation

package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the state database at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps concurrent reads from identity loops cheap.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With("component", "statestore"),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("state store initialized", "path", path)
	return s, nil
}

// createSchema creates the table if it doesn't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS room_state (
			room       TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (room, key)
		);
		CREATE INDEX IF NOT EXISTS idx_room_state_key ON room_state(key);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value for a key in a room, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, room, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM room_state WHERE room = ? AND key = ?",
		room, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", room, key, err)
	}
	return value, nil
}

// Put writes a value, replacing any existing one.
func (s *SQLiteStore) Put(ctx context.Context, room, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_state (room, key, value, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(room, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		room, key, value,
	)
	if err != nil {
		return fmt.Errorf("putting %s/%s: %w", room, key, err)
	}
	return nil
}

// List returns all key/value pairs in a room with the given key prefix.
func (s *SQLiteStore) List(ctx context.Context, room, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM room_state WHERE room = ? AND key LIKE ? || '%' ORDER BY key",
		room, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s/%s*: %w", room, prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// Rooms returns every room holding at least one key with the prefix.
func (s *SQLiteStore) Rooms(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT room FROM room_state WHERE key LIKE ? || '%' ORDER BY room",
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
