package authority

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// Store persists saved run documents.
type Store interface {
	// Load returns every saved document keyed by run id.
	Load(ctx context.Context) (map[string][]byte, error)
	// Save writes the saved form of one run document.
	Save(ctx context.Context, runID string, content []byte) error
	Close() error
}

// SQLiteStore keeps run documents in a SQLite table, base64 encoded.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS runs (
		id text not null primary key,
		content text not null
		)`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns every saved document keyed by run id.
func (s *SQLiteStore) Load(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content FROM runs`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var runID, rawSave string
		if err := rows.Scan(&runID, &rawSave); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(rawSave)
		if err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
		}
		out[runID] = raw
	}
	return out, rows.Err()
}

// Save writes the saved form of one run document.
func (s *SQLiteStore) Save(ctx context.Context, runID string, content []byte) error {
	encoded := base64.StdEncoding.EncodeToString(content)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, content) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content WHERE content != excluded.content`,
		runID, encoded,
	); err != nil {
		return fmt.Errorf("failed to save run %s: %w", runID, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
