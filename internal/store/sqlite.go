package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kpopcal/internal/model"
)

// SQLiteStore keeps one row per namespace. A write is a single UPSERT, so
// readers never see a partially replaced list.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing handle and creates the table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS event_lists (
		namespace  TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Exists(ctx context.Context, namespace string) (bool, error) {
	if err := validateNamespace(namespace); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM event_lists WHERE namespace = ?`, namespace).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Read(ctx context.Context, namespace string) ([]model.Event, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM event_lists WHERE namespace = ?`, namespace).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(namespace, []byte(payload))
}

func (s *SQLiteStore) Write(ctx context.Context, namespace string, events []model.Event) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	data, err := encode(events)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO event_lists (namespace, payload, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(namespace) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query, namespace, string(data), time.Now().UTC())
	return err
}

func (s *SQLiteStore) Clear(ctx context.Context, namespace string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM event_lists WHERE namespace = ?`, namespace)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
