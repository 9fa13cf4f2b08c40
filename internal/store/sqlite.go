package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Collection names shared by the persistence backends and the export format.
const (
	CollectionItems        = "items"
	CollectionOutfits      = "outfits"
	CollectionPreferences  = "preferences"
	CollectionEvents       = "events"
	CollectionVisionBoards = "visionBoards"
	CollectionSettings     = "settings"
)

var Collections = []string{
	CollectionItems,
	CollectionOutfits,
	CollectionPreferences,
	CollectionEvents,
	CollectionVisionBoards,
	CollectionSettings,
}

func isCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

var (
	ErrVersionConflict   = errors.New("collection was modified concurrently")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrInvalidDocument   = errors.New("invalid document")
)

// Document is one stored collection. Version starts at 1 on first write and
// grows by one on every write after that.
type Document struct {
	Data    json.RawMessage
	Version int64
}

// DocumentStore persists whole collections as JSON documents.
type DocumentStore interface {
	// Get returns nil, nil when the collection has never been written.
	Get(ctx context.Context, name string) (*Document, error)
	// Put writes data if the stored version still equals expectedVersion
	// (0 for a collection that does not exist yet) and returns the new version.
	Put(ctx context.Context, name string, data json.RawMessage, expectedVersion int64) (int64, error)
	ExportAll(ctx context.Context) (map[string]json.RawMessage, error)
	ImportAll(ctx context.Context, docs map[string]json.RawMessage) error
	ClearAll(ctx context.Context) error
	Close() error
}

type SQLiteStore struct {
	db *sql.DB
}

var _ DocumentStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS collections (
        name TEXT PRIMARY KEY,
        doc TEXT NOT NULL,
        version INTEGER NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, name string) (*Document, error) {
	if !isCollection(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx, "SELECT doc, version FROM collections WHERE name = ?", name).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query collection %s: %w", name, err)
	}
	return &Document{Data: json.RawMessage(doc), Version: version}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, name string, data json.RawMessage, expectedVersion int64) (int64, error) {
	if !isCollection(name) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	if !json.Valid(data) {
		return 0, fmt.Errorf("%w: collection %s is not valid JSON", ErrInvalidDocument, name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM collections WHERE name = ?", name).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read version of %s: %w", name, err)
	}
	if current != expectedVersion {
		return 0, fmt.Errorf("%w: %s is at version %d, expected %d", ErrVersionConflict, name, current, expectedVersion)
	}

	next := current + 1
	if err := upsert(ctx, tx, name, data, next); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit %s: %w", name, err)
	}
	return next, nil
}

func upsert(ctx context.Context, tx *sql.Tx, name string, data json.RawMessage, version int64) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO collections (name, doc, version, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET doc = excluded.doc, version = excluded.version, updated_at = excluded.updated_at`,
		name, string(data), version, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write collection %s: %w", name, err)
	}
	return nil
}

// ExportAll returns every known collection; collections never written map to null.
func (s *SQLiteStore) ExportAll(ctx context.Context) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(Collections))
	for _, name := range Collections {
		out[name] = json.RawMessage("null")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT name, doc FROM collections")
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, doc string
		if err := rows.Scan(&name, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan collection row: %w", err)
		}
		if isCollection(name) {
			out[name] = json.RawMessage(doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collections: %w", err)
	}
	return out, nil
}

// ImportAll overwrites each named collection. Unknown names and null values
// are skipped, so collections missing from docs are left untouched.
func (s *SQLiteStore) ImportAll(ctx context.Context, docs map[string]json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for name, data := range docs {
		if !isCollection(name) || isNull(data) {
			continue
		}
		if !json.Valid(data) {
			return fmt.Errorf("%w: collection %s is not valid JSON", ErrInvalidDocument, name)
		}
		var current int64
		err := tx.QueryRowContext(ctx, "SELECT version FROM collections WHERE name = ?", name).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read version of %s: %w", name, err)
		}
		if err := upsert(ctx, tx, name, data, current+1); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM collections"); err != nil {
		return fmt.Errorf("failed to delete collections: %w", err)
	}
	return nil
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
