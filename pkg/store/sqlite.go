// Package store persists the writable state of tax returns.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/dlovans/taxflow/pkg/factgraph"
)

// ErrNotFound is returned when no state was saved for a return.
var ErrNotFound = errors.New("return not found")

// Memory opens a private in-memory database.
const Memory = ":memory:"

// migrations are applied in order; the database's user_version records how
// many have run.
var migrations = []string{
	`
	CREATE TABLE returns (
		return_id  TEXT PRIMARY KEY,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE facts (
		return_id  TEXT NOT NULL REFERENCES returns(return_id) ON DELETE CASCADE,
		path       TEXT NOT NULL,
		value_json TEXT NOT NULL,
		PRIMARY KEY (return_id, path)
	);
	CREATE TABLE collection_items (
		return_id  TEXT NOT NULL REFERENCES returns(return_id) ON DELETE CASCADE,
		collection TEXT NOT NULL,
		position   INTEGER NOT NULL,
		item_id    TEXT NOT NULL,
		PRIMARY KEY (return_id, collection, position)
	);
	`,
	`CREATE INDEX idx_returns_updated ON returns(updated_at);`,
}

// SQLite stores returns in a SQLite database. It implements
// factgraph.Persister and is safe for concurrent use.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// Option configures a SQLite store.
type Option func(*SQLite)

// WithLogger sets the store's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLite) {
		if l != nil {
			s.log = l
		}
	}
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, opts ...Option) (*SQLite, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// one connection: SQLite has a single writer, and :memory: is per connection
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("configure store: %w", err)
		}
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA does not take bind parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
		s.log.Info("migrated store", zap.Int("version", i+1))
	}
	return nil
}

// Save replaces the stored state of returnID in one transaction.
func (s *SQLite) Save(ctx context.Context, returnID string, state *factgraph.State) error {
	if state == nil {
		state = factgraph.NewState()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO returns (return_id, updated_at) VALUES (?, ?)
		ON CONFLICT(return_id) DO UPDATE SET updated_at = excluded.updated_at`,
		returnID, s.now().UTC()); err != nil {
		return fmt.Errorf("save return: %w", err)
	}
	for _, table := range []string{"facts", "collection_items"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE return_id = ?", returnID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	paths := make([]string, 0, len(state.Facts))
	for p := range state.Facts {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)
	for _, p := range paths {
		data, err := json.Marshal(state.Facts[factgraph.ConcretePath(p)])
		if err != nil {
			return fmt.Errorf("encode %s: %w", p, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO facts (return_id, path, value_json) VALUES (?, ?, ?)",
			returnID, p, string(data)); err != nil {
			return fmt.Errorf("save fact %s: %w", p, err)
		}
	}

	for coll, items := range state.Collections {
		for i, id := range items {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO collection_items (return_id, collection, position, item_id) VALUES (?, ?, ?, ?)",
				returnID, string(coll), i, id); err != nil {
				return fmt.Errorf("save item %s of %s: %w", id, coll, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	s.log.Debug("saved return",
		zap.String("return", returnID),
		zap.Int("facts", len(paths)))
	return nil
}

// Load reads the stored state of returnID. Values come back as decoded JSON;
// factgraph.Restore normalizes them.
func (s *SQLite) Load(ctx context.Context, returnID string) (*factgraph.State, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM returns WHERE return_id = ?", returnID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, returnID)
	}
	if err != nil {
		return nil, fmt.Errorf("load return: %w", err)
	}

	state := factgraph.NewState()
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, value_json FROM facts WHERE return_id = ?", returnID)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var path, data string
		if err := rows.Scan(&path, &data); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		state.Facts[factgraph.ConcretePath(path)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}

	items, err := s.db.QueryContext(ctx,
		"SELECT collection, item_id FROM collection_items WHERE return_id = ? ORDER BY collection, position",
		returnID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer items.Close()
	for items.Next() {
		var coll, id string
		if err := items.Scan(&coll, &id); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		c := factgraph.ConcretePath(coll)
		state.Collections[c] = append(state.Collections[c], id)
	}
	if err := items.Err(); err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	return state, nil
}

// Delete removes a return. Deleting an unknown return is not an error.
func (s *SQLite) Delete(ctx context.Context, returnID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"facts", "collection_items", "returns"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE return_id = ?", returnID); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// Returns lists stored return ids, most recently saved first.
func (s *SQLite) Returns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT return_id FROM returns ORDER BY updated_at DESC, return_id")
	if err != nil {
		return nil, fmt.Errorf("list returns: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan return: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
