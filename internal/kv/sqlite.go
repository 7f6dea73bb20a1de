// ABOUTME: SQLite implementation of the key-value Store using modernc.org/sqlite
// ABOUTME: Single items table keyed by (pk, sk) with a JSON attribute blob

package kv

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite table. Attributes are
// stored as a JSON object; the owner attribute is additionally projected
// into its own column to back the owner secondary index.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the store at the given path. Parent
// directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "kv")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers instead of surfacing
	// SQLITE_BUSY; counter increments rely on this under concurrent
	// creation.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("key-value store initialized", "path", path)
	return s, nil
}

// createSchema creates the items table if it doesn't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS items (
			pk    TEXT NOT NULL,
			sk    TEXT NOT NULL,
			attrs TEXT NOT NULL DEFAULT '{}',
			owner TEXT,

			PRIMARY KEY (pk, sk)
		);

		CREATE INDEX IF NOT EXISTS idx_items_owner
			ON items(owner) WHERE owner IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing key-value store")
	return s.db.Close()
}

// Get returns the item at (pk, sk), or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, pk, sk string) (*Item, error) {
	var attrs string
	err := s.db.QueryRowContext(ctx,
		`SELECT attrs FROM items WHERE pk = ? AND sk = ?`, pk, sk,
	).Scan(&attrs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying item: %w", err)
	}

	item := Item{PK: pk, SK: sk}
	if err := decodeAttrs(attrs, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Put writes the item unconditionally.
func (s *SQLiteStore) Put(ctx context.Context, item Item) error {
	attrs, owner, err := encodeAttrs(item)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (pk, sk, attrs, owner) VALUES (?, ?, ?, ?)
		ON CONFLICT (pk, sk) DO UPDATE SET attrs = excluded.attrs, owner = excluded.owner
	`, item.PK, item.SK, attrs, owner)
	if err != nil {
		return fmt.Errorf("putting item: %w", err)
	}
	return nil
}

// PutIfAbsent writes the item only if the key does not already exist.
func (s *SQLiteStore) PutIfAbsent(ctx context.Context, item Item) error {
	attrs, owner, err := encodeAttrs(item)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (pk, sk, attrs, owner) VALUES (?, ?, ?, ?)`,
		item.PK, item.SK, attrs, owner)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("putting item: %w", err)
	}
	return nil
}

// Update merges the given attributes into an existing item.
func (s *SQLiteStore) Update(ctx context.Context, pk, sk string, attrs map[string]any) error {
	patch, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET attrs = json_patch(attrs, ?) WHERE pk = ? AND sk = ?`,
		string(patch), pk, sk)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrConditionFailed
	}
	return nil
}

// Delete removes the item at (pk, sk). Missing keys are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, pk, sk string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE pk = ? AND sk = ?`, pk, sk)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// Query returns the partition's items whose sort key starts with
// skPrefix, ordered by sort key.
func (s *SQLiteStore) Query(ctx context.Context, pk, skPrefix string) ([]Item, error) {
	// Prefix match as a half-open range so prefixes containing LIKE
	// metacharacters need no escaping. Sort keys are ASCII, so "\xff"
	// sorts after every continuation of the prefix.
	rows, err := s.db.QueryContext(ctx, `
		SELECT sk, attrs FROM items
		WHERE pk = ? AND sk >= ? AND sk < ?
		ORDER BY sk
	`, pk, skPrefix, skPrefix+"\xff")
	if err != nil {
		return nil, fmt.Errorf("querying partition: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item := Item{PK: pk}
		var attrs string
		if err := rows.Scan(&item.SK, &attrs); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		if err := decodeAttrs(attrs, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// QueryIndex returns all items whose indexed attribute equals value.
// The only supported index is OwnerIndex over the owner attribute.
func (s *SQLiteStore) QueryIndex(ctx context.Context, index, attr, value string) ([]Item, error) {
	if index != OwnerIndex || attr != "owner" {
		return nil, fmt.Errorf("unknown index %q on attribute %q", index, attr)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, sk, attrs FROM items
		WHERE owner = ?
		ORDER BY pk, sk
	`, value)
	if err != nil {
		return nil, fmt.Errorf("querying owner index: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var attrs string
		if err := rows.Scan(&item.PK, &item.SK, &attrs); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		if err := decodeAttrs(attrs, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Increment atomically adds delta to a numeric attribute of an existing
// item and returns the previous value. The read-modify-write happens in
// a single UPDATE, so SQLite's writer lock serializes concurrent
// increments of the same key.
func (s *SQLiteStore) Increment(ctx context.Context, pk, sk, attr string, delta int64) (int64, error) {
	path := "$." + attr

	var next int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET attrs = json_set(attrs, ?1, COALESCE(json_extract(attrs, ?1), 0) + ?2)
		WHERE pk = ?3 AND sk = ?4
		RETURNING json_extract(attrs, ?1)
	`, path, delta, pk, sk).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, ErrConditionFailed
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", attr, err)
	}

	return next - delta, nil
}

// encodeAttrs marshals the item's attributes and projects the owner
// attribute into its index column (nil when the item has no owner).
func encodeAttrs(item Item) (string, any, error) {
	attrs := item.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", nil, fmt.Errorf("encoding attributes: %w", err)
	}

	var owner any
	if o, ok := attrs["owner"].(string); ok {
		owner = o
	}
	return string(raw), owner, nil
}

// decodeAttrs unmarshals the JSON blob into the item, keeping numbers as
// json.Number so counter values survive without float rounding.
func decodeAttrs(raw string, item *Item) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&item.Attrs); err != nil {
		return fmt.Errorf("decoding attributes: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}
