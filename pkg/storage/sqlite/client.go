// Package sqlite provides the SQLite implementation of the hot tier.
//
// SQLite is the default embedded backend: one database file per data
// directory, no server process. Vectors are stored as JSON strings in TEXT
// fields, and similarity search uses in-process cosine calculation over the
// caller's scope.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tiermem/tiermem-go/pkg/storage"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// path is the database file location, used for SizeBytes.
	path string

	// table is the name of the table storing memories.
	table string
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Table is the name of the table to use. Defaults to "memories".
	Table string
}

// NewClient creates a new SQLite store, creating the database file and
// schema on first use.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "memories"
	}

	client := &Client{
		db:    db,
		path:  cfg.DBPath,
		table: table,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			run_id TEXT,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL,
			categories TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`, c.table)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_user_run ON %s(user_id, run_id)
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Upsert inserts the record or overwrites an existing one by ID, preserving
// created_at on conflict. The record's CreatedAt and UpdatedAt fields are
// stamped so the caller observes what was written.
func (c *Client) Upsert(ctx context.Context, rec *storage.Record) error {
	embeddingJSON, categoriesJSON, metadataJSON, err := encodeColumns(rec)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, run_id, text, embedding, categories, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			categories = excluded.categories,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, c.table)

	_, err = c.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		nullableRun(rec.RunID),
		rec.Text,
		embeddingJSON,
		categoriesJSON,
		metadataJSON,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	return nil
}

// Get retrieves a record by ID.
func (c *Client) Get(ctx context.Context, id string) (*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, run_id, text, embedding, categories, metadata, created_at, updated_at
		FROM %s
		WHERE id = ?
	`, c.table)

	rec, err := scanRecord(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return rec, nil
}

// Delete deletes a record by ID. Deleting an absent ID is a no-op.
func (c *Client) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table)

	if _, err := c.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	return nil
}

// List returns records in the requested scope, newest first.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.ListOptions{AllRuns: true}
	}

	whereClause, args := scopeClause(opts.UserID, opts.RunID, opts.AllRuns)

	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, run_id, text, embedding, categories, metadata, created_at, updated_at
		FROM %s
		%s
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?
	`, c.table, whereClause)

	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	return recs, nil
}

// Search performs cosine similarity search within the caller's scope.
//
// SQLite has no native vector operations, so the scope's rows are loaded and
// scored in process. The hot tier is bounded by the prune policy, which keeps
// the scan small enough in practice.
func (c *Client) Search(ctx context.Context, vector []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	whereClause, args := scopeClause(opts.UserID, opts.RunID, false)

	query := fmt.Sprintf(`
		SELECT id, user_id, run_id, text, embedding, categories, metadata, created_at, updated_at
		FROM %s
		%s
	`, c.table, whereClause)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}

		rec.Score = cosineSimilarity(vector, rec.Vector)
		if rec.Score >= opts.Threshold {
			recs = append(recs, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	storage.SortByScore(recs)
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}

	return recs, nil
}

// Count returns the number of records for the user, or for the whole store
// when userID is empty.
func (c *Client) Count(ctx context.Context, userID string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", c.table)
	var args []interface{}
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}

	var count int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return count, nil
}

// SizeBytes reports the combined size of the database file and its WAL
// sidecars.
func (c *Client) SizeBytes(ctx context.Context) (int64, error) {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		info, err := os.Stat(c.path + suffix)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, fmt.Errorf("SizeBytes: %w", err)
		}
		total += info.Size()
	}
	return total, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
