// Package postgres provides the PostgreSQL + pgvector implementation of the
// hot tier.
//
// Unlike the embedded SQLite backend, similarity search runs inside the
// database using the pgvector cosine distance operator, with the full result
// ordering (score, recency, id) expressed in SQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tiermem/tiermem-go/pkg/storage"
)

// Client is a PostgreSQL + pgvector store.
type Client struct {
	db         *sql.DB
	table      string
	dimensions int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	Table      string
	Dimensions int
	SSLMode    string
}

// NewClient creates a new PostgreSQL store.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "memories"
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	client := &Client{
		db:         db,
		table:      table,
		dimensions: dimensions,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables enables pgvector and creates the memories table.
func (c *Client) initTables(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			run_id VARCHAR(255),
			text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			categories JSONB,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`, c.table, c.dimensions)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_user_run ON %s(user_id, run_id)
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: create index: %w", err)
	}

	return nil
}

// Upsert inserts or overwrites a record by ID, preserving created_at.
func (c *Client) Upsert(ctx context.Context, rec *storage.Record) error {
	categoriesJSON, metadataJSON, err := encodeJSONColumns(rec)
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
		VALUES ($1, $2, $3, $4, $5::vector, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			categories = EXCLUDED.categories,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, c.table)

	_, err = c.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		nullableRun(rec.RunID),
		rec.Text,
		vectorToString(rec.Vector),
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
		SELECT id, user_id, run_id, text, embedding::text, categories, metadata, created_at, updated_at
		FROM %s
		WHERE id = $1
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
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.table)

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

	whereClause, args := scopeClause(opts.UserID, opts.RunID, opts.AllRuns, 1)

	query := fmt.Sprintf(`
		SELECT id, user_id, run_id, text, embedding::text, categories, metadata, created_at, updated_at
		FROM %s
		%s
		ORDER BY created_at DESC, id ASC
	`, c.table, whereClause)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

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

// Search performs cosine similarity search inside the database.
//
// pgvector's <=> operator yields cosine distance, so score is computed as
// 1 - distance and the deterministic ordering (score desc, updated_at desc,
// id asc) is pushed into SQL.
func (c *Client) Search(ctx context.Context, vector []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	whereClause, args := scopeClause(opts.UserID, opts.RunID, false, 2)
	args = append([]interface{}{vectorToString(vector)}, args...)

	query := fmt.Sprintf(`
		SELECT id, user_id, run_id, text, embedding::text, categories, metadata, created_at, updated_at,
		       1 - (embedding <=> $1::vector) AS score
		FROM %s
		%s
		ORDER BY score DESC, updated_at DESC, id ASC
	`, c.table, whereClause)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*storage.Record
	for rows.Next() {
		rec, err := scanRecordWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}
		if rec.Score >= opts.Threshold {
			recs = append(recs, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	return recs, nil
}

// Count returns the number of records for the user, or for the whole store
// when userID is empty.
func (c *Client) Count(ctx context.Context, userID string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", c.table)
	var args []interface{}
	if userID != "" {
		query += " WHERE user_id = $1"
		args = append(args, userID)
	}

	var count int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return count, nil
}

// SizeBytes reports the total relation size including indexes and TOAST.
func (c *Client) SizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := c.db.QueryRowContext(ctx, "SELECT pg_total_relation_size($1)", c.table).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("SizeBytes: %w", err)
	}
	return size, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
