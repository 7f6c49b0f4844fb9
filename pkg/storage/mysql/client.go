// Package mysql provides the MySQL implementation of the hot tier.
//
// Stock MySQL has no vector type, so embeddings are stored as JSON strings
// and similarity is computed in process over the caller's scope, the same
// strategy as the SQLite backend. The schema also works against MySQL
// protocol compatibles such as MariaDB and OceanBase.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/tiermem/tiermem-go/pkg/storage"
)

// Client is a MySQL store.
type Client struct {
	db     *sql.DB
	dbName string
	table  string
}

// Config contains MySQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Table    string
}

// NewClient creates a new MySQL store.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "memories"
	}

	client := &Client{
		db:     db,
		dbName: cfg.DBName,
		table:  table,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			run_id VARCHAR(255),
			`+"`text`"+` LONGTEXT NOT NULL,
			embedding LONGTEXT NOT NULL,
			categories JSON,
			metadata JSON,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_user_run (user_id, run_id)
		)
	`, c.table)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Upsert inserts or overwrites a record by ID, preserving created_at.
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
		(id, user_id, run_id, `+"`text`"+`, embedding, categories, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			`+"`text`"+` = VALUES(`+"`text`"+`),
			embedding = VALUES(embedding),
			categories = VALUES(categories),
			metadata = VALUES(metadata),
			updated_at = VALUES(updated_at)
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
		SELECT id, user_id, run_id, `+"`text`"+`, embedding, categories, metadata, created_at, updated_at
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

	query := fmt.Sprintf(`
		SELECT id, user_id, run_id, `+"`text`"+`, embedding, categories, metadata, created_at, updated_at
		FROM %s
		%s
		ORDER BY created_at DESC, id ASC
	`, c.table, whereClause)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
		if opts.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", opts.Offset)
		}
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

// Search performs cosine similarity search within the caller's scope,
// scoring rows in process.
func (c *Client) Search(ctx context.Context, vector []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	whereClause, args := scopeClause(opts.UserID, opts.RunID, false)

	query := fmt.Sprintf(`
		SELECT id, user_id, run_id, `+"`text`"+`, embedding, categories, metadata, created_at, updated_at
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

// SizeBytes reports the table footprint from information_schema.
func (c *Client) SizeBytes(ctx context.Context) (int64, error) {
	query := `
		SELECT COALESCE(data_length + index_length, 0)
		FROM information_schema.TABLES
		WHERE table_schema = ? AND table_name = ?
	`

	var size int64
	err := c.db.QueryRowContext(ctx, query, c.dbName, c.table).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
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
