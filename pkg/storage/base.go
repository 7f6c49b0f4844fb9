// Package storage provides interfaces and types for vector storage backends.
//
// It defines the Store interface that all hot-tier implementations must
// satisfy, along with the Record type and option structs shared by every
// backend.
package storage

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned by Get when no record exists for the given ID.
var ErrNotFound = errors.New("memory not found")

// Record represents a memory row in the hot tier.
//
// This type is defined in the storage package to avoid circular dependencies
// with the core package. It mirrors the core.Memory structure.
type Record struct {
	// ID is the unique identifier of the memory.
	ID string

	// UserID identifies the user who owns this memory.
	UserID string

	// RunID scopes the memory to a single session. Nil means the memory
	// belongs to the user's long-term store.
	RunID *string

	// Text is the content of the memory.
	Text string

	// Vector is the unit-normalized embedding for similarity search.
	Vector []float64

	// Categories holds optional classification labels.
	Categories []string

	// Metadata contains additional structured information.
	Metadata map[string]interface{}

	// CreatedAt is when the memory was first stored.
	CreatedAt time.Time

	// UpdatedAt is when the memory was last written.
	UpdatedAt time.Time

	// Score is the similarity score populated by Search operations.
	Score float64
}

// Store defines the interface for hot-tier vector storage backends.
//
// All storage implementations (SQLite, PostgreSQL, MySQL) must implement this
// interface.
type Store interface {
	// Upsert inserts the record, or overwrites text, vector, categories and
	// metadata when the ID already exists. CreatedAt is preserved on
	// overwrite; UpdatedAt is stamped with the current time either way.
	Upsert(ctx context.Context, rec *Record) error

	// Get retrieves a record by ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes a record by ID. Idempotent: deleting an absent ID
	// succeeds.
	Delete(ctx context.Context, id string) error

	// List returns records matching the options, newest first by CreatedAt.
	List(ctx context.Context, opts *ListOptions) ([]*Record, error)

	// Search performs cosine similarity search over the caller's scope.
	//
	// Results are filtered to Score >= Threshold and sorted by Score
	// descending; ties break by UpdatedAt descending, then ID ascending,
	// so repeated searches return a stable order.
	Search(ctx context.Context, vector []float64, opts *SearchOptions) ([]*Record, error)

	// Count returns the number of records for the user. An empty userID
	// counts the whole store.
	Count(ctx context.Context, userID string) (int, error)

	// SizeBytes reports the on-disk footprint of the store.
	SizeBytes(ctx context.Context) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}

// SearchOptions contains options for search operations.
type SearchOptions struct {
	// UserID filters results to a specific user. Required.
	UserID string

	// RunID selects the session scope. Nil matches only records whose
	// run is NULL (the long-term store); non-nil matches that run exactly.
	RunID *string

	// Limit sets the maximum number of results to return.
	Limit int

	// Threshold sets the minimum similarity score for results.
	Threshold float64
}

// ListOptions contains options for List operations.
type ListOptions struct {
	// UserID filters results to a specific user.
	UserID string

	// RunID selects the session scope, with the same NULL semantics as
	// SearchOptions.RunID. Ignored when AllRuns is set.
	RunID *string

	// AllRuns lifts the run filter so the listing spans every scope.
	AllRuns bool

	// Limit sets the maximum number of results to return. Zero means no
	// limit.
	Limit int

	// Offset sets the number of results to skip (for pagination).
	Offset int
}

// SortByScore orders records by Score descending, breaking ties by UpdatedAt
// descending and then ID ascending. Backends that compute similarity in-process
// share this so results stay deterministic across engines.
func SortByScore(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
