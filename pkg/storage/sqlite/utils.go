package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tiermem/tiermem-go/pkg/storage"
)

// scopeClause builds the WHERE clause for a user/run scope. A nil runID pins
// the long-term scope (run_id IS NULL); allRuns lifts the run filter.
func scopeClause(userID string, runID *string, allRuns bool) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}

	if userID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, userID)
	}

	if !allRuns {
		if runID == nil {
			conditions = append(conditions, "run_id IS NULL")
		} else {
			conditions = append(conditions, "run_id = ?")
			args = append(args, *runID)
		}
	}

	if len(conditions) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// nullableRun converts an optional run ID into a driver-friendly value.
func nullableRun(runID *string) interface{} {
	if runID == nil {
		return nil
	}
	return *runID
}

// encodeColumns serializes the record's vector, categories and metadata into
// their JSON TEXT column forms.
func encodeColumns(rec *storage.Record) (embedding, categories, metadata string, err error) {
	embeddingBytes, err := json.Marshal(rec.Vector)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal embedding: %w", err)
	}

	categoriesBytes, err := json.Marshal(rec.Categories)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal categories: %w", err)
	}

	metadataBytes, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal metadata: %w", err)
	}

	return string(embeddingBytes), string(categoriesBytes), string(metadataBytes), nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one record from a row or rows cursor.
func scanRecord(scanner rowScanner) (*storage.Record, error) {
	var rec storage.Record
	var runID sql.NullString
	var embeddingStr, categoriesStr, metadataStr string

	err := scanner.Scan(
		&rec.ID,
		&rec.UserID,
		&runID,
		&rec.Text,
		&embeddingStr,
		&categoriesStr,
		&metadataStr,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if runID.Valid {
		rec.RunID = &runID.String
	}

	if err := json.Unmarshal([]byte(embeddingStr), &rec.Vector); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	if categoriesStr != "" && categoriesStr != "null" {
		if err := json.Unmarshal([]byte(categoriesStr), &rec.Categories); err != nil {
			return nil, fmt.Errorf("parse categories: %w", err)
		}
	}
	if metadataStr != "" && metadataStr != "null" {
		if err := json.Unmarshal([]byte(metadataStr), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return &rec, nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched or zero vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
