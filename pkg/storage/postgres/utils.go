package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tiermem/tiermem-go/pkg/storage"
)

// scopeClause builds a WHERE clause for the user/run scope with placeholders
// starting at startIndex. A nil runID pins the long-term scope (run_id IS
// NULL); allRuns lifts the run filter.
func scopeClause(userID string, runID *string, allRuns bool, startIndex int) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}
	argIndex := startIndex

	if userID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, userID)
		argIndex++
	}

	if !allRuns {
		if runID == nil {
			conditions = append(conditions, "run_id IS NULL")
		} else {
			conditions = append(conditions, fmt.Sprintf("run_id = $%d", argIndex))
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

// encodeJSONColumns serializes categories and metadata for JSONB columns.
func encodeJSONColumns(rec *storage.Record) (categories, metadata []byte, err error) {
	categories, err = json.Marshal(rec.Categories)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal categories: %w", err)
	}
	metadata, err = json.Marshal(rec.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return categories, metadata, nil
}

// vectorToString converts a vector to the pgvector text format "[1,2,3]".
func vectorToString(vec []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

// stringToVector parses the pgvector text format back into a vector.
func stringToVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector element %d: %w", i, err)
		}
		vec[i] = v
	}
	return vec, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one record without a score column.
func scanRecord(scanner rowScanner) (*storage.Record, error) {
	return scan(scanner, false)
}

// scanRecordWithScore reads one record including the trailing score column.
func scanRecordWithScore(scanner rowScanner) (*storage.Record, error) {
	return scan(scanner, true)
}

func scan(scanner rowScanner, withScore bool) (*storage.Record, error) {
	var rec storage.Record
	var runID sql.NullString
	var embeddingStr string
	var categoriesBytes, metadataBytes []byte

	dest := []interface{}{
		&rec.ID,
		&rec.UserID,
		&runID,
		&rec.Text,
		&embeddingStr,
		&categoriesBytes,
		&metadataBytes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	}
	if withScore {
		dest = append(dest, &rec.Score)
	}

	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	if runID.Valid {
		rec.RunID = &runID.String
	}

	vec, err := stringToVector(embeddingStr)
	if err != nil {
		return nil, err
	}
	rec.Vector = vec

	if len(categoriesBytes) > 0 {
		if err := json.Unmarshal(categoriesBytes, &rec.Categories); err != nil {
			return nil, fmt.Errorf("parse categories: %w", err)
		}
	}
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return &rec, nil
}
