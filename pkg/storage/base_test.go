package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tiermem/tiermem-go/pkg/storage"
)

func TestSortByScore(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recs := []*storage.Record{
		{ID: "b", Score: 0.9, UpdatedAt: base},
		{ID: "a", Score: 0.9, UpdatedAt: base},
		{ID: "c", Score: 0.9, UpdatedAt: base.Add(time.Minute)},
		{ID: "d", Score: 0.95, UpdatedAt: base.Add(-time.Hour)},
	}

	storage.SortByScore(recs)

	// Highest score first, then most recently updated, then lowest ID.
	ids := []string{recs[0].ID, recs[1].ID, recs[2].ID, recs[3].ID}
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids)
}
