package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tiermem/tiermem-go/pkg/archive"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

func TestStorageRecordRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	runID := "session_7"

	memory := &Memory{
		ID:         "42",
		UserID:     "user_001",
		RunID:      &runID,
		Text:       "User prefers dark roast coffee",
		Categories: []string{"preferences"},
		Metadata:   map[string]interface{}{"source": "conversation"},
		CreatedAt:  created,
		UpdatedAt:  updated,
	}

	record := toStorageRecord(memory, []float64{0.6, 0.8})
	assert.Equal(t, memory.ID, record.ID)
	assert.Equal(t, memory.UserID, record.UserID)
	assert.Equal(t, &runID, record.RunID)
	assert.Equal(t, memory.Text, record.Text)
	assert.Equal(t, []float64{0.6, 0.8}, record.Vector)
	assert.Equal(t, memory.Categories, record.Categories)
	assert.Equal(t, created, record.CreatedAt)
	assert.Equal(t, updated, record.UpdatedAt)

	record.Score = 0.93
	back := fromStorageRecord(record)
	assert.Equal(t, memory.ID, back.ID)
	assert.Equal(t, memory.Text, back.Text)
	assert.Equal(t, 0.93, back.Score)
	assert.Equal(t, TierHot, back.SourceTier)
}

func TestFromStorageRecords(t *testing.T) {
	records := []*storage.Record{
		{ID: "1", UserID: "u", Text: "first"},
		{ID: "2", UserID: "u", Text: "second"},
	}

	memories := fromStorageRecords(records)
	assert.Len(t, memories, 2)
	assert.Equal(t, "first", memories[0].Text)
	assert.Equal(t, "second", memories[1].Text)
	for _, m := range memories {
		assert.Equal(t, TierHot, m.SourceTier)
	}
}

func TestArchiveEntryConversion(t *testing.T) {
	created := time.Date(2025, 11, 20, 8, 30, 0, 0, time.UTC)
	record := &storage.Record{
		ID:        "7",
		UserID:    "user_001",
		Text:      "User shipped Project Titan",
		Vector:    []float64{1, 0},
		Score:     0.99,
		CreatedAt: created,
		UpdatedAt: created,
	}

	entry := toArchiveEntry(record)
	assert.Equal(t, record.ID, entry.ID)
	assert.Equal(t, record.Text, entry.Text)
	assert.True(t, entry.ArchivedAt.IsZero(), "append stamps ArchivedAt, not the converter")

	back := fromArchiveEntry(entry)
	assert.Equal(t, record.ID, back.ID)
	assert.Equal(t, record.Text, back.Text)
	assert.Equal(t, TierArchive, back.SourceTier)
	assert.Zero(t, back.Score)
}

func TestFromArchiveEntries(t *testing.T) {
	entries := []*archive.Entry{
		{ID: "a1", UserID: "u", Text: "old fact"},
		{ID: "a2", UserID: "u", Text: "older fact"},
	}

	memories := fromArchiveEntries(entries)
	assert.Len(t, memories, 2)
	for _, m := range memories {
		assert.Equal(t, TierArchive, m.SourceTier)
	}
}

func TestToIntelligenceMessages(t *testing.T) {
	messages := toIntelligenceMessages([]Message{
		{Role: "user", Text: "I moved to Berlin"},
		{Role: "assistant", Text: "Noted."},
	})

	assert.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "I moved to Berlin", messages[0].Text)
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestToNeighbors(t *testing.T) {
	neighbors := toNeighbors([]*storage.Record{
		{ID: "10", Text: "User likes hiking", Score: 0.95},
		{ID: "11", Text: "User likes climbing", Score: 0.81},
	})

	assert.Len(t, neighbors, 2)
	assert.Equal(t, "10", neighbors[0].ID)
	assert.Equal(t, 0.95, neighbors[0].Score)
	assert.Equal(t, "User likes climbing", neighbors[1].Text)
}
