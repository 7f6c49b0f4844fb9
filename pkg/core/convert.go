package core

import (
	"github.com/tiermem/tiermem-go/pkg/archive"
	"github.com/tiermem/tiermem-go/pkg/intelligence"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// toStorageRecord converts a core.Memory and its vector to a storage.Record.
//
// This function is used internally to convert between package types
// to avoid circular dependencies.
func toStorageRecord(m *Memory, vector []float64) *storage.Record {
	return &storage.Record{
		ID:         m.ID,
		UserID:     m.UserID,
		RunID:      m.RunID,
		Text:       m.Text,
		Vector:     vector,
		Categories: m.Categories,
		Metadata:   m.Metadata,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// fromStorageRecord converts a storage.Record to a core.Memory stamped with
// the hot source tier.
func fromStorageRecord(r *storage.Record) *Memory {
	return &Memory{
		ID:         r.ID,
		UserID:     r.UserID,
		RunID:      r.RunID,
		Text:       r.Text,
		Categories: r.Categories,
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Score:      r.Score,
		SourceTier: TierHot,
	}
}

// fromStorageRecords converts a slice of storage.Record to core.Memory.
func fromStorageRecords(records []*storage.Record) []*Memory {
	result := make([]*Memory, len(records))
	for i, r := range records {
		result[i] = fromStorageRecord(r)
	}
	return result
}

// toArchiveEntry converts a storage.Record to an archive.Entry. The archive
// stamps ArchivedAt itself on append.
func toArchiveEntry(r *storage.Record) *archive.Entry {
	return &archive.Entry{
		ID:         r.ID,
		UserID:     r.UserID,
		RunID:      r.RunID,
		Text:       r.Text,
		Categories: r.Categories,
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// fromArchiveEntry converts an archive.Entry to a core.Memory stamped with
// the archive source tier. Archive hits carry no similarity score.
func fromArchiveEntry(e *archive.Entry) *Memory {
	return &Memory{
		ID:         e.ID,
		UserID:     e.UserID,
		RunID:      e.RunID,
		Text:       e.Text,
		Categories: e.Categories,
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
		SourceTier: TierArchive,
	}
}

// fromArchiveEntries converts a slice of archive.Entry to core.Memory.
func fromArchiveEntries(entries []*archive.Entry) []*Memory {
	result := make([]*Memory, len(entries))
	for i, e := range entries {
		result[i] = fromArchiveEntry(e)
	}
	return result
}

// toIntelligenceMessages converts conversation turns for the extractor.
func toIntelligenceMessages(messages []Message) []intelligence.Message {
	result := make([]intelligence.Message, len(messages))
	for i, m := range messages {
		result[i] = intelligence.Message{Role: m.Role, Text: m.Text}
	}
	return result
}

// toNeighbors converts scored search hits for the merge policy.
func toNeighbors(records []*storage.Record) []intelligence.Neighbor {
	result := make([]intelligence.Neighbor, len(records))
	for i, r := range records {
		result[i] = intelligence.Neighbor{ID: r.ID, Text: r.Text, Score: r.Score}
	}
	return result
}
