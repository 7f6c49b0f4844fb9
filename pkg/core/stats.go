package core

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tiermem/tiermem-go/pkg/writequeue"
)

// StatusFileName is the status snapshot file name inside the data directory.
const StatusFileName = "mem0-status.json"

// Stats is a point-in-time operational snapshot of the memory subsystem. The
// same shape backs the memory_stats operation and the periodic status file.
type Stats struct {
	// TotalMemories counts the configured user's hot records plus the
	// archive line count.
	TotalMemories int `json:"total_memories"`

	// HotSizeBytes is the hot store's backing size on disk.
	HotSizeBytes int64 `json:"hot_size_bytes"`

	// ArchiveSizeBytes is the archive file size on disk.
	ArchiveSizeBytes int64 `json:"archive_size_bytes"`

	// WriteQueue carries the write queue counters.
	WriteQueue writequeue.Stats `json:"write_queue"`

	// LastUpdated is when this snapshot was taken.
	LastUpdated time.Time `json:"last_updated"`
}

// Stats assembles a snapshot across the tiers and the write queue.
func (c *Coordinator) Stats(ctx context.Context) (*Stats, error) {
	hot, err := c.store.Count(ctx, c.cfg.UserID)
	if err != nil {
		return nil, NewMemoryError("Stats", err)
	}
	archived, err := c.archive.LineCount(ctx)
	if err != nil {
		return nil, NewMemoryError("Stats", err)
	}
	hotSize, err := c.store.SizeBytes(ctx)
	if err != nil {
		return nil, NewMemoryError("Stats", err)
	}
	archiveSize, err := c.archive.SizeBytes(ctx)
	if err != nil {
		return nil, NewMemoryError("Stats", err)
	}

	return &Stats{
		TotalMemories:    hot + archived,
		HotSizeBytes:     hotSize,
		ArchiveSizeBytes: archiveSize,
		WriteQueue:       c.queue.Stats(),
		LastUpdated:      c.now().UTC(),
	}, nil
}

// StatusPath returns the status snapshot location.
func (c *Coordinator) StatusPath() string {
	return filepath.Join(c.cfg.DataDir, StatusFileName)
}

// writeStatus collects a snapshot and atomically replaces the status file
// (write-temp-then-rename). Failures are logged, never surfaced: the status
// file is advisory.
func (c *Coordinator) writeStatus(ctx context.Context) {
	stats, err := c.Stats(ctx)
	if err != nil {
		c.logger.Warn("status snapshot failed", "error", err)
		return
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		c.logger.Warn("status snapshot marshal failed", "error", err)
		return
	}

	path := c.StatusPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		c.logger.Warn("status snapshot write failed", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		c.logger.Warn("status snapshot rename failed", "path", path, "error", err)
	}
}
