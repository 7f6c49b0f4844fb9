package core

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// globalBufferKey buckets messages observed outside any session.
const globalBufferKey = "__global__"

// IngestFunc receives a flushed capture batch. Implementations log their own
// failures; the raw turns are not re-queued.
type IngestFunc func(ctx context.Context, sessionID string, messages []Message)

// CaptureBatcher buffers observed conversation turns per session and hands
// them to ingestion after a debounce window.
//
// Each schedule call resets the session's timer, so a burst of turns flushes
// once. Buffers are bounded: overflow drops the oldest turns. Within one
// buffer delivered messages preserve observation order; across buffers no
// ordering is guaranteed.
type CaptureBatcher struct {
	mu       sync.Mutex
	buffers  map[string]*captureBuffer
	window   time.Duration
	maxSize  int
	ingest   IngestFunc
	inflight sync.WaitGroup
	logger   *slog.Logger
}

type captureBuffer struct {
	sessionID string
	messages  []Message
	timer     *time.Timer
}

// NewCaptureBatcher creates a batcher that delivers batches to ingest.
func NewCaptureBatcher(cfg *Config, ingest IngestFunc, logger *slog.Logger) *CaptureBatcher {
	return &CaptureBatcher{
		buffers: make(map[string]*captureBuffer),
		window:  time.Duration(cfg.CaptureBatchWindowMS) * time.Millisecond,
		maxSize: cfg.CaptureBatchMaxMessages,
		ingest:  ingest,
		logger:  logger,
	}
}

// Schedule appends messages to the session's buffer and re-arms its debounce
// timer. An empty sessionID uses the shared global buffer.
func (b *CaptureBatcher) Schedule(sessionID string, messages []Message) {
	if len(messages) == 0 {
		return
	}
	key := bufferKey(sessionID)

	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[key]
	if !ok {
		buf = &captureBuffer{sessionID: sessionID}
		b.buffers[key] = buf
	}

	buf.messages = append(buf.messages, messages...)
	if len(buf.messages) > b.maxSize {
		buf.messages = buf.messages[len(buf.messages)-b.maxSize:]
	}

	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(b.window, func() {
		b.Flush(context.Background(), key)
	})
}

// Flush detaches the keyed buffer, compacts it and hands it to ingestion in
// the caller's goroutine. Flushing an absent or empty buffer is a no-op.
func (b *CaptureBatcher) Flush(ctx context.Context, key string) {
	b.mu.Lock()
	buf, ok := b.buffers[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.buffers, key)
	if buf.timer != nil {
		buf.timer.Stop()
	}
	b.inflight.Add(1)
	b.mu.Unlock()
	defer b.inflight.Done()

	messages := compactMessages(buf.messages, b.maxSize)
	if len(messages) == 0 {
		return
	}

	b.ingest(ctx, buf.sessionID, messages)
}

// FlushAll drains every buffer and waits for in-flight flushes, including
// ones started by concurrently firing timers. Called on shutdown.
func (b *CaptureBatcher) FlushAll(ctx context.Context) {
	b.mu.Lock()
	keys := make([]string, 0, len(b.buffers))
	for key := range b.buffers {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	for _, key := range keys {
		b.Flush(ctx, key)
	}
	b.inflight.Wait()
}

// Pending returns the number of buffered messages for a session.
func (b *CaptureBatcher) Pending(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[bufferKey(sessionID)]; ok {
		return len(buf.messages)
	}
	return 0
}

func bufferKey(sessionID string) string {
	if sessionID == "" {
		return globalBufferKey
	}
	return sessionID
}

// compactMessages collapses adjacent duplicates (same role and identical
// text), drops empty-text entries, and keeps only the last max messages.
func compactMessages(messages []Message, max int) []Message {
	compacted := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if n := len(compacted); n > 0 && compacted[n-1].Role == msg.Role && compacted[n-1].Text == msg.Text {
			continue
		}
		compacted = append(compacted, msg)
	}

	filtered := make([]Message, 0, len(compacted))
	for _, msg := range compacted {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		filtered = append(filtered, msg)
	}

	if len(filtered) > max {
		filtered = filtered[len(filtered)-max:]
	}
	return filtered
}
