// Package core wires the memory subsystem together: the tiered stores, the
// ingestion pipeline, recall with context assembly, capture batching and the
// reflection scheduler, all owned by a lifecycle Coordinator that the host
// drives through turn events.
package core

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tiermem/tiermem-go/pkg/archive"
	"github.com/tiermem/tiermem-go/pkg/embedder"
	"github.com/tiermem/tiermem-go/pkg/intelligence"
	"github.com/tiermem/tiermem-go/pkg/llm"
	"github.com/tiermem/tiermem-go/pkg/logging"
	"github.com/tiermem/tiermem-go/pkg/reflection"
	"github.com/tiermem/tiermem-go/pkg/storage"
	"github.com/tiermem/tiermem-go/pkg/writequeue"
)

// minRecallQueryRunes gates auto-recall: prompts shorter than this carry too
// little signal to embed.
const minRecallQueryRunes = 5

// capturedTurnLimit caps how many turns of a completed exchange enter the
// capture buffer.
const capturedTurnLimit = 10

// TurnContext carries per-turn identity from the host into the coordinator
// hooks.
type TurnContext struct {
	// SessionID identifies the conversation; empty means no session scoping.
	SessionID string

	// ModelID selects the token budget for context injection.
	ModelID string
}

// Notifier delivers proactive reflection messages out of band. The channel is
// host-specific; implementations must return an error when delivery did not
// reach the user so the action can be re-armed.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Coordinator owns every subsystem instance and drives the turn lifecycle.
//
// The host calls BeforeTurn and AfterTurn around each exchange; a background
// tick delivers due proactive actions and refreshes the status snapshot.
// All methods are safe for concurrent use.
//
// Example usage:
//
//	cfg, _ := core.LoadConfigFromEnv()
//	coord, _ := core.New(cfg)
//	if err := coord.Start(ctx); err != nil {
//	    return err
//	}
//	defer coord.Stop(ctx)
//
//	injected := coord.BeforeTurn(ctx, prompt, core.TurnContext{SessionID: sid, ModelID: model})
//	// ... run the turn ...
//	coord.AfterTurn(ctx, messages, true, core.TurnContext{SessionID: sid})
type Coordinator struct {
	cfg *Config

	store     storage.Store
	embed     embedder.Provider
	llm       llm.Provider
	queue     *writequeue.Queue
	archive   *archive.Archive
	ingestor  *Ingestor
	recaller  *Recaller
	batcher   *CaptureBatcher
	builder   *ContextBuilder
	reflector *reflection.Scheduler
	notifier  Notifier

	now    func() time.Time
	logger *slog.Logger

	mu         sync.Mutex
	sessionID  string
	lastRecall []string
	started    bool
	stopped    bool

	tickStop chan struct{}
	tickDone chan struct{}
}

// New creates a Coordinator from config.
//
// Collaborators not injected through options are constructed from the config.
// Providers degrade rather than fail: a missing LLM key yields raw-text
// ingestion and no reflection, a missing embedder key disables hot-tier
// search and ingestion per call.
func New(cfg *Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := applyOptions(opts)

	logger := options.logger
	if logger == nil {
		logger = logging.New(cfg.LogLevel, os.Stderr)
	}

	store := options.store
	if store == nil {
		var err error
		if store, err = initStore(cfg); err != nil {
			return nil, err
		}
	}

	llmProvider := options.llm
	if !options.llmSet {
		var err error
		if llmProvider, err = initLLM(context.Background(), cfg.LLM); err != nil {
			return nil, err
		}
	}

	embedProvider := options.embed
	if !options.embedSet {
		var err error
		if embedProvider, err = initEmbedder(context.Background(), cfg.Embedder); err != nil {
			return nil, err
		}
	}

	queue := writequeue.New(
		writequeue.WithDelay(time.Duration(cfg.WriteQueueDelayMS)*time.Millisecond),
		writequeue.WithLogger(logger),
	)
	arch := archive.New(cfg.DataDir)

	recaller, err := NewRecaller(store, embedProvider, arch, cfg, logger)
	if err != nil {
		return nil, err
	}

	var extractor *intelligence.FactExtractor
	if llmProvider != nil {
		extractor = intelligence.NewFactExtractor(llmProvider)
	}

	ingestor, err := NewIngestor(store, embedProvider, extractor, queue, arch, cfg, recaller.InvalidateCache, logger)
	if err != nil {
		return nil, err
	}

	reflector := reflection.New(&reflection.Config{
		DataDir:           cfg.DataDir,
		MaxPendingActions: cfg.MaxPendingActions,
		ActionTTL:         time.Duration(cfg.ActionTTLMS) * time.Millisecond,
	}, llmProvider,
		reflection.WithLogger(logger),
		reflection.WithClock(options.now),
	)

	c := &Coordinator{
		cfg:       cfg,
		store:     store,
		embed:     embedProvider,
		llm:       llmProvider,
		queue:     queue,
		archive:   arch,
		ingestor:  ingestor,
		recaller:  recaller,
		builder:   NewContextBuilderFromConfig(cfg),
		reflector: reflector,
		notifier:  options.notifier,
		now:       options.now,
		logger:    logger,
	}
	c.batcher = NewCaptureBatcher(cfg, c.ingestBatch, logger)
	return c, nil
}

// Start brings the coordinator online: ensures the data directory, runs one
// pruning pass, writes the initial status snapshot, and arms the background
// tick. Calling Start again is a no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(c.cfg.DataDir, 0755); err != nil {
		c.mu.Unlock()
		return NewMemoryError("Start", err)
	}
	c.started = true
	c.tickStop = make(chan struct{})
	c.tickDone = make(chan struct{})
	c.mu.Unlock()

	if pruned, err := c.ingestor.Prune(ctx, c.cfg.UserID); err != nil {
		c.logger.Warn("startup prune failed", "error", err)
	} else if pruned.Archived > 0 {
		c.logger.Info("startup prune moved overflow to archive",
			"archived", pruned.Archived, "deleted", pruned.Deleted, "failed", pruned.Failed)
	}

	c.writeStatus(ctx)
	go c.run()

	c.logger.Info("memory coordinator started", "data_dir", c.cfg.DataDir, "user_id", c.cfg.UserID)
	return nil
}

// Stop shuts the coordinator down: stops the tick, flushes pending capture
// buffers, drains the write queue, writes a final status snapshot and closes
// the providers. Calling Stop again is a no-op; Stop without Start still
// releases the providers.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	tickStop, tickDone := c.tickStop, c.tickDone
	c.mu.Unlock()

	if tickStop != nil {
		close(tickStop)
		<-tickDone
	}

	c.batcher.FlushAll(ctx)
	c.queue.Stop()

	if started {
		c.writeStatus(ctx)
	}

	var errs []error
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.embed != nil {
		if err := c.embed.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.Info("memory coordinator stopped")
	if len(errs) > 0 {
		return NewMemoryError("Stop", errs[0])
	}
	return nil
}

// BeforeTurn assembles the system-context injection for the upcoming turn.
//
// With auto-recall enabled and a prompt of at least five runes, the current
// session is updated from ctx, a scope-all recall runs, and the results are
// built into a token-bounded block for tc.ModelID. A due proactive action is
// appended as a proactive-insight block. Recall failures are swallowed with
// a warning; the returned string is empty when nothing applies.
func (c *Coordinator) BeforeTurn(ctx context.Context, prompt string, tc TurnContext) string {
	if !c.cfg.AutoRecall {
		return ""
	}
	if len([]rune(strings.TrimSpace(prompt))) < minRecallQueryRunes {
		return ""
	}

	c.mu.Lock()
	c.sessionID = tc.SessionID
	c.mu.Unlock()

	memories, err := c.recaller.Search(ctx, SearchRequest{
		Query:     prompt,
		Scope:     ScopeAll,
		SessionID: tc.SessionID,
	})
	if err != nil {
		c.logger.Warn("auto recall failed", "error", err)
		memories = nil
	}
	c.rememberRecall(memories)

	text := c.builder.Build(memories, BuildOptions{ModelID: tc.ModelID}).Text

	if action := c.reflector.Poll(); action != nil {
		block := "<proactive-insight>\n系统提示: " + action.Message + "\n</proactive-insight>"
		if text == "" {
			text = block
		} else {
			text += "\n" + block
		}
		c.logger.Debug("proactive insight injected", "id", action.ID)
	}
	return text
}

// AfterTurn observes a completed exchange for capture.
//
// With auto-capture enabled and a successful turn, user and assistant
// messages are flattened to plain text, empty ones dropped, and the last ten
// scheduled onto the session's capture buffer. The buffer flushes to
// ingestion after the debounce window, independent of the turn's lifetime.
func (c *Coordinator) AfterTurn(ctx context.Context, messages []TurnMessage, success bool, tc TurnContext) {
	if !c.cfg.AutoCapture || !success || len(messages) == 0 {
		return
	}

	captured := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		text := strings.TrimSpace(ExtractText(msg.Content))
		if text == "" {
			continue
		}
		captured = append(captured, Message{Role: msg.Role, Text: text})
	}
	if len(captured) == 0 {
		return
	}
	if len(captured) > capturedTurnLimit {
		captured = captured[len(captured)-capturedTurnLimit:]
	}

	c.batcher.Schedule(tc.SessionID, captured)
}

// Flush forces every pending capture buffer through ingestion and waits for
// completion. Exposed for hosts that want deterministic capture, e.g. tests
// and one-shot CLI commands.
func (c *Coordinator) Flush(ctx context.Context) {
	c.batcher.FlushAll(ctx)
}

// Prune ages the configured user's hot-tier overflow into the archive.
func (c *Coordinator) Prune(ctx context.Context) (*PruneResult, error) {
	return c.ingestor.Prune(ctx, c.cfg.UserID)
}

// PendingActions returns a snapshot of the reflection scheduler's queue,
// fired entries included.
func (c *Coordinator) PendingActions() []reflection.PendingAction {
	return c.reflector.Pending()
}

// ingestBatch is the capture flush sink. Extracted facts persist long-term:
// a durable fact outlives the session that produced it. After a successful
// non-empty extraction, the batch and the memories recalled for the last
// turn feed the reflection scheduler.
func (c *Coordinator) ingestBatch(ctx context.Context, sessionID string, messages []Message) {
	results, err := c.ingestor.Ingest(ctx, messages, IngestOptions{UserID: c.cfg.UserID})
	if err != nil {
		c.logger.Warn("capture ingest failed", "session_id", sessionID, "error", err)
		return
	}
	if len(results) == 0 {
		c.logger.Debug("capture batch yielded no facts", "session_id", sessionID)
		return
	}
	c.logger.Debug("capture batch ingested", "session_id", sessionID, "facts", len(results))

	c.mu.Lock()
	recalled := append([]string(nil), c.lastRecall...)
	c.mu.Unlock()

	observed := make([]reflection.Message, len(messages))
	for i, msg := range messages {
		observed[i] = reflection.Message{Role: msg.Role, Text: msg.Text}
	}
	if _, err := c.reflector.Observe(ctx, observed, recalled); err != nil {
		c.logger.Warn("reflection observe failed", "error", err)
	}
}

// rememberRecall keeps the texts of the latest recall for reflection.
func (c *Coordinator) rememberRecall(memories []*Memory) {
	texts := make([]string, 0, len(memories))
	for _, m := range memories {
		texts = append(texts, m.Text)
	}
	c.mu.Lock()
	c.lastRecall = texts
	c.mu.Unlock()
}

// currentSession returns the session id recorded by the latest BeforeTurn.
func (c *Coordinator) currentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// run is the background loop: each tick delivers a due proactive action when
// a notifier is wired and refreshes the status snapshot.
func (c *Coordinator) run() {
	defer close(c.tickDone)

	interval := time.Duration(c.cfg.ReflectionTickMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Duration(DefaultReflectionTickMS) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.tickStop:
			return
		case <-ticker.C:
			c.tick(context.Background())
		}
	}
}

// tick runs one background pass. Without a notifier, due actions stay queued
// for next-turn context injection and only the status snapshot is refreshed.
func (c *Coordinator) tick(ctx context.Context) {
	if c.notifier != nil {
		if action := c.reflector.Poll(); action != nil {
			if err := c.notifier.Notify(ctx, action.Message); err != nil {
				c.logger.Warn("proactive delivery failed, re-arming", "id", action.ID, "error", err)
				c.reflector.MarkFailed(action.ID)
			} else {
				c.logger.Debug("proactive message delivered", "id", action.ID)
			}
		}
	}
	c.writeStatus(ctx)
}
