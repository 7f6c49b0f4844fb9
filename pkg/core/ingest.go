package core

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/tiermem/tiermem-go/pkg/archive"
	"github.com/tiermem/tiermem-go/pkg/embedder"
	"github.com/tiermem/tiermem-go/pkg/intelligence"
	"github.com/tiermem/tiermem-go/pkg/storage"
	"github.com/tiermem/tiermem-go/pkg/writequeue"
)

// Neighbour search bounds for the merge policy.
const (
	neighborLimit     = 10
	neighborThreshold = 0.5
)

// IngestOptions scopes an ingestion batch.
type IngestOptions struct {
	// UserID owns the resulting memories. Falls back to the configured user.
	UserID string

	// RunID scopes the memories to a session. Nil stores them long-term.
	RunID *string
}

// PruneResult reports one pruning pass over a user's hot tier.
type PruneResult struct {
	Archived int
	Deleted  int
	Failed   int
}

// Ingestor runs the fact pipeline and owns every hot-tier mutation.
//
// Each batch is extracted into candidate facts, each candidate is embedded
// and classified against its nearest neighbours, and the resulting writes
// run serially through the write queue. Every acknowledged mutation
// invalidates the recall cache synchronously.
type Ingestor struct {
	store     storage.Store
	embed     embedder.Provider
	extractor *intelligence.FactExtractor
	policy    *intelligence.MergePolicy
	queue     *writequeue.Queue
	archive   *archive.Archive
	node      *snowflake.Node
	userID    string
	maxCount  int

	// onMutation runs after each acknowledged hot-tier write.
	onMutation func()

	logger *slog.Logger
}

// NewIngestor creates the ingestion pipeline. The extractor may be nil: the
// pipeline then runs in raw mode where each message text becomes a literal
// candidate fact, which keeps direct stores and legacy imports working
// without an LLM.
func NewIngestor(store storage.Store, embed embedder.Provider, extractor *intelligence.FactExtractor, queue *writequeue.Queue, arch *archive.Archive, cfg *Config, onMutation func(), logger *slog.Logger) (*Ingestor, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewMemoryError("NewIngestor", err)
	}
	if onMutation == nil {
		onMutation = func() {}
	}

	return &Ingestor{
		store:      store,
		embed:      embed,
		extractor:  extractor,
		policy:     intelligence.NewMergePolicy(),
		queue:      queue,
		archive:    arch,
		node:       node,
		userID:     cfg.UserID,
		maxCount:   cfg.MaxMemoryCount,
		onMutation: onMutation,
		logger:     logger,
	}, nil
}

// Ingest extracts facts from a message batch and applies them to the hot
// tier.
//
// Per candidate the merge policy decides between ADD (new record), UPDATE
// (replace an existing record's text and vector, keeping id and created_at)
// and NOOP (duplicate, dropped). An unavailable embedder skips the rest of
// the batch with a warning; store failures abort the batch, leaving already
// committed writes in place. The returned slice reports what happened to
// each processed candidate.
func (ing *Ingestor) Ingest(ctx context.Context, messages []Message, opts IngestOptions) ([]*IngestResult, error) {
	if opts.UserID == "" {
		opts.UserID = ing.userID
	}

	if ing.embed == nil {
		ing.logger.Warn("no embedder configured, skipping ingestion")
		return []*IngestResult{}, nil
	}

	candidates, err := ing.candidates(ctx, messages)
	if err != nil {
		return nil, NewMemoryError("Ingest", err)
	}

	return ing.apply(ctx, candidates, opts)
}

// IngestFacts applies already-final fact statements to the hot tier,
// bypassing extraction. Each fact still runs through the embed, neighbour
// search and merge policy steps, so duplicates collapse exactly as they do
// on the conversational path. Blank facts are dropped.
func (ing *Ingestor) IngestFacts(ctx context.Context, facts []string, opts IngestOptions) ([]*IngestResult, error) {
	if opts.UserID == "" {
		opts.UserID = ing.userID
	}

	if ing.embed == nil {
		ing.logger.Warn("no embedder configured, skipping ingestion")
		return []*IngestResult{}, nil
	}

	candidates := make([]string, 0, len(facts))
	for _, fact := range facts {
		if text := strings.TrimSpace(fact); text != "" {
			candidates = append(candidates, text)
		}
	}

	return ing.apply(ctx, candidates, opts)
}

// apply runs the embed, classify and commit steps for each candidate fact.
func (ing *Ingestor) apply(ctx context.Context, candidates []string, opts IngestOptions) ([]*IngestResult, error) {
	results := make([]*IngestResult, 0, len(candidates))
	for _, candidate := range candidates {
		vector, err := ing.embed.Embed(ctx, candidate)
		if err != nil {
			ing.logger.Warn("embedding unavailable, skipping rest of batch", "error", err)
			break
		}

		neighbors, err := ing.store.Search(ctx, vector, &storage.SearchOptions{
			UserID:    opts.UserID,
			RunID:     opts.RunID,
			Limit:     neighborLimit,
			Threshold: neighborThreshold,
		})
		if err != nil {
			return results, NewMemoryError("Ingest", err)
		}

		decision := ing.policy.Classify(candidate, toNeighbors(neighbors))
		switch decision.Event {
		case intelligence.EventNoop:
			results = append(results, &IngestResult{ID: decision.TargetID, Text: candidate, Event: EventNoop})

		case intelligence.EventUpdate:
			existing, err := ing.store.Get(ctx, decision.TargetID)
			if err != nil {
				return results, NewMemoryError("Ingest", err)
			}
			existing.Text = candidate
			existing.Vector = vector
			if err := ing.commit(ctx, existing); err != nil {
				return results, err
			}
			results = append(results, &IngestResult{ID: existing.ID, Text: candidate, Event: EventUpdate})

		default:
			now := time.Now().UTC()
			rec := &storage.Record{
				ID:        ing.node.Generate().String(),
				UserID:    opts.UserID,
				RunID:     opts.RunID,
				Text:      candidate,
				Vector:    vector,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := ing.commit(ctx, rec); err != nil {
				return results, err
			}
			results = append(results, &IngestResult{ID: rec.ID, Text: candidate, Event: EventAdd})
		}
	}

	return results, nil
}

// Delete removes one memory through the write queue. Deleting an unknown id
// succeeds.
func (ing *Ingestor) Delete(ctx context.Context, id string) error {
	fut := ing.queue.Enqueue(func(qctx context.Context) error {
		return ing.store.Delete(qctx, id)
	})
	if err := fut.Wait(ctx); err != nil {
		return NewMemoryError("Delete", err)
	}
	ing.onMutation()
	return nil
}

// Prune ages the oldest hot-tier overflow into the archive.
//
// When the user's record count exceeds max_memory_count, the overflow slice
// (oldest created_at first) is appended to the archive in one write; only
// after that write is acknowledged are the hot records deleted one by one.
// An archive failure leaves the hot tier untouched. Per-item delete failures
// are counted, logged and skipped.
func (ing *Ingestor) Prune(ctx context.Context, userID string) (*PruneResult, error) {
	if userID == "" {
		userID = ing.userID
	}
	result := &PruneResult{}

	records, err := ing.store.List(ctx, &storage.ListOptions{UserID: userID, AllRuns: true})
	if err != nil {
		return result, NewMemoryError("Prune", err)
	}

	overflow := len(records) - ing.maxCount
	if overflow <= 0 {
		return result, nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	oldest := records[:overflow]

	entries := make([]*archive.Entry, len(oldest))
	for i, rec := range oldest {
		entries[i] = toArchiveEntry(rec)
	}

	fut := ing.queue.Enqueue(func(qctx context.Context) error {
		return ing.archive.Append(qctx, entries)
	})
	if err := fut.Wait(ctx); err != nil {
		return result, NewMemoryError("Prune", err)
	}
	result.Archived = len(entries)

	for _, rec := range oldest {
		id := rec.ID
		fut := ing.queue.Enqueue(func(qctx context.Context) error {
			return ing.store.Delete(qctx, id)
		})
		if err := fut.Wait(ctx); err != nil {
			result.Failed++
			ing.logger.Warn("prune delete failed", "id", id, "error", err)
			continue
		}
		result.Deleted++
		ing.onMutation()
	}

	return result, nil
}

// candidates turns a message batch into candidate facts: LLM extraction when
// an extractor is wired, raw message texts otherwise.
func (ing *Ingestor) candidates(ctx context.Context, messages []Message) ([]string, error) {
	if ing.extractor != nil {
		return ing.extractor.ExtractFacts(ctx, toIntelligenceMessages(messages))
	}

	out := make([]string, 0, len(messages))
	for _, msg := range messages {
		if text := strings.TrimSpace(msg.Text); text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

// commit runs one upsert through the write queue and invalidates the recall
// cache once the write is acknowledged.
func (ing *Ingestor) commit(ctx context.Context, rec *storage.Record) error {
	fut := ing.queue.Enqueue(func(qctx context.Context) error {
		return ing.store.Upsert(qctx, rec)
	})
	if err := fut.Wait(ctx); err != nil {
		return NewMemoryError("Ingest", err)
	}
	ing.onMutation()
	return nil
}
