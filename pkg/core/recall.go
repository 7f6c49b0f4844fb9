package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/tiermem/tiermem-go/pkg/archive"
	"github.com/tiermem/tiermem-go/pkg/embedder"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// SearchRequest describes one recall request.
type SearchRequest struct {
	// Query is the free-text search query.
	Query string

	// UserID scopes the search. Falls back to the configured user when empty.
	UserID string

	// Scope selects which tiers contribute: session, long-term, or all.
	Scope Scope

	// Limit is the per-source result cap. Falls back to the configured top_k.
	Limit int

	// Deep additionally scans the cold archive.
	Deep bool

	// SessionID is the current session for session-scoped sub-searches.
	SessionID string
}

// Recaller answers memory searches across the hot tier and the archive.
//
// Results are memoized per request fingerprint; any hot-tier mutation must
// invalidate the memo through InvalidateCache. Query embeddings are cached
// separately so repeat queries skip the embedding call even after a result
// cache flush.
type Recaller struct {
	store     storage.Store
	embed     embedder.Provider
	archive   *archive.Archive
	results   *searchCache
	vectors   *ristretto.Cache
	userID    string
	topK      int
	threshold float64
	logger    *slog.Logger
}

// NewRecaller creates a recaller over the given tiers. The embedding
// provider may be nil; hot-tier sub-searches then contribute nothing and
// only deep archive scans return results.
func NewRecaller(store storage.Store, embed embedder.Provider, arch *archive.Archive, cfg *Config, logger *slog.Logger) (*Recaller, error) {
	vectors, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 4096,
		MaxCost:     512,
		BufferItems: 64,
	})
	if err != nil {
		return nil, NewMemoryError("NewRecaller", err)
	}

	return &Recaller{
		store:     store,
		embed:     embed,
		archive:   arch,
		results:   newSearchCache(time.Duration(cfg.SearchCacheTTLMS)*time.Millisecond, cfg.SearchCacheMaxEntries),
		vectors:   vectors,
		userID:    cfg.UserID,
		topK:      cfg.TopK,
		threshold: cfg.SearchThreshold,
		logger:    logger,
	}, nil
}

// Search runs a scoped memory search.
//
// Up to three independent sub-searches run concurrently: the user's
// long-term memories, the current session's memories, and (for deep
// requests) the cold archive. Per-source order is preserved in the merged
// result and duplicates are dropped by id, first occurrence wins. A failing
// sub-search contributes an empty list instead of failing the whole call.
//
// Non-empty results are cached by request fingerprint until the next
// hot-tier mutation or TTL expiry.
func (r *Recaller) Search(ctx context.Context, req SearchRequest) ([]*Memory, error) {
	if req.UserID == "" {
		req.UserID = r.userID
	}
	if req.Limit <= 0 {
		req.Limit = r.topK
	}
	if req.Scope == "" {
		req.Scope = ScopeAll
	}

	key := searchFingerprint(req.Query, req.Limit, req.UserID, req.Scope, req.Deep, req.SessionID)
	if cached, ok := r.results.get(key); ok {
		return cached, nil
	}

	vector := r.queryVector(ctx, req.Query)

	var (
		wg       sync.WaitGroup
		longTerm []*Memory
		session  []*Memory
		archived []*Memory
	)

	if vector != nil && (req.Scope == ScopeLongTerm || req.Scope == ScopeAll) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			longTerm = r.searchHot(ctx, vector, req, nil)
		}()
	}
	if vector != nil && (req.Scope == ScopeSession || req.Scope == ScopeAll) && req.SessionID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session = r.searchHot(ctx, vector, req, &req.SessionID)
		}()
	}
	if req.Deep && (req.Scope == ScopeLongTerm || req.Scope == ScopeAll) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			archived = r.searchArchive(ctx, req)
		}()
	}
	wg.Wait()

	var merged []*Memory
	switch req.Scope {
	case ScopeSession:
		merged = dedupeByID(session)
	case ScopeLongTerm:
		merged = dedupeByID(append(longTerm, archived...))
	default:
		merged = dedupeByID(append(append(longTerm, session...), archived...))
	}

	r.results.put(key, merged)
	return merged, nil
}

// InvalidateCache drops every memoized result. Called synchronously after
// each acknowledged hot-tier mutation.
func (r *Recaller) InvalidateCache() {
	r.results.invalidateAll()
}

// queryVector embeds the query, memoizing vectors by normalized query text.
// Returns nil when no embedder is configured or the embedding call fails;
// the caller then skips vector sub-searches.
func (r *Recaller) queryVector(ctx context.Context, query string) []float64 {
	if r.embed == nil {
		return nil
	}

	key := normalizeQuery(query)
	if cached, ok := r.vectors.Get(key); ok {
		if vector, ok := cached.([]float64); ok {
			return vector
		}
	}

	vector, err := r.embed.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, skipping hot-tier search", "error", err)
		return nil
	}

	r.vectors.Set(key, vector, 1)
	return vector
}

func (r *Recaller) searchHot(ctx context.Context, vector []float64, req SearchRequest, runID *string) []*Memory {
	records, err := r.store.Search(ctx, vector, &storage.SearchOptions{
		UserID:    req.UserID,
		RunID:     runID,
		Limit:     req.Limit,
		Threshold: r.threshold,
	})
	if err != nil {
		r.logger.Warn("hot-tier search failed", "error", err)
		return nil
	}
	return fromStorageRecords(records)
}

func (r *Recaller) searchArchive(ctx context.Context, req SearchRequest) []*Memory {
	entries, err := r.archive.Search(ctx, req.Query, req.UserID, req.Limit)
	if err != nil {
		r.logger.Warn("archive search failed", "error", err)
		return nil
	}
	return fromArchiveEntries(entries)
}

// dedupeByID drops memories whose id already appeared earlier in the slice.
func dedupeByID(memories []*Memory) []*Memory {
	seen := make(map[string]struct{}, len(memories))
	out := make([]*Memory, 0, len(memories))
	for _, m := range memories {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
