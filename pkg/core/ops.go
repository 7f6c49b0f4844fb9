package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tiermem/tiermem-go/pkg/storage"
)

// Operation bounds for the host-facing surface.
const (
	forgetLimitDefault = 10
	forgetLimitMax     = 50
	listLimitDefault   = 20
)

// MemorySearchInput describes a memory_search call.
type MemorySearchInput struct {
	// Query is the free-text search query. Required.
	Query string `json:"query"`

	// Limit caps the per-source result count. Zero uses the configured top_k.
	Limit int `json:"limit,omitempty"`

	// UserID scopes the search. Empty uses the configured user.
	UserID string `json:"user_id,omitempty"`

	// Scope is "session", "long-term" or "all" (the default).
	Scope string `json:"scope,omitempty"`

	// Deep additionally scans the cold archive.
	Deep bool `json:"deep,omitempty"`
}

// SearchHit is one structured memory_search result row.
type SearchHit struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score,omitempty"`
	SourceTier string  `json:"source_tier"`
}

// MemorySearchOutput is the memory_search response: a human-readable preview
// plus the structured rows it was rendered from.
type MemorySearchOutput struct {
	Preview string      `json:"preview"`
	Results []SearchHit `json:"results"`
}

// MemorySearch runs an explicit memory search on behalf of the host.
//
// Unlike BeforeTurn recall this is never gated on auto_recall and has no
// minimum query length; an empty query is the only invalid input.
//
// Example:
//
//	out, err := coordinator.MemorySearch(ctx, core.MemorySearchInput{
//	    Query: "coffee preferences",
//	    Deep:  true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Preview)
func (c *Coordinator) MemorySearch(ctx context.Context, in MemorySearchInput) (*MemorySearchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, NewMemoryError("MemorySearch", fmt.Errorf("%w: query is required", ErrInvalidInput))
	}

	memories, err := c.recaller.Search(ctx, SearchRequest{
		Query:     in.Query,
		UserID:    in.UserID,
		Scope:     ParseScope(in.Scope),
		Limit:     in.Limit,
		Deep:      in.Deep,
		SessionID: c.currentSession(),
	})
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(memories))
	for i, m := range memories {
		hits[i] = SearchHit{
			ID:         m.ID,
			Text:       m.Text,
			Score:      m.Score,
			SourceTier: string(m.SourceTier),
		}
	}

	return &MemorySearchOutput{Preview: searchPreview(hits), Results: hits}, nil
}

// MemoryStoreInput describes a memory_store call.
type MemoryStoreInput struct {
	// Text is the statement to remember, stored verbatim. Required.
	Text string `json:"text"`

	// UserID owns the memory. Empty uses the configured user.
	UserID string `json:"user_id,omitempty"`

	// LongTerm stores the memory without session scope. Nil defaults to
	// true; false scopes it to the current session.
	LongTerm *bool `json:"long_term,omitempty"`
}

// MemoryStoreOutput reports what the merge pipeline did with the text.
type MemoryStoreOutput struct {
	// StoredCount is the number of resulting writes (ADD or UPDATE).
	StoredCount int `json:"stored_count"`

	// Results holds the per-candidate pipeline decisions.
	Results []*IngestResult `json:"results"`
}

// MemoryStore stores a statement directly, skipping fact extraction.
//
// The text still runs through the embed and dedup/merge steps, so storing a
// near-duplicate of an existing memory updates it instead of adding a second
// copy. A NOOP decision leaves StoredCount at zero.
func (c *Coordinator) MemoryStore(ctx context.Context, in MemoryStoreInput) (*MemoryStoreOutput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, NewMemoryError("MemoryStore", fmt.Errorf("%w: text is required", ErrInvalidInput))
	}

	opts := IngestOptions{UserID: in.UserID}
	if in.LongTerm != nil && !*in.LongTerm {
		if sid := c.currentSession(); sid != "" {
			opts.RunID = &sid
		}
	}

	results, err := c.ingestor.IngestFacts(ctx, []string{text}, opts)
	if err != nil {
		return nil, err
	}

	stored := 0
	for _, r := range results {
		if r.Event != EventNoop {
			stored++
		}
	}

	return &MemoryStoreOutput{StoredCount: stored, Results: results}, nil
}

// MemoryGet fetches one memory by id.
//
// Returns ErrNotFound both when the id is unknown and when the stored text
// is empty, so callers never render a blank memory.
func (c *Coordinator) MemoryGet(ctx context.Context, id string) (*Memory, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewMemoryError("MemoryGet", fmt.Errorf("%w: id is required", ErrInvalidInput))
	}

	rec, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewMemoryError("MemoryGet", ErrNotFound)
		}
		return nil, NewMemoryError("MemoryGet", err)
	}
	if strings.TrimSpace(rec.Text) == "" {
		return nil, NewMemoryError("MemoryGet", ErrNotFound)
	}

	return fromStorageRecord(rec), nil
}

// MemoryListInput describes a memory_list call.
type MemoryListInput struct {
	// UserID scopes the listing. Empty uses the configured user.
	UserID string `json:"user_id,omitempty"`

	// Scope is "session", "long-term" or "all" (the default).
	Scope string `json:"scope,omitempty"`

	// Limit caps the listing. Zero lists up to 20 memories.
	Limit int `json:"limit,omitempty"`
}

// MemoryList lists hot-tier memories newest first. Archived memories never
// appear here; they are reachable only through deep search.
func (c *Coordinator) MemoryList(ctx context.Context, in MemoryListInput) ([]*Memory, error) {
	userID := in.UserID
	if userID == "" {
		userID = c.cfg.UserID
	}
	limit := in.Limit
	if limit <= 0 {
		limit = listLimitDefault
	}

	opts := &storage.ListOptions{UserID: userID, Limit: limit}
	switch ParseScope(in.Scope) {
	case ScopeSession:
		sid := c.currentSession()
		if sid == "" {
			return []*Memory{}, nil
		}
		opts.RunID = &sid
	case ScopeLongTerm:
		// RunID stays nil: long-term rows only.
	default:
		opts.AllRuns = true
	}

	records, err := c.store.List(ctx, opts)
	if err != nil {
		return nil, NewMemoryError("MemoryList", err)
	}
	return fromStorageRecords(records), nil
}

// MemoryForgetInput describes a memory_forget call. Exactly one of ID and
// Query must be set.
type MemoryForgetInput struct {
	// ID deletes one specific memory.
	ID string `json:"id,omitempty"`

	// Query searches for deletion candidates instead.
	Query string `json:"query,omitempty"`

	// UserID scopes the candidate search. Empty uses the configured user.
	UserID string `json:"user_id,omitempty"`

	// Scope is "session", "long-term" or "all" (the default).
	Scope string `json:"scope,omitempty"`

	// Limit caps the candidate search, clamped to [1, 50]. Zero uses 10.
	Limit int `json:"limit,omitempty"`

	// DeleteAll deletes every candidate instead of asking for
	// disambiguation.
	DeleteAll bool `json:"delete_all,omitempty"`
}

// MemoryForgetOutput reports a forget outcome: memories actually deleted,
// ids whose delete failed, or the candidate list when the request was
// ambiguous.
type MemoryForgetOutput struct {
	Deleted    []*Memory `json:"deleted,omitempty"`
	FailedIDs  []string  `json:"failed_ids,omitempty"`
	Candidates []*Memory `json:"candidates,omitempty"`
}

// MemoryForget deletes memories by id or by query.
//
// With an id the delete is unconditional and idempotent. With a query the
// recalled results become deletion candidates; candidates whose text equals
// the query (case-insensitive) take precedence over fuzzy matches. A single
// candidate is deleted outright, multiple candidates are returned for
// disambiguation unless DeleteAll is set, and DeleteAll deletes everything
// it can while collecting per-id failures.
//
// Only hot-tier memories can be forgotten. The archive is append-only, so
// candidate recall never scans it.
func (c *Coordinator) MemoryForget(ctx context.Context, in MemoryForgetInput) (*MemoryForgetOutput, error) {
	if id := strings.TrimSpace(in.ID); id != "" {
		return c.forgetByID(ctx, id)
	}

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, NewMemoryError("MemoryForget", fmt.Errorf("%w: id or query is required", ErrInvalidInput))
	}

	limit := in.Limit
	if limit <= 0 {
		limit = forgetLimitDefault
	}
	if limit > forgetLimitMax {
		limit = forgetLimitMax
	}

	candidates, err := c.recaller.Search(ctx, SearchRequest{
		Query:     query,
		UserID:    in.UserID,
		Scope:     ParseScope(in.Scope),
		Limit:     limit,
		SessionID: c.currentSession(),
	})
	if err != nil {
		return nil, err
	}

	var exact []*Memory
	for _, m := range candidates {
		if strings.EqualFold(strings.TrimSpace(m.Text), query) {
			exact = append(exact, m)
		}
	}
	if len(exact) > 0 {
		candidates = exact
	}

	switch {
	case len(candidates) == 0:
		return &MemoryForgetOutput{}, nil

	case in.DeleteAll:
		out := &MemoryForgetOutput{}
		for _, m := range candidates {
			if err := c.ingestor.Delete(ctx, m.ID); err != nil {
				c.logger.Warn("forget delete failed", "id", m.ID, "error", err)
				out.FailedIDs = append(out.FailedIDs, m.ID)
				continue
			}
			out.Deleted = append(out.Deleted, m)
		}
		return out, nil

	case len(candidates) == 1:
		if err := c.ingestor.Delete(ctx, candidates[0].ID); err != nil {
			return nil, err
		}
		return &MemoryForgetOutput{Deleted: candidates[:1]}, nil

	default:
		return &MemoryForgetOutput{Candidates: candidates}, nil
	}
}

// forgetByID deletes one memory unconditionally. The lookup only decorates
// the response with the memory's text; an unknown id still succeeds.
func (c *Coordinator) forgetByID(ctx context.Context, id string) (*MemoryForgetOutput, error) {
	deleted := &Memory{ID: id}
	if rec, err := c.store.Get(ctx, id); err == nil {
		deleted = fromStorageRecord(rec)
	}

	if err := c.ingestor.Delete(ctx, id); err != nil {
		return nil, err
	}
	return &MemoryForgetOutput{Deleted: []*Memory{deleted}}, nil
}

// MemoryStats returns the current stats snapshot. It is the memory_stats
// operation; FormatStats renders the snapshot for text surfaces.
func (c *Coordinator) MemoryStats(ctx context.Context) (*Stats, error) {
	return c.Stats(ctx)
}

// searchPreview renders search hits as a numbered text block.
func searchPreview(hits []SearchHit) string {
	if len(hits) == 0 {
		return "No memories found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d memories:\n", len(hits))
	for i, hit := range hits {
		if hit.Score > 0 {
			fmt.Fprintf(&sb, "%d. [%s] %s (score %.2f)\n", i+1, hit.SourceTier, hit.Text, hit.Score)
		} else {
			fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, hit.SourceTier, hit.Text)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatStats renders a stats snapshot as a human-readable block.
func FormatStats(s *Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Memories:    %d\n", s.TotalMemories)
	fmt.Fprintf(&sb, "Hot store:   %s\n", formatBytes(s.HotSizeBytes))
	fmt.Fprintf(&sb, "Archive:     %s\n", formatBytes(s.ArchiveSizeBytes))
	fmt.Fprintf(&sb, "Write queue: %d written, %d peak depth, %d pending\n",
		s.WriteQueue.TotalWrites, s.WriteQueue.QueueMax, s.WriteQueue.CurrentQueue)
	fmt.Fprintf(&sb, "Updated:     %s", s.LastUpdated.Format("2006-01-02 15:04:05 UTC"))
	return sb.String()
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
