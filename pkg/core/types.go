// Package core wires the memory subsystem together: ingestion, recall,
// context building, capture batching, reflection and the lifecycle
// coordinator that the host drives.
package core

import (
	"strings"
	"time"
)

// Tier identifies which storage tier a memory was served from.
type Tier string

const (
	// TierHot marks memories served from the vector store.
	TierHot Tier = "hot"

	// TierArchive marks memories served from the JSONL archive.
	TierArchive Tier = "archive"
)

// Memory represents a single memory known to the system.
//
// Text is a self-contained third-person statement such as "User prefers dark
// roast coffee". Identity is ID; two memories are the same memory exactly
// when their IDs match.
//
// Example:
//
//	memory := &core.Memory{
//	    ID:     "1234567890",
//	    UserID: "user_001",
//	    Text:   "User likes Python programming",
//	    Metadata: map[string]interface{}{
//	        "source": "conversation",
//	    },
//	}
type Memory struct {
	// ID is the unique identifier of the memory.
	ID string `json:"id"`

	// UserID identifies the user who owns this memory.
	UserID string `json:"user_id"`

	// RunID scopes the memory to a session. Nil means long-term.
	RunID *string `json:"run_id,omitempty"`

	// Text is the content of the memory.
	Text string `json:"text"`

	// Categories holds optional classification labels.
	Categories []string `json:"categories,omitempty"`

	// Metadata contains additional structured information about the memory.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the memory was first stored.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the memory was last written. Always >= CreatedAt.
	UpdatedAt time.Time `json:"updated_at"`

	// Score is the similarity score from search operations (0.0-1.0).
	// Populated only on search results.
	Score float64 `json:"score,omitempty"`

	// SourceTier records which tier served this memory on search results.
	SourceTier Tier `json:"source_tier,omitempty"`
}

// Scope selects which memory partitions a search or listing covers.
type Scope string

const (
	// ScopeSession covers only memories of the current session.
	ScopeSession Scope = "session"

	// ScopeLongTerm covers the user's long-term memories (and the archive
	// on deep searches).
	ScopeLongTerm Scope = "long-term"

	// ScopeAll covers long-term, session and archive partitions.
	ScopeAll Scope = "all"
)

// ParseScope normalizes a scope string, accepting underscore and hyphen
// spellings. Empty or unknown values fall back to ScopeAll.
func ParseScope(s string) Scope {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "session":
		return ScopeSession
	case "long-term", "long_term", "longterm":
		return ScopeLongTerm
	default:
		return ScopeAll
	}
}

// Message is one normalized conversation turn: a role and plain text.
type Message struct {
	// Role is the speaker: "user", "assistant" or "system".
	Role string `json:"role"`

	// Text is the flattened textual content of the turn.
	Text string `json:"text"`
}

// TurnMessage is a raw message as delivered by the host. Content is either a
// plain string or a list of typed blocks of which the text blocks matter.
type TurnMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ExtractText flattens host message content into plain text. String content
// passes through; block lists contribute their text blocks concatenated with
// newlines; anything else yields "".
func ExtractText(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var parts []string
		for _, raw := range v {
			block, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if blockType, _ := block["type"].(string); blockType != "" && blockType != "text" {
				continue
			}
			if text, ok := block["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// ExtractionEvent is the decision the ingest pipeline makes for one candidate
// fact.
type ExtractionEvent string

const (
	// EventAdd stores the candidate as a new memory.
	EventAdd ExtractionEvent = "ADD"

	// EventUpdate folds the candidate into an existing memory.
	EventUpdate ExtractionEvent = "UPDATE"

	// EventNoop drops the candidate as a duplicate.
	EventNoop ExtractionEvent = "NOOP"
)

// IngestResult reports what happened to one extracted fact.
type IngestResult struct {
	ID    string          `json:"id"`
	Text  string          `json:"text"`
	Event ExtractionEvent `json:"event"`
}
