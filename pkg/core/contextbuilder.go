package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Token accounting constants for context injection.
const (
	// wrapperOverheadTokens is charged once for the wrapper markers.
	wrapperOverheadTokens = 50

	// perMemoryOverheadTokens is charged per injected memory for its list
	// numbering and separators.
	perMemoryOverheadTokens = 10

	// truncationReserveTokens is held back when a single oversized memory
	// is cut down to fit the budget.
	truncationReserveTokens = 70

	// budgetRatio is the share of the model context window granted to
	// injected memories, clamped to [budgetMin, budgetMax].
	budgetRatio = 0.15
	budgetMin   = 200
	budgetMax   = 4000
)

// modelContextWindows maps model id prefixes to context window sizes. The
// longest matching prefix wins; unknown models fall back to 8192.
var modelContextWindows = []struct {
	prefix string
	size   int
}{
	{"gpt-4-32k", 32768},
	{"gpt-4-turbo", 128000},
	{"gpt-4o", 128000},
	{"gpt-4", 8192},
	{"claude-3", 200000},
	{"deepseek-chat", 64000},
	{"deepseek-coder", 16000},
	{"moonshot-v1", 32000},
	{"qwen-max", 32000},
	{"qwen-plus", 32000},
	{"abab6.5s-chat", 32000},
}

// BuildOptions parameterizes one context build.
type BuildOptions struct {
	// ModelID selects the token budget via the context window table.
	ModelID string

	// MaxMemories additionally caps the injected count. Zero means no cap.
	MaxMemories int
}

// BuiltContext is the result of assembling memories into injectable text.
type BuiltContext struct {
	// Text is the wrapped memory block, empty when nothing was injected.
	Text string `json:"text"`

	// InjectedCount is the number of memories included in Text.
	InjectedCount int `json:"injected_count"`

	// Total is the number of candidate memories offered.
	Total int `json:"total"`

	// EstimatedTokens approximates the token cost of Text.
	EstimatedTokens int `json:"estimated_tokens"`

	// Truncated reports whether candidates were left out.
	Truncated bool `json:"truncated"`
}

// ContextBuilder assembles recalled memories into a token-bounded block for
// injection into the host's system context.
type ContextBuilder struct {
	ratio     float64
	minBudget int
	maxBudget int
}

// NewContextBuilder creates a context builder with the default budget split.
func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{
		ratio:     budgetRatio,
		minBudget: budgetMin,
		maxBudget: budgetMax,
	}
}

// NewContextBuilderFromConfig creates a builder with the config's budget
// tunables, falling back to the defaults for unset fields.
func NewContextBuilderFromConfig(cfg *Config) *ContextBuilder {
	b := NewContextBuilder()
	if cfg.MemoryTokenBudgetRatio > 0 {
		b.ratio = cfg.MemoryTokenBudgetRatio
	}
	if cfg.MemoryTokenBudgetMin > 0 {
		b.minBudget = cfg.MemoryTokenBudgetMin
	}
	if cfg.MemoryTokenBudgetMax > 0 {
		b.maxBudget = cfg.MemoryTokenBudgetMax
	}
	return b
}

// Build selects and formats memories within the model's token budget.
//
// Candidates are ordered by (score desc, created_at desc) and included
// greedily until one no longer fits; selection stops there rather than
// skipping ahead. When even the first candidate exceeds the budget it is
// included once in truncated form and the estimate is pinned to the budget.
// Empty input yields an empty, non-truncated result.
func (b *ContextBuilder) Build(memories []*Memory, opts BuildOptions) *BuiltContext {
	total := len(memories)
	if total == 0 {
		return &BuiltContext{}
	}

	budget := b.tokenBudget(opts.ModelID)

	sorted := make([]*Memory, total)
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	used := wrapperOverheadTokens
	var selected []string
	for _, mem := range sorted {
		if opts.MaxMemories > 0 && len(selected) >= opts.MaxMemories {
			break
		}

		memTokens := EstimateTokens(mem.Text) + perMemoryOverheadTokens
		if used+memTokens <= budget {
			selected = append(selected, mem.Text)
			used += memTokens
			continue
		}

		if len(selected) == 0 {
			selected = append(selected, truncateToChars(mem.Text, 2*(budget-truncationReserveTokens)))
			used = budget
		}
		break
	}

	var sb strings.Builder
	sb.WriteString("<relevant-memories>\n")
	for i, text := range selected {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, text)
	}
	sb.WriteString("</relevant-memories>")

	injected := len(selected)
	return &BuiltContext{
		Text:            sb.String(),
		InjectedCount:   injected,
		Total:           total,
		EstimatedTokens: used,
		Truncated:       injected < total,
	}
}

// EstimateTokens approximates the token count of a string: Chinese
// characters (U+4E00 to U+9FFF) cost 1/1.5 token each, everything else 1/4.
func EstimateTokens(s string) int {
	var chinese, other int
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			chinese++
		} else {
			other++
		}
	}
	return int(math.Ceil(float64(chinese)/1.5 + float64(other)/4.0))
}

// tokenBudget derives the injection budget from the model's context window.
func (b *ContextBuilder) tokenBudget(modelID string) int {
	size := 8192
	longest := 0
	for _, entry := range modelContextWindows {
		if strings.HasPrefix(modelID, entry.prefix) && len(entry.prefix) > longest {
			size = entry.size
			longest = len(entry.prefix)
		}
	}

	budget := int(math.Floor(float64(size) * b.ratio))
	if budget < b.minBudget {
		return b.minBudget
	}
	if budget > b.maxBudget {
		return b.maxBudget
	}
	return budget
}

// truncateToChars cuts text to at most maxChars characters, appending an
// ellipsis when anything was removed.
func truncateToChars(text string, maxChars int) string {
	if maxChars <= 0 {
		return "…"
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + "…"
}
