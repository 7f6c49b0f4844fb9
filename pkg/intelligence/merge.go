package intelligence

import (
	"strings"
	"unicode"
)

// Event classifies what ingestion does with a candidate fact.
type Event string

const (
	// EventAdd stores the candidate as a new memory.
	EventAdd Event = "ADD"

	// EventUpdate replaces an existing memory's text with the candidate,
	// keeping its id and created_at.
	EventUpdate Event = "UPDATE"

	// EventNoop discards the candidate as a duplicate.
	EventNoop Event = "NOOP"
)

// Neighbor is an existing memory considered during classification, carrying
// its similarity score against the candidate.
type Neighbor struct {
	ID    string
	Text  string
	Score float64
}

// Decision is the outcome of classifying one candidate fact.
//
// TargetID names the affected existing memory for EventUpdate and the
// triggering duplicate for EventNoop; it is empty for EventAdd.
type Decision struct {
	Event    Event
	TargetID string
}

// MergePolicy classifies candidate facts against their nearest neighbours.
//
// A candidate that is highly similar to an existing memory and expresses a
// longer, token-compatible version of it refines that memory in place
// (UPDATE). A near-exact duplicate is dropped (NOOP). Everything else is
// stored as new (ADD).
//
// Example usage:
//
//	policy := intelligence.NewMergePolicy()
//	decision := policy.Classify(candidate, neighbors)
type MergePolicy struct {
	// updateSimilarity is the minimum cosine for a refinement candidate.
	updateSimilarity float64

	// noopSimilarity is the minimum cosine for a duplicate.
	noopSimilarity float64

	// tokenOverlap is the minimum fraction of the neighbour's significant
	// tokens the candidate must contain to count as a refinement.
	tokenOverlap float64
}

// NewMergePolicy creates a merge policy with the default thresholds
// (0.9 update similarity, 0.92 duplicate similarity, 0.7 token overlap).
func NewMergePolicy() *MergePolicy {
	return &MergePolicy{
		updateSimilarity: 0.9,
		noopSimilarity:   0.92,
		tokenOverlap:     0.7,
	}
}

// Classify decides the extraction event for a candidate fact.
//
// The decision considers only the top-scoring neighbour:
//   - cosine >= 0.9, candidate longer than the neighbour, and the candidate
//     shares >= 70% of the neighbour's significant tokens: UPDATE
//   - otherwise cosine >= 0.92: NOOP
//   - otherwise: ADD
//
// The UPDATE check runs first so a longer refinement of a near-duplicate
// still replaces it instead of being dropped.
func (p *MergePolicy) Classify(candidate string, neighbors []Neighbor) Decision {
	top, ok := topNeighbor(neighbors)
	if !ok {
		return Decision{Event: EventAdd}
	}

	if top.Score >= p.updateSimilarity &&
		len(candidate) > len(top.Text) &&
		TokenOverlap(top.Text, candidate) >= p.tokenOverlap {
		return Decision{Event: EventUpdate, TargetID: top.ID}
	}

	if top.Score >= p.noopSimilarity {
		return Decision{Event: EventNoop, TargetID: top.ID}
	}

	return Decision{Event: EventAdd}
}

// topNeighbor returns the highest-scoring neighbour. Search results arrive
// score-descending, but the scan keeps the policy independent of that.
func topNeighbor(neighbors []Neighbor) (Neighbor, bool) {
	if len(neighbors) == 0 {
		return Neighbor{}, false
	}
	top := neighbors[0]
	for _, n := range neighbors[1:] {
		if n.Score > top.Score {
			top = n
		}
	}
	return top, true
}

// TokenOverlap returns the fraction of existing's significant tokens that
// also appear in candidate. Returns 0 when existing has no significant
// tokens.
func TokenOverlap(existing, candidate string) float64 {
	existingTokens := significantTokens(existing)
	if len(existingTokens) == 0 {
		return 0
	}

	candidateTokens := significantTokens(candidate)
	matched := 0
	for token := range existingTokens {
		if _, ok := candidateTokens[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(existingTokens))
}

// significantTokens splits text on whitespace and punctuation into a set of
// distinct lowercase tokens of length >= 2 bytes. Single CJK characters
// survive the length filter; single ASCII letters do not.
func significantTokens(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if len(field) < 2 {
			continue
		}
		tokens[field] = struct{}{}
	}
	return tokens
}
