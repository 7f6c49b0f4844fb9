// Package intelligence implements the fact pipeline: LLM-backed extraction
// of candidate facts from conversation batches, and the merge policy that
// classifies each candidate against its nearest existing memories.
package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tiermem/tiermem-go/pkg/llm"
)

// Message is a single conversation turn handed to the extractor.
type Message struct {
	Role string
	Text string
}

// Transcript joins messages into the "{role}: {text}" form the extraction
// prompt expects. Turns with an empty role or text are skipped.
func Transcript(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "" || strings.TrimSpace(msg.Text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", msg.Role, msg.Text))
	}
	return strings.Join(parts, "\n")
}

// FactExtractor extracts facts from conversation batches using an LLM.
//
// Facts are self-contained, third-person statements: personal preferences,
// details, plans, intentions, needs, and activities. Each extraction is a
// single JSON-mode generation; responses that cannot be parsed yield zero
// facts rather than an error.
//
// Example usage:
//
//	extractor := intelligence.NewFactExtractor(provider)
//	facts, err := extractor.ExtractFacts(ctx, messages)
type FactExtractor struct {
	// llm is the provider used for extraction.
	llm llm.Provider

	// customPrompt overrides the default extraction prompt when non-empty.
	customPrompt string
}

// NewFactExtractor creates a fact extractor with the default prompt.
func NewFactExtractor(provider llm.Provider) *FactExtractor {
	return &FactExtractor{llm: provider}
}

// NewFactExtractorWithPrompt creates a fact extractor with a custom prompt.
func NewFactExtractorWithPrompt(provider llm.Provider, customPrompt string) *FactExtractor {
	return &FactExtractor{llm: provider, customPrompt: customPrompt}
}

// ExtractFacts extracts candidate facts from a message batch.
//
// The extraction:
//  1. Joins the batch into a "{role}: {text}" transcript
//  2. Calls the LLM in JSON mode with the extraction prompt
//  3. Parses the response tolerantly (see ParseFacts)
//
// An empty transcript short-circuits to an empty list without calling the
// LLM. Transport failures from the provider are returned to the caller; an
// unparsable response is treated as zero facts.
func (e *FactExtractor) ExtractFacts(ctx context.Context, messages []Message) ([]string, error) {
	transcript := Transcript(messages)
	if transcript == "" {
		return []string{}, nil
	}

	llmMessages := []llm.Message{
		{Role: "system", Content: e.systemPrompt()},
		{Role: "user", Content: fmt.Sprintf("Input:\n%s", transcript)},
	}

	response, err := e.llm.GenerateWithMessages(ctx, llmMessages,
		llm.WithJSONMode(),
		llm.WithTemperature(0.2),
		llm.WithMaxTokens(1000),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to extract facts: %w", err)
	}

	return ParseFacts(response), nil
}

// systemPrompt returns the extraction prompt, dated with today so relative
// time references in facts stay resolvable.
func (e *FactExtractor) systemPrompt() string {
	if e.customPrompt != "" {
		return e.customPrompt
	}

	today := time.Now().Format("2006-01-02")
	return fmt.Sprintf(`You are a Personal Information Organizer. Extract relevant facts, memories, preferences, intentions, and needs from conversations into distinct, manageable facts.

Information Types: Personal preferences, details (names, relationships, dates), plans, intentions, needs, requests, activities, health/wellness, professional, miscellaneous.

CRITICAL Rules:
1. TEMPORAL: ALWAYS extract time info (dates, relative refs like "yesterday", "last week"). Include it in the fact itself (e.g., "Went to Hawaii in May 2023", not just "Went to Hawaii").
2. COMPLETE: Extract self-contained, third-person facts with who/what/when/where when available.
3. SEPARATE: Extract distinct facts separately, especially when they have different time periods.
4. INTENTIONS & NEEDS: ALWAYS extract user intentions, needs, and requests even without time information.
5. NEVER extract credentials, tokens, passwords, or secrets of any kind.

Examples:
Input: Hi.
Output: {"facts" : []}

Input: Yesterday, I met John at 3pm. We discussed the project.
Output: {"facts" : ["Met John at 3pm yesterday", "Discussed project with John yesterday"]}

Input: I'm John, a software engineer.
Output: {"facts" : ["Name is John", "John is a software engineer"]}

Input: I want to book an appointment with a cardiologist.
Output: {"facts" : ["Wants to book an appointment with a cardiologist"]}

Rules:
- Today: %s
- Return JSON: {"facts": ["fact1", "fact2"]}
- Extract from user/assistant messages only
- If no relevant facts, return an empty list
- Preserve the input language

Extract facts from the conversation below:`, today)
}

// ParseFacts parses an extraction response into a fact list.
//
// Models disagree on the wrapper shape, so parsing is tolerant: it accepts
// {"facts": [...]}, {"results": [...]}, {"memories": [...]}, or a bare JSON
// array. Elements may be plain strings or objects carrying the fact under a
// "text", "fact", or "memory" key. Anything unparsable yields an empty list.
func ParseFacts(response string) []string {
	cleaned := llm.CleanJSONResponse(response)
	if cleaned == "" || cleaned == "{}" {
		return []string{}
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &wrapper); err == nil {
		for _, key := range []string{"facts", "results", "memories"} {
			if raw, ok := wrapper[key]; ok {
				return parseFactArray(raw)
			}
		}
		return []string{}
	}

	var bare json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &bare); err == nil {
		return parseFactArray(bare)
	}
	return []string{}
}

func parseFactArray(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}
	}

	facts := make([]string, 0, len(items))
	for _, item := range items {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				facts = append(facts, trimmed)
			}
			continue
		}

		var obj map[string]interface{}
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		for _, key := range []string{"text", "fact", "memory"} {
			if v, ok := obj[key].(string); ok {
				if trimmed := strings.TrimSpace(v); trimmed != "" {
					facts = append(facts, trimmed)
				}
				break
			}
		}
	}
	return facts
}
