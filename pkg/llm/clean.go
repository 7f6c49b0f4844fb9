package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	thinkBlockRe    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thoughtBlockRe  = regexp.MustCompile(`(?s)<\|begin_of_thought\|>.*?<\|end_of_thought\|>`)
	thinkingFenceRe = regexp.MustCompile("(?s)```thinking.*?```")
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")
)

// StripReasoning removes chain-of-thought noise emitted by reasoning models:
// <think>...</think> pairs, <|begin_of_thought|>...<|end_of_thought|>
// sentinels and ```thinking``` fences. An unterminated <think> tag swallows
// the rest of the string.
func StripReasoning(s string) string {
	s = thinkBlockRe.ReplaceAllString(s, "")
	s = thoughtBlockRe.ReplaceAllString(s, "")
	s = thinkingFenceRe.ReplaceAllString(s, "")

	if idx := strings.Index(s, "<think>"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// StripCodeFences extracts the content of a ```json fenced block when the
// response is wrapped in one, and returns the input unchanged otherwise.
func StripCodeFences(s string) string {
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// CleanJSONResponse sanitizes a raw model response for JSON parsing: strips
// reasoning blocks, unwraps code fences and trims whitespace.
func CleanJSONResponse(s string) string {
	return strings.TrimSpace(StripCodeFences(StripReasoning(s)))
}

// EnsureJSON returns a string guaranteed to parse as a JSON value.
//
// The response is cleaned first; if the result still does not parse, the
// largest bracketed slice is tried; failing that the literal "{}" is returned
// so callers never crash on model noise.
func EnsureJSON(s string) string {
	cleaned := CleanJSONResponse(s)
	if cleaned != "" && json.Valid([]byte(cleaned)) {
		return cleaned
	}

	if sliced, ok := bracketSlice(cleaned); ok {
		return sliced
	}
	return "{}"
}

// bracketSlice extracts the substring spanning the first opening brace or
// bracket to the matching last closer, if that substring is valid JSON.
func bracketSlice(s string) (string, bool) {
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
	}
	return "", false
}
