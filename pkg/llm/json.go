package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> blocks some models emit before the answer.
var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// fencePattern matches a fenced code block, optionally tagged json.
var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// ExtractJSON returns the first well-formed JSON object or array in an LLM
// response. Fenced code blocks are tried first, then a balanced bracket scan
// over the whole text.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	for _, m := range fencePattern.FindAllStringSubmatch(cleaned, -1) {
		if s, ok := firstJSON(m[1]); ok {
			return s, nil
		}
	}
	if s, ok := firstJSON(cleaned); ok {
		return s, nil
	}
	return "", fmt.Errorf("no valid JSON found in response")
}

// firstJSON scans s for the first balanced { or [ that parses.
func firstJSON(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		var closeChar byte
		switch s[i] {
		case '{':
			closeChar = '}'
		case '[':
			closeChar = ']'
		default:
			continue
		}
		if candidate, ok := extractBalancedJSON(s[i:], s[i], closeChar); ok && json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	trimmed := strings.TrimSpace(s)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return trimmed, true
	}
	return "", false
}

// extractBalancedJSON returns the balanced structure that starts at s[0].
// Brackets inside strings are ignored.
func extractBalancedJSON(s string, openChar, closeChar byte) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into the target.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
