// Package common holds helpers shared by the LLM-backed components.
package common

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON decodes the first JSON object in an LLM response into T. Markdown code fences and
// text before the opening or after the closing brace are ignored.
func ParseJSON[T any](response string) (T, error) {
	var out T
	body := stripFence(response)

	start := strings.IndexByte(body, '{')
	if start < 0 {
		return out, fmt.Errorf("no JSON object in LLM response")
	}
	end := strings.LastIndexByte(body, '}')
	if end < start {
		return out, fmt.Errorf("unterminated JSON object in LLM response")
	}

	if err := json.Unmarshal([]byte(body[start:end+1]), &out); err != nil {
		return out, fmt.Errorf("decoding LLM response: %w", err)
	}
	return out, nil
}

// stripFence returns the content of the first ``` fenced block, or s when there is none.
func stripFence(s string) string {
	open := strings.Index(s, "```")
	if open < 0 {
		return s
	}
	rest := s[open+3:]
	// Skip the language tag line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if closing := strings.Index(rest, "```"); closing >= 0 {
		return rest[:closing]
	}
	return rest
}
