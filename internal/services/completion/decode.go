package completion

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DecodeModelJSON parses a JSON document from a model response, tolerating the
// markdown fences and surrounding prose that some models emit despite the
// json_object response format.
func DecodeModelJSON(payload string, target any) error {
	cleaned := sanitizeJSONPayload(payload)
	if cleaned == "" {
		return fmt.Errorf("empty json payload")
	}
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("decode json payload %q: %w", summarizePayloadSnippet(cleaned), err)
	}
	return nil
}

func sanitizeJSONPayload(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed
	}
	if extracted := extractJSONDocument(trimmed); extracted != "" {
		return extracted
	}
	return trimmed
}

func extractJSONDocument(payload string) string {
	for _, pair := range [][2]rune{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexRune(payload, pair[0])
		end := strings.LastIndex(payload, string(pair[1]))
		if start >= 0 && end > start {
			return strings.TrimSpace(payload[start : end+1])
		}
	}
	return ""
}

func summarizePayloadSnippet(payload string) string {
	const limit = 160
	collapsed := strings.Join(strings.Fields(payload), " ")
	if utf8.RuneCountInString(collapsed) <= limit {
		return collapsed
	}
	runes := []rune(collapsed)
	return string(runes[:limit]) + "…"
}
