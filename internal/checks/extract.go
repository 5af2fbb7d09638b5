package checks

import (
	"encoding/json"
	"strings"

	"github.com/lucasnoah/refinery/internal/config"
)

// Normalize prepares raw model output for validation and commit. Text output
// is trimmed; JSON output is extracted from code fences or surrounding prose.
func Normalize(raw, format string) string {
	if format == config.FormatJSON {
		return ExtractJSON(raw)
	}
	return strings.TrimSpace(raw)
}

// ExtractJSON pulls a JSON document out of a model reply. A fenced code block
// wins; otherwise the outermost {...} span is used if it parses. When nothing
// parses the trimmed input is returned unchanged so validation can report it.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		body := strings.TrimPrefix(s, "```")
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		// Drop a language tag such as "json" on the opening fence line.
		if nl := strings.Index(body, "\n"); nl >= 0 {
			first := strings.TrimSpace(body[:nl])
			if first != "" && !strings.HasPrefix(first, "{") && !strings.HasPrefix(first, "[") {
				body = body[nl+1:]
			}
		}
		s = strings.TrimSpace(body)
	}

	if json.Valid([]byte(s)) {
		return s
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		if candidate := s[start : end+1]; json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	return s
}
