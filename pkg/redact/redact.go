// Package redact scrubs secret-shaped substrings from data before it is
// persisted or handed to the LLM gateway.
package redact

import (
	"encoding/json"
	"regexp"
)

const placeholder = "[REDACTED]"

// builtinPatterns cover AWS access key ids, bearer tokens, key=value
// credential assignments, and long base64 blobs.
var builtinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)(password|secret|token)\s*=\s*[^\s,;]+`),
	regexp.MustCompile(`\b[A-Za-z0-9+/]{32,}={0,2}\b`),
}

// Service applies a fixed set of compiled redaction patterns to strings and
// recursively to nested maps and slices.
type Service struct {
	patterns []*regexp.Regexp
}

// NewService compiles the built-in pattern set.
func NewService() *Service {
	return &Service{patterns: builtinPatterns}
}

// String redacts all pattern matches in s.
func (s *Service) String(in string) string {
	out := in
	for _, re := range s.patterns {
		out = re.ReplaceAllString(out, placeholder)
	}
	return out
}

// StringMap redacts every value of a flat string map, returning a new map.
func (s *Service) StringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = s.String(v)
	}
	return out
}

// Value walks an arbitrary value and redacts every string leaf. Typed values
// (struct slices, []string, nested containers) are JSON round-tripped into
// the generic shapes so their string fields are swept too. Non-string
// scalars pass through unchanged.
func (s *Service) Value(in any) any {
	switch v := in.(type) {
	case nil:
		return nil
	case string:
		return s.String(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = s.Value(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.Value(item)
		}
		return out
	case map[string]string:
		return s.StringMap(v)
	case bool, int, int32, int64, float32, float64, json.Number:
		return in
	default:
		raw, err := json.Marshal(in)
		if err != nil {
			return in
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return in
		}
		switch decoded.(type) {
		case map[string]any, []any, string:
			return s.Value(decoded)
		}
		return in
	}
}

// Map is a convenience wrapper for JSON-object values.
func (s *Service) Map(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	return s.Value(in).(map[string]any)
}
