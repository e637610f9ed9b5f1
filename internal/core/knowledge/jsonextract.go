package knowledge

import (
	"encoding/json"
	"strings"
)

// firstBalanced returns the first balanced region opened by opener and closed
// by closer, and its byte offset. Brackets inside JSON strings are ignored.
func firstBalanced(s string, opener, closer byte) (string, int, bool) {
	start := strings.IndexByte(s, opener)
	for start >= 0 {
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case opener:
				depth++
			case closer:
				depth--
				if depth == 0 {
					return s[start : i+1], start, true
				}
			}
		}
		// unbalanced from this opener; try the next one
		next := strings.IndexByte(s[start+1:], opener)
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", -1, false
}

// decodeFirst unmarshals the first balanced region of s that is valid JSON for v.
func decodeFirst(s string, opener, closer byte, v any) bool {
	for off := 0; off < len(s); {
		region, start, ok := firstBalanced(s[off:], opener, closer)
		if !ok {
			return false
		}
		if err := json.Unmarshal([]byte(region), v); err == nil {
			return true
		}
		off += start + 1
	}
	return false
}

// extractObject parses the first JSON object embedded in an AI response.
func extractObject(s string) (map[string]any, bool) {
	var out map[string]any
	if !decodeFirst(s, '{', '}', &out) || out == nil {
		return nil, false
	}
	return out, true
}

// extractArray parses the first JSON array embedded in an AI response.
func extractArray(s string) ([]any, bool) {
	var out []any
	if !decodeFirst(s, '[', ']', &out) || out == nil {
		return nil, false
	}
	return out, true
}

// stringList keeps the non-empty string elements of v, at most limit of them.
// Anything that is not an array yields an empty, non-nil slice.
func stringList(v any, limit int) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, min(len(arr), limit))
	for _, item := range arr {
		if len(out) == limit {
			break
		}
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return def
}

func oneOf(v any, allowed []string, def string) string {
	s, ok := v.(string)
	if !ok {
		return def
	}
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return def
}

// intValue accepts JSON numbers and numeric strings.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		var f float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(n)), &f); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

func truncate(s string, n int) (string, bool) {
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}
