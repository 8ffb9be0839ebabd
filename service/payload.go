package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNotObject = errors.New("payload is not a JSON object")

// ParsePayload extracts the JSON object from a provider response body.
// Providers backed by language models wrap their answer in code fences,
// quote and escape it, or append prose, so each of those is tolerated.
func ParsePayload(body []byte) (map[string]any, error) {
	return parsePayload(string(body), 0)
}

func parsePayload(text string, depth int) (map[string]any, error) {
	text = stripFences(strings.TrimSpace(text))
	if text == "" {
		return nil, errors.New("empty payload")
	}

	if obj, err := decodeObject(text, depth); err == nil || !errors.Is(err, errSyntax) {
		return obj, err
	}

	cleaned := text
	if strings.Count(cleaned, "{") > 1 {
		if first := firstObject(cleaned); first != "" {
			cleaned = first
		}
	}
	cleaned = strings.TrimSuffix(cleaned, ".")
	if len(cleaned) >= 2 && strings.HasPrefix(cleaned, `"`) && strings.HasSuffix(cleaned, `"`) {
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	if strings.Contains(cleaned, `\`) {
		cleaned = strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(cleaned)
	}

	obj, err := decodeObject(cleaned, depth)
	if err == nil || !errors.Is(err, errSyntax) {
		return obj, err
	}

	start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return nil, err
	}
	return decodeObject(cleaned[start:end+1], depth)
}

var errSyntax = errors.New("invalid JSON")

// decodeObject decodes text as a JSON object. A JSON string holding an
// object is unwrapped once.
func decodeObject(text string, depth int) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", errSyntax, err)
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case string:
		if depth < 1 {
			return parsePayload(t, depth+1)
		}
	}
	return nil, errNotObject
}

// stripFences removes a surrounding markdown code fence such as ```json ... ```.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexAny(s, "\r\n"); nl >= 0 && !strings.Contains(s[:nl], "{") {
		s = s[nl:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstObject returns the first balanced {...} span in s, ignoring braces
// inside JSON strings.
func firstObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
