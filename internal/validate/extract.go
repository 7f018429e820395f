package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no JSON object found in output")

// extract finds the JSON objects in raw, in the order they are tried: the
// whole text, a fenced ```json block, then every balanced {...} span. At
// least one object is returned unless err is set.
func extract(raw string) ([]map[string]any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, errors.New("output is empty")
	}

	candidates := []string{text}
	if fenced, ok := fencedBlock(text); ok {
		candidates = append(candidates, fenced)
	}
	candidates = append(candidates, balancedObjects(text)...)

	var objs []map[string]any
	seen := make(map[string]bool, len(candidates))
	var lastErr error
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		var value any
		if err := json.Unmarshal([]byte(c), &value); err != nil {
			lastErr = err
			continue
		}
		obj, ok := value.(map[string]any)
		if !ok {
			lastErr = fmt.Errorf("output is a JSON %s, not an object", typeName(value))
			continue
		}
		objs = append(objs, obj)
	}
	if len(objs) > 0 {
		return objs, nil
	}
	if lastErr != nil && strings.Contains(text, "{") {
		return nil, fmt.Errorf("invalid JSON: %w", lastErr)
	}
	return nil, errNoJSON
}

// fencedBlock returns the body of the first ``` fence in text.
func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	body := text[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop the info string (json, JSON, ...).
		body = body[nl+1:]
	}
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(body[:end]), true
}

// balancedObjects returns every top-level balanced {...} span in text,
// skipping braces inside JSON strings.
func balancedObjects(text string) []string {
	var spans []string
	for from := 0; from < len(text); {
		span, end, ok := nextObject(text, from)
		if !ok {
			break
		}
		spans = append(spans, span)
		from = end
	}
	return spans
}

func nextObject(text string, from int) (string, int, bool) {
	rel := strings.IndexByte(text[from:], '{')
	if rel < 0 {
		return "", 0, false
	}
	start := from + rel
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1], i + 1, true
			}
		}
	}
	return "", 0, false
}
