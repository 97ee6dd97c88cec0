package llms

import (
	"encoding/json"
	"fmt"
)

// FirstJSONObject extracts and parses the first balanced {...} block in s.
// Braces inside JSON strings are skipped.
func FirstJSONObject(s string) (map[string]interface{}, error) {
	raw, err := firstBalanced(s, '{', '}')
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to parse JSON object: %w", err)
	}
	return out, nil
}

// FirstJSONArray extracts and parses the first balanced [...] block in s.
func FirstJSONArray(s string) ([]interface{}, error) {
	raw, err := firstBalanced(s, '[', ']')
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to parse JSON array: %w", err)
	}
	return out, nil
}

func firstBalanced(s string, open, close byte) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
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
			if start >= 0 {
				inString = true
			}
		case open:
			if start < 0 {
				start = i
			}
			depth++
		case close:
			if start >= 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}

	if start < 0 {
		return "", fmt.Errorf("no %c...%c block found", open, close)
	}
	return "", fmt.Errorf("unbalanced %c...%c block", open, close)
}
