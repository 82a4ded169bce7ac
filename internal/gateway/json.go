package gateway

import "strings"

// extractJSONObject returns the first balanced {...} value in s. Braces inside JSON
// strings are ignored, so prose or code fences around the object do not matter.
func extractJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// bareToken strips quotes, punctuation and whitespace around a one-word answer.
func bareToken(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`.*\n\r\t ")
}
