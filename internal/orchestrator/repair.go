package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Providers frequently wrap JSON in markdown fences, append prose, or emit
// trailing commas. The repair pipeline applies cheap textual stages in order
// and re-attempts a parse after each one; every stage is pure, so repairing
// already-valid JSON is a no-op.

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// RepairJSON extracts a valid JSON document from raw provider output.
// Returns the repaired text and whether a parseable document was found.
func RepairJSON(raw string) (string, bool) {
	candidate := strings.TrimSpace(raw)

	if m := fenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}
	if json.Valid([]byte(candidate)) {
		return candidate, true
	}

	stripped := trailingCommaRe.ReplaceAllString(candidate, "$1")
	if json.Valid([]byte(stripped)) {
		return stripped, true
	}

	extracted := extractBalanced(stripped)
	if extracted != "" {
		extracted = stripControlChars(extracted)
		extracted = trailingCommaRe.ReplaceAllString(extracted, "$1")
		if json.Valid([]byte(extracted)) {
			return extracted, true
		}
	}
	return "", false
}

// extractBalanced returns the first balanced {...} or [...] region, tracking
// string literals so braces inside strings do not count.
func extractBalanced(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// stripControlChars removes every C0/C1 control character, which some
// providers leak into string values unescaped. Between tokens they are mere
// whitespace and removal is harmless; inside a string literal a raw newline
// or tab makes the document invalid, so removal is the repair.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			return -1
		}
		return r
	}, s)
}
