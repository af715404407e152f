package modules

import (
	"encoding/json"
	"strings"
)

// Model output is requested as strict JSON but arrives near-JSON often
// enough to matter. Repair applies a fixed ladder of textual fixes and
// stops at the first stage that parses. Valid JSON passes through
// unchanged, so the ladder is idempotent.

type repairStep func(string) string

var repairSteps = []repairStep{
	stripCodeFence,
	removeTrailingCommas,
	collapseRepeatedCommas,
	stripControlChars,
	balanceBrackets,
	extractLargestObject,
}

// Repair returns the first cumulative transformation of raw that parses as
// JSON, or the fully transformed text and false when none does.
func Repair(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if json.Valid([]byte(text)) {
		return text, true
	}
	for _, step := range repairSteps {
		text = step(text)
		if json.Valid([]byte(text)) {
			return text, true
		}
	}
	return text, false
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```json")
			s = strings.TrimPrefix(s, "```")
		}
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// removeTrailingCommas drops commas that directly precede a closing brace
// or bracket, skipping string literals.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			b.WriteByte(ch)
			continue
		}
		if ch == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func collapseRepeatedCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	lastMeaningful := byte(0)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
			b.WriteByte(ch)
			lastMeaningful = ch
		case ',':
			if lastMeaningful == ',' {
				continue
			}
			b.WriteByte(ch)
			lastMeaningful = ch
		case ' ', '\t', '\n', '\r':
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
			lastMeaningful = ch
		}
	}
	return b.String()
}

// stripControlChars removes ASCII control characters except tab, newline
// and carriage return.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < 0x20 && ch != '\t' && ch != '\n' && ch != '\r' {
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// balanceBrackets truncates to the longest prefix whose braces and brackets
// balance, then closes any still-open scopes.
func balanceBrackets(s string) string {
	var stack []byte
	inString := false
	escaped := false
	lastBalanced := -1
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) == 0 {
				// Unmatched closer: keep the prefix before it.
				return s[:i]
			}
			open := stack[len(stack)-1]
			if (ch == '}' && open != '{') || (ch == ']' && open != '[') {
				return s[:i]
			}
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 && !inString && (ch == '}' || ch == ']') {
			lastBalanced = i
		}
	}
	if lastBalanced >= 0 {
		return s[:lastBalanced+1]
	}
	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

func extractLargestObject(s string) string {
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first < 0 || last <= first {
		return s
	}
	return s[first : last+1]
}
