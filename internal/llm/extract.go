package llm

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned when no JSON object can be recovered from output.
var ErrNoJSON = errors.New("llm: no json object in output")

// ExtractJSON recovers the first JSON object from model output: markdown
// fences are stripped, text around the object is dropped and trailing
// commas before a closing bracket are removed.
func ExtractJSON(raw string) ([]byte, error) {
	text := stripFences(strings.TrimSpace(raw))
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, ErrNoJSON
	}
	end := matchingBrace(text, start)
	if end < 0 {
		return nil, ErrNoJSON
	}
	cleaned := removeTrailingCommas(text[start : end+1])
	if !gjson.Valid(cleaned) {
		return nil, ErrNoJSON
	}
	return []byte(cleaned), nil
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// matchingBrace returns the index of the brace closing text[start], or -1.
func matchingBrace(text string, start int) int {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func removeTrailingCommas(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
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
			sb.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(text) && strings.IndexByte(" \t\r\n", text[j]) >= 0 {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
