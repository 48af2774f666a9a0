package llm

import (
	"errors"
	"regexp"
	"strings"
)

var ErrNoJSON = errors.New("no json object in response")

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// RepairJSON extracts the first JSON object from a model response and
// cleans up the damage weak models inflict: markdown code fences, leading
// chatter, trailing commas. It does not validate the result; callers
// unmarshal and fall back on failure.
func RepairJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	// Strip markdown fences, with or without a language tag.
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{}") {
			s = s[nl+1:]
		}
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	// Take the first balanced object, ignoring braces inside strings.
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSON
	}
	depth := 0
	inString := false
	escaped := false
	end := -1
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					end = i
				}
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		// Unterminated object; close what we can.
		s = s[start:]
		s = strings.TrimRight(s, " \t\n,")
		deficit := strings.Count(s, "{") - strings.Count(s, "}")
		s += strings.Repeat("}", deficit)
	} else {
		s = s[start : end+1]
	}

	s = trailingComma.ReplaceAllString(s, "$1")
	return s, nil
}
