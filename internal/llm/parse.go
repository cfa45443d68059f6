package llm

import "strings"

// StripCodeFence removes a leading ``` line (with or without a language tag)
// and a trailing ``` line from a model answer.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ExtractJSONObject returns the text between the first '{' and the last '}',
// or the trimmed input when it has no such pair.
func ExtractJSONObject(s string) string {
	s = StripCodeFence(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
