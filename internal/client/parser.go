package client

import "strings"

// SplitCommand splits a REPL input line into arguments. Double quotes group
// words (a quote inside a word is literal), backslash escapes a quote or
// itself, and any other escape sequence is kept verbatim.
func SplitCommand(input string) []string {
	var parts []string
	var buf strings.Builder
	escape := false
	quote := false

	for _, c := range input {
		if escape {
			escape = false
			if c != '\\' && c != '"' {
				buf.WriteByte('\\')
			}
			buf.WriteRune(c)
			continue
		}
		switch {
		case c == '\\':
			escape = true
		case c == '"' && (buf.Len() == 0 || quote):
			quote = !quote
		case c == ' ' && !quote:
			parts = append(parts, buf.String())
			buf.Reset()
		default:
			buf.WriteRune(c)
		}
	}

	if escape {
		buf.WriteByte('\\')
	}
	if buf.Len() > 0 {
		parts = append(parts, buf.String())
	}
	return parts
}
