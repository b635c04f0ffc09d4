package assemble

import (
	"strings"
	"unicode"
)

// renderMarkdown produces a best-effort markdown rendering of the merged
// plain text. Without layout signal from the model, the heuristics are
// deliberately conservative: short all-caps lines become headings, common
// bullet glyphs become list items, everything else stays plain text.
func renderMarkdown(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			out = append(out, "")
		case looksLikeHeading(trimmed):
			out = append(out, "## "+trimmed)
		case strings.HasPrefix(trimmed, "• "):
			out = append(out, "- "+strings.TrimPrefix(trimmed, "• "))
		case strings.HasPrefix(trimmed, "* "):
			out = append(out, "- "+strings.TrimPrefix(trimmed, "* "))
		case strings.HasPrefix(trimmed, "- "):
			out = append(out, trimmed)
		default:
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

// looksLikeHeading reports whether a line reads like a standalone heading:
// short, has letters, none of them lowercase.
func looksLikeHeading(line string) bool {
	if len(line) > 60 {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}
