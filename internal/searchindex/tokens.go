package searchindex

import (
	"strings"
	"unicode"

	"github.com/cloud10922/zkim/internal/envelope"
)

// generateSearchTokens implements §4.3.1: an unordered set of lowercased,
// trimmed strings drawn from fileName (whole + word split), mimeType,
// tags, and string-valued customFields. Non-string customFields values
// are skipped, never coerced, per the Non-goals and §9 design notes.
func generateSearchTokens(meta envelope.Metadata) []string {
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return
		}
		seen[s] = struct{}{}
	}

	if meta.FileName != "" {
		add(meta.FileName)
		for _, word := range splitNonAlphanumeric(meta.FileName) {
			add(word)
		}
	}
	if meta.MimeType != "" {
		add(meta.MimeType)
	}
	for _, tag := range meta.Tags {
		add(tag)
	}
	for _, v := range meta.CustomFields {
		if s, ok := v.(string); ok {
			add(s)
		}
	}

	tokens := make([]string, 0, len(seen))
	for t := range seen {
		tokens = append(tokens, t)
	}
	return tokens
}

func splitNonAlphanumeric(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
