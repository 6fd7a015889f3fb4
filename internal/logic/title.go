package logic

import (
	"strings"
	"unicode/utf8"
)

// provisionalTitleLength is how many characters of the first message a new conversation keeps
const provisionalTitleLength = 30

// ProvisionalTitle derives a conversation title from its first message:
// the first 30 characters, plus "..." when the message was longer.
func ProvisionalTitle(content string) string {
	if utf8.RuneCountInString(content) <= provisionalTitleLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:provisionalTitleLength]) + "..."
}

var titleQuotes = []string{`"`, `'`, "«", "»", "“", "”", "`"}

// CleanTitle trims whitespace and one layer of surrounding quotes from a generated title
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	for _, q := range titleQuotes {
		title = strings.TrimPrefix(title, q)
	}
	for _, q := range titleQuotes {
		title = strings.TrimSuffix(title, q)
	}
	return strings.TrimSpace(title)
}
