// Package content derives the read time and excerpt of a post body.
package content

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	WordsPerMinute = 200
	ExcerptLength  = 160
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// ReadTime estimates reading time in whole minutes: words / 200, rounded up,
// never less than one minute. Words are runs of non-whitespace.
func ReadTime(body string) int {
	words := len(strings.Fields(body))
	minutes := (words + WordsPerMinute - 1) / WordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}

// StripTags removes anything that looks like an HTML tag.
func StripTags(body string) string {
	return tagPattern.ReplaceAllString(body, "")
}

// Excerpt is the tag-stripped body, cut to ExcerptLength characters with
// "..." appended when it had to be cut.
func Excerpt(body string) string {
	plain := StripTags(body)
	if utf8.RuneCountInString(plain) <= ExcerptLength {
		return plain
	}
	runes := []rune(plain)
	return strings.TrimSpace(string(runes[:ExcerptLength])) + "..."
}
