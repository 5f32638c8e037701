package common

import (
	"regexp"
	"strings"
	"unicode"
)

// NormalizeName lowercases s and collapses runs of whitespace to one space.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Truncate shortens s to at most n runes, cutting at the last word boundary when possible.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

var sentenceEnd = regexp.MustCompile(`[^.!?;\n]+[.!?;]*`)

// Sentences splits text on terminal punctuation and newlines, dropping empty parts.
func Sentences(s string) []string {
	var out []string
	for _, m := range sentenceEnd.FindAllString(s, -1) {
		if t := strings.TrimSpace(m); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Tokens lowercases s and splits it into letter/digit runs; apostrophes stay inside words.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
