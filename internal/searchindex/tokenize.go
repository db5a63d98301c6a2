package searchindex

import (
	"strings"
	"unicode"
)

// tokenize lowercases s and splits it on any non-alphanumeric rune,
// punctuation and path separators both becoming token boundaries. Since
// '.' is a boundary, a file extension comes out as its own token; no
// extra token is emitted for it here.
func tokenize(s string) []string {
	lower := strings.ToLower(s)
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}
