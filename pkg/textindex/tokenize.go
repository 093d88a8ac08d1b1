// Package textindex provides the text side of the spatial-keyword index:
// tokenization, term interning, the global inverted index, and sparse
// TF-IDF vectors.
package textindex

import "strings"

// Tokenize splits text into normalized terms. Tokens are maximal runs of
// non-whitespace; each token is ASCII-lowercased and stripped of ASCII
// punctuation, and tokens that end up empty are dropped. Non-ASCII bytes
// pass through untouched.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := normalize(f)
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// TermFrequencies tokenizes text and counts occurrences per term.
func TermFrequencies(text string) map[string]int {
	freq := make(map[string]int)
	for _, tok := range Tokenize(text) {
		freq[tok]++
	}
	return freq
}

func normalize(tok string) string {
	var b strings.Builder
	b.Grow(len(tok))
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c >= 0x80 {
			b.WriteByte(c)
			continue
		}
		if isASCIIPunct(c) {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// isASCIIPunct mirrors C ispunct: printable, not alphanumeric, not space.
func isASCIIPunct(c byte) bool {
	if c <= ' ' || c == 0x7f {
		return false
	}
	if c >= '0' && c <= '9' {
		return false
	}
	if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return false
	}
	return true
}
