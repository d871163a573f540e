// Package lexicon owns the term dictionary and the single tokenizer shared by
// bulk indexing, delta ingestion and query parsing.
package lexicon

import (
	"strings"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// IsStopword reports whether token belongs to the closed stopword set.
// token must already be lowercased.
func IsStopword(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// Tokenize lowercases text, splits it on whitespace and drops stopwords.
// The returned slice preserves document order, so a token's index is its
// position.
func Tokenize(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if word == "" || IsStopword(word) {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}
