package index

import (
	"strings"
	"unicode"
)

// stopwords are excluded from lexical indexing and queries. Trigram
// matching keeps them; partial matches on short words are its whole point.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "if": {}, "in": {},
	"into": {}, "is": {}, "it": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "such": {}, "that": {}, "the": {}, "their": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "will": {}, "with": {},
}

// tokenize lowercases text and splits it into alphanumeric terms,
// dropping stopwords.
func tokenize(text string) []string {
	var tokens []string
	var b strings.Builder

	flush := func() {
		if b.Len() == 0 {
			return
		}
		token := b.String()
		b.Reset()
		if _, stop := stopwords[token]; stop {
			return
		}
		tokens = append(tokens, token)
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// trigrams extracts the set of letter trigrams from text, one word at a
// time with boundary padding so word starts weigh more than interiors.
// This mirrors how pg_trgm pads words.
func trigrams(text string) map[string]struct{} {
	set := make(map[string]struct{})
	var b strings.Builder

	emit := func() {
		if b.Len() == 0 {
			return
		}
		word := "  " + b.String() + " "
		b.Reset()
		for i := 0; i+3 <= len(word); i++ {
			set[word[i:i+3]] = struct{}{}
		}
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			emit()
		}
	}
	emit()
	return set
}
