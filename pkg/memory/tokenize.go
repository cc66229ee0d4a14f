package memory

import (
	"slices"
	"strings"
	"unicode"
)

// stopWords are dropped from keyword sets and queries. "from" and "type"
// head every summary and would match everything.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {}, "it": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "type": {},
	"was": {}, "were": {}, "will": {}, "with": {},
}

// Tokenize returns the sorted, de-duplicated lower-case tokens of text.
// Tokens are runs of letters, digits and underscores; stop words and
// single characters are dropped.
func Tokenize(text string) []string {
	seen := make(map[string]struct{})
	for _, tok := range tokens(text) {
		seen[tok] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	slices.Sort(out)
	return out
}

// tokens returns every token of text in order, duplicates included.
func tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
