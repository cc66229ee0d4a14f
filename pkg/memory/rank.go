package memory

import (
	"math"
	"slices"
	"strings"
)

// Okapi BM25 parameters.
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

// keywordWeight is how many times an entry's keywords repeat after its
// summary tokens in the scored document.
const keywordWeight = 2

// QueryTerms returns the distinct search terms of a query.
func QueryTerms(query string) []string {
	return Tokenize(query)
}

// Matches reports whether the entry shares a keyword with terms.
func Matches(e Entry, terms []string) bool {
	for _, t := range terms {
		if _, ok := slices.BinarySearch(e.Keywords, t); ok {
			return true
		}
	}
	return false
}

// Rank scores candidate entries against query with BM25 over the summary
// and keyword fields, keeps those sharing at least one keyword with the
// query and returns the best limit. Equal scores go to the most recent
// event.
func Rank(candidates []Entry, query string, limit int) []Result {
	terms := QueryTerms(query)
	if len(terms) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var docs []Entry
	for _, e := range candidates {
		if Matches(e, terms) {
			docs = append(docs, e)
		}
	}
	if len(docs) == 0 {
		return nil
	}

	termFrequencies := make([]map[string]int, len(docs))
	lengths := make([]int, len(docs))
	documentFrequency := make(map[string]int)
	var total int

	for i, e := range docs {
		toks := compositeTokens(e)
		lengths[i] = len(toks)
		total += len(toks)

		tf := make(map[string]int)
		for _, t := range toks {
			if tf[t] == 0 {
				documentFrequency[t]++
			}
			tf[t]++
		}
		termFrequencies[i] = tf
	}
	averageLength := float64(total) / float64(len(docs))

	n := float64(len(docs))
	results := make([]Result, len(docs))
	for i, e := range docs {
		var score float64
		for _, t := range terms {
			freq := float64(termFrequencies[i][t])
			if freq == 0 {
				continue
			}
			df := float64(documentFrequency[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			if idf <= 0 {
				idf = paramEpsilon
			}
			norm := 1 - paramB
			if averageLength > 0 {
				norm += paramB * float64(lengths[i]) / averageLength
			}
			score += idf * freq * (paramK1 + 1) / (freq + paramK1*norm)
		}
		results[i] = Result{Entry: e, Score: score}
	}

	slices.SortStableFunc(results, compareResults)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func compareResults(a, b Result) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	if c := b.EventTimestamp.Compare(a.EventTimestamp); c != 0 {
		return c
	}
	switch {
	case a.EventSeq > b.EventSeq:
		return -1
	case a.EventSeq < b.EventSeq:
		return 1
	}
	return strings.Compare(a.Ref.String()+a.Ref.EventID, b.Ref.String()+b.Ref.EventID)
}

func compositeTokens(e Entry) []string {
	toks := tokens(e.Summary)
	for range keywordWeight {
		toks = append(toks, e.Keywords...)
	}
	return toks
}
