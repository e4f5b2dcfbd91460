package analytics

import (
	"strings"
	"unicode"
)

// Queries that reached the gap log but carry no clustering signal: operator
// smoke tests, stray greetings that slipped past the router, keyboard noise.
var noiseWords = map[string]bool{
	"test":    true,
	"testing": true,
	"asdf":    true,
	"qwerty":  true,
	"hi":      true,
	"hello":   true,
	"hey":     true,
	"ok":      true,
	"okay":    true,
	"thanks":  true,
	"foo":     true,
	"bar":     true,
}

// Substrings that mark a query as keyboard mash or filler wherever they
// appear, not just as the whole message.
var blockedTerms = []string{
	"asdf",
	"qwerty",
	"lorem ipsum",
}

// keepForClustering decides deterministically whether a failed query is worth
// sending to the model. It never calls out; the same input always gets the
// same answer.
func keepForClustering(query string) bool {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < 4 {
		return false
	}

	lower := strings.ToLower(trimmed)
	if noiseWords[lower] {
		return false
	}

	for _, term := range blockedTerms {
		if strings.Contains(lower, term) {
			return false
		}
	}

	// "test test test" and friends: every token is a noise word.
	allNoise := true
	for _, field := range strings.Fields(lower) {
		if !noiseWords[strings.Trim(field, ".,!?")] {
			allNoise = false
			break
		}
	}
	if allNoise {
		return false
	}

	hasLetter := false
	first := rune(0)
	uniform := true
	for i, r := range strings.ToLower(trimmed) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			hasLetter = true
		}
		if i == 0 {
			first = r
		} else if r != first {
			uniform = false
		}
	}

	// Pure punctuation ("???") or one repeated character ("aaaaaa").
	if !hasLetter || uniform {
		return false
	}

	return true
}

func filterQueries(queries []string, limit int) []string {
	var kept []string
	for _, q := range queries {
		if !keepForClustering(q) {
			continue
		}
		kept = append(kept, q)
		if len(kept) == limit {
			break
		}
	}
	return kept
}
