package rag

import "strings"

// GuardPolicy gathers every tunable constant of the answer pipeline in one
// place: the guard confidence threshold, the adaptive relevance thresholds and
// the retrieval depth formula. The relevance constants are empirical and only
// valid for cosine scores; recalibrate before switching embedding models.
type GuardPolicy struct {
	// ConfidenceThreshold splits accepted answers from hedged gap answers.
	ConfidenceThreshold float64

	// StrongBestScore decides which relevance threshold applies: when the
	// best candidate scores at least this, StrictThreshold gates the
	// results, otherwise LenientThreshold does. The looser gate keeps
	// multi-chunk-synthesis cases alive when every single match is weak.
	StrongBestScore  float64
	StrictThreshold  float64
	LenientThreshold float64
}

func DefaultPolicy() GuardPolicy {
	return GuardPolicy{
		ConfidenceThreshold: 0.7,
		StrongBestScore:     0.50,
		StrictThreshold:     0.35,
		LenientThreshold:    0.30,
	}
}

func (p GuardPolicy) RelevanceThreshold(bestScore float64) float64 {
	if bestScore >= p.StrongBestScore {
		return p.StrictThreshold
	}
	return p.LenientThreshold
}

// TopK picks the retrieval depth from the query shape. Short queries are
// usually ambiguous and need more candidates for synthesis, so the formula
// biases toward recall: base 5/7/9 by word count, plus 3, capped at 10.
func TopK(query string) int {
	words := len(strings.Fields(query))

	base := 9
	switch {
	case words <= 5:
		base = 5
	case words <= 15:
		base = 7
	}

	k := base + 3
	if k > 10 {
		k = 10
	}
	return k
}
