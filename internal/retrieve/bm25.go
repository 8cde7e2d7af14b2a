package retrieve

import (
	"math"
	"regexp"
	"strings"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

var tokenRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

func tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// bm25Scores computes a BM25 score for query against every document in
// docs, returning raw (un-normalized) scores in the same order as docs.
// This scores entirely within the already-retrieved candidate pool rather
// than a standing inverted index, since the pool (not the whole
// collection) is what the hybrid leg needs to rank.
func bm25Scores(query string, docs []string) []float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || len(docs) == 0 {
		return make([]float64, len(docs))
	}

	tokenized := make([][]string, len(docs))
	docFreq := map[string]int{}
	var totalLen int
	for i, d := range docs {
		toks := tokenize(d)
		tokenized[i] = toks
		totalLen += len(toks)
		seen := map[string]bool{}
		for _, t := range toks {
			if !seen[t] {
				seen[t] = true
				docFreq[t]++
			}
		}
	}
	avgLen := float64(totalLen) / float64(len(docs))
	n := float64(len(docs))

	scores := make([]float64, len(docs))
	for i, toks := range tokenized {
		termFreq := map[string]int{}
		for _, t := range toks {
			termFreq[t]++
		}
		docLen := float64(len(toks))
		var score float64
		for _, qt := range queryTokens {
			tf := float64(termFreq[qt])
			if tf == 0 {
				continue
			}
			df := float64(docFreq[qt])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*(docLen/avgLen)))
		}
		scores[i] = score
	}
	return scores
}

// minMaxNormalize rescales values to [0,1]. A flat input (all equal, or
// empty) normalizes to all zeros rather than dividing by zero.
func minMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}
