package mapper

import (
	"math"
	"strings"
	"unicode"
)

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func termFrequencies(tokens []string) map[string]float64 {
	freq := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	return freq
}

// cosineSimilarity scores lexical overlap between two texts on term
// frequency vectors. Returns 0 when either side is empty.
func cosineSimilarity(a, b string) float64 {
	fa := termFrequencies(tokenize(a))
	fb := termFrequencies(tokenize(b))
	if len(fa) == 0 || len(fb) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for term, va := range fa {
		normA += va * va
		if vb, ok := fb[term]; ok {
			dot += va * vb
		}
	}
	for _, vb := range fb {
		normB += vb * vb
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
