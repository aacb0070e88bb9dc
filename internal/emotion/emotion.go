// Package emotion holds the emotion categories and the dominant-emotion policy shared by the
// classifier adapter and the table builder.
package emotion

import "sort"

const (
	// NoDominant is reported when the strongest emotion is below the threshold.
	NoDominant = "no dominant emotion detected"
	// NoEmotion is reported when the classifier returned no scores at all.
	NoEmotion = "no emotion detected"

	// DefaultThreshold is the confidence (0-100 scale) the strongest emotion must reach.
	DefaultThreshold = 50.0
)

// Categories is the fixed column order of the emotion scores.
var Categories = []string{"angry", "disgust", "fear", "happy", "sad", "surprise", "neutral"}

// Dominant returns the category with the highest confidence if it reaches threshold.
// Ties go to the category listed first in Categories; unknown keys follow in lexical order.
func Dominant(scores map[string]float64, threshold float64) string {
	if len(scores) == 0 {
		return NoEmotion
	}
	best := ""
	bestScore := 0.0
	for _, k := range orderedKeys(scores) {
		if v := scores[k]; best == "" || v > bestScore {
			best, bestScore = k, v
		}
	}
	if bestScore >= threshold {
		return best
	}
	return NoDominant
}

func orderedKeys(scores map[string]float64) []string {
	keys := make([]string, 0, len(scores))
	known := make(map[string]bool, len(Categories))
	for _, c := range Categories {
		known[c] = true
		if _, ok := scores[c]; ok {
			keys = append(keys, c)
		}
	}
	var extra []string
	for k := range scores {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}
