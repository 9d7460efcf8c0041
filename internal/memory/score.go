package memory

import (
	"math"
	"time"
)

// DefaultSearchThreshold drops weak matches before composite ranking.
const DefaultSearchThreshold = 0.7

// Weights control the composite ranking blend.
type Weights struct {
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Frequency  float64 `json:"frequency"`
}

// DefaultWeights favors similarity, then recency, then access frequency.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.5, Recency: 0.3, Frequency: 0.2}
}

// recencyScore decays exponentially with age in days since last access.
func recencyScore(lastAccessedAt, now time.Time) float64 {
	if lastAccessedAt.IsZero() {
		return 0
	}
	ageDays := now.Sub(lastAccessedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-0.1 * ageDays)
}

// frequencyScore saturates around 100 accesses.
func frequencyScore(accessCount int) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	return math.Log(1+float64(accessCount)) / math.Log(101)
}

// compositeScore blends similarity, recency, and frequency; the final rank
// additionally weighs the fragment's own relevance.
func compositeScore(f *Fragment, similarity float64, w Weights, now time.Time) (composite, finalRank float64) {
	composite = similarity*w.Similarity +
		recencyScore(f.LastAccessedAt, now)*w.Recency +
		frequencyScore(f.AccessCount)*w.Frequency
	return composite, composite * f.Relevance
}
