package services

import "math"

// ScoreRange is the raw score span used to normalize edge scores.
type ScoreRange struct {
	Min   float64
	Max   float64
	Gamma float64
}

// Normalize maps a raw score into [0,1] within the range.
func (r ScoreRange) Normalize(raw float64) float64 {
	return NormalizeScore(raw, r.Min, r.Max, r.Gamma)
}

// NormalizeScore returns ((raw - min) / (max - min)) ^ gamma, clamped to [0,1].
// A degenerate range maps every score to 1.0. A non-positive gamma is
// treated as linear.
func NormalizeScore(raw, minScore, maxScore, gamma float64) float64 {
	span := maxScore - minScore
	if span <= 0 || math.IsNaN(span) {
		return 1.0
	}
	v := clamp01((raw - minScore) / span)
	if gamma > 0 && gamma != 1 {
		v = math.Pow(v, gamma)
	}
	return v
}

// MinMax normalizes scores to [0,1]. When all scores are equal every entry
// becomes 1.0.
func MinMax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	for i, s := range scores {
		out[i] = NormalizeScore(s, lo, hi, 1)
	}
	return out
}

// Saturate maps an unbounded non-negative lexical score into [0,1) with
// raw / (raw + scale). Scale is the score that maps to 0.5.
func Saturate(raw, scale float64) float64 {
	if raw <= 0 || math.IsNaN(raw) {
		return 0
	}
	if scale <= 0 {
		scale = 1
	}
	if math.IsInf(raw, 1) {
		return 1
	}
	return raw / (raw + scale)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
