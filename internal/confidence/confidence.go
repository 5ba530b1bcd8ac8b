// Package confidence scores how safe an automatically generated answer is to
// send without human review.
package confidence

import (
	"math"
	"unicode/utf8"
)

const (
	// DefaultThreshold is the score below which a reply is escalated.
	DefaultThreshold = 0.65
	// citationBonus is added when the answer cites at least one chunk.
	citationBonus = 0.1
	// lengthScale is the rune count at which the length term reaches 1-1/e.
	lengthScale = 100.0
)

// Score returns 1-e^(-runes/100), plus a bonus when citations is non-zero,
// clamped to [0,1]. Very short answers score low.
func Score(text string, citations int) float64 {
	n := float64(utf8.RuneCountInString(text))
	s := 1 - math.Exp(-n/lengthScale)
	if citations > 0 {
		s += citationBonus
	}
	return clamp(s)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Evaluator applies a fixed threshold to scores.
type Evaluator struct {
	Threshold float64
}

// NewEvaluator returns an Evaluator using threshold, or DefaultThreshold
// when threshold is outside [0,1].
func NewEvaluator(threshold float64) *Evaluator {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		threshold = DefaultThreshold
	}
	return &Evaluator{Threshold: threshold}
}

// Escalate reports whether score is too low to send unsupervised.
func (e *Evaluator) Escalate(score float64) bool {
	return score < e.Threshold
}
