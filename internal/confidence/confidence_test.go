package confidence

import (
	"math"
	"strings"
	"testing"
)

func TestScore_Bounds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		text      string
		citations int
		want      float64
	}{
		{name: "empty", text: "", citations: 0, want: 0},
		{name: "empty with citation", text: "", citations: 1, want: 0.1},
		{name: "saturated with citation clamps", text: strings.Repeat("x", 5000), citations: 3, want: 1},
		{name: "hundred runes", text: strings.Repeat("я", 100), citations: 0, want: 1 - math.Exp(-1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Score(tc.text, tc.citations)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Score = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScore_MonotoneInLength(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("answer ", 60)
	for _, cites := range []int{0, 1} {
		prev := -1.0
		for i := 0; i <= len(long); i += 7 {
			s := Score(long[:i], cites)
			if s < prev {
				t.Fatalf("citations=%d: score decreased at prefix %d: %v < %v", cites, i, s, prev)
			}
			if s < 0 || s > 1 {
				t.Fatalf("score out of range: %v", s)
			}
			prev = s
		}
	}
}

func TestScore_CitationStrictlyHigher(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"", "ok", strings.Repeat("w", 150)} {
		if Score(text, 1) <= Score(text, 0) {
			t.Errorf("text len %d: citation did not raise the score", len(text))
		}
	}
}

func TestEvaluator_Escalate(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(0.65)
	if !e.Escalate(0.2) {
		t.Error("0.2 should escalate")
	}
	if e.Escalate(0.9) {
		t.Error("0.9 should not escalate")
	}
	if e.Escalate(0.65) {
		t.Error("score equal to threshold should not escalate")
	}
	if got := NewEvaluator(3).Threshold; got != DefaultThreshold {
		t.Errorf("out-of-range threshold: want default, got %v", got)
	}
}
