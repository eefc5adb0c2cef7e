// Package recognize implements the per-frame decision pipeline: nearest
// neighbor matching of face embeddings, temporal debouncing of noisy
// matches, and the blink/head-turn liveness state machine.
package recognize

import (
	"math"

	"github.com/your-org/faceroll/internal/encoding"
)

// MatchResult is the outcome of comparing one probe against the enrolled set.
// TokenNo is set iff the minimum distance is within the threshold; otherwise
// the probe is an unknown face. NoEnrolled distinguishes "nobody enrolled"
// from "nobody matched" so callers can render it differently.
type MatchResult struct {
	TokenNo    string
	Name       string
	Distance   float64
	Matched    bool
	NoEnrolled bool
}

// Matcher selects the nearest enrolled identity by Euclidean distance.
type Matcher struct {
	threshold float64
}

func NewMatcher(threshold float64) *Matcher {
	return &Matcher{threshold: threshold}
}

func (m *Matcher) Threshold() float64 { return m.threshold }

// Match finds the enrolled identity nearest to probe. Ties on the minimum
// distance go to the lowest stored index, keeping selection deterministic
// across identical inputs.
func (m *Matcher) Match(probe []float32, set *encoding.Set) MatchResult {
	if set.Empty() {
		return MatchResult{NoEnrolled: true}
	}

	bestIdx := 0
	bestDist := euclidean(probe, set.Embeddings[0])
	for i := 1; i < set.Len(); i++ {
		if d := euclidean(probe, set.Embeddings[i]); d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}

	res := MatchResult{Distance: bestDist}
	if bestDist <= m.threshold {
		res.Matched = true
		res.TokenNo = set.IDs[bestIdx]
		res.Name = set.Names[bestIdx]
	}
	return res
}

// euclidean computes the L2 distance between two embeddings. Vectors of
// unequal length compare at +Inf so a malformed probe can never match.
func euclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
