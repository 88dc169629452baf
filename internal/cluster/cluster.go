// Package cluster computes structural distance between step sequences.
// It backs both deduplication of mined pattern candidates and fuzzy-matching
// of a live tool-call sequence against the registry. All functions are pure
// and safe for concurrent use.
package cluster

import (
	"github.com/jordanhubbard/tapestry/internal/pattern"
)

// Match is the result of a successful similarity search
type Match struct {
	Pattern  *pattern.Pattern
	Distance float64
}

// Distance returns the structural distance between two step sequences in
// [0, 1]. Zero means structurally identical; one means nothing aligns.
// Comparison is order-sensitive: step i of a is compared with step i of b,
// and length mismatch counts fully against the score.
func Distance(a, b []pattern.Step) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 1.0
	}

	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}

	total := 0.0
	for i := 0; i < shorter; i++ {
		total += stepDistance(a[i], b[i])
	}
	// Unmatched tail steps are maximally distant
	total += float64(longer - shorter)

	return total / float64(longer)
}

// stepDistance compares two aligned steps. Different tools are maximally
// distant; the same tool is discounted by how much the argument key sets
// overlap.
func stepDistance(a, b pattern.Step) float64 {
	if a.Tool != b.Tool {
		return 1.0
	}
	// Same tool: half the weight rides on argument shape
	return 0.5 * (1.0 - keyOverlap(argKeys(a), argKeys(b)))
}

// argKeys collects the argument names a step will be invoked with, from both
// literal args and declared bindings.
func argKeys(s pattern.Step) map[string]struct{} {
	keys := make(map[string]struct{}, len(s.Args)+len(s.Bindings))
	for k := range s.Args {
		keys[k] = struct{}{}
	}
	for _, b := range s.Bindings {
		keys[b.Name] = struct{}{}
	}
	return keys
}

// keyOverlap is the Jaccard index of two key sets. Two empty sets are
// considered fully overlapping.
func keyOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

// FindSimilar returns the minimum-distance candidate at or below threshold,
// or ok=false when no candidate qualifies or the candidate list is empty.
func FindSimilar(steps []pattern.Step, candidates []*pattern.Pattern, threshold float64) (Match, bool) {
	best := Match{Distance: 2.0}
	for _, cand := range candidates {
		if cand == nil {
			continue
		}
		d := Distance(steps, cand.Steps)
		if d < best.Distance {
			best = Match{Pattern: cand, Distance: d}
		}
	}
	if best.Pattern == nil || best.Distance > threshold {
		return Match{}, false
	}
	return best, true
}
