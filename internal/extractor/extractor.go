// Package extractor mines a log of past tool calls for repeated step
// sequences and proposes them to the registry as candidate patterns.
// Candidates are deduplicated against existing patterns through the
// clusterer: a near-duplicate strengthens the existing pattern instead of
// creating a new one.
package extractor

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jordanhubbard/tapestry/internal/cluster"
	"github.com/jordanhubbard/tapestry/internal/pattern"
)

// ToolCall is one entry in the historical tool-call log
type ToolCall struct {
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Config tunes the mining pass
type Config struct {
	MinSequenceLen int     // Shortest subsequence worth proposing
	MaxSequenceLen int     // Longest subsequence considered
	MinOccurrences int     // Occurrences required before proposing
	DedupThreshold float64 // Cluster distance below which a candidate merges into an existing pattern
}

// DefaultConfig returns the mining defaults
func DefaultConfig() Config {
	return Config{
		MinSequenceLen: 2,
		MaxSequenceLen: 5,
		MinOccurrences: 3,
		DedupThreshold: 0.25,
	}
}

// Extractor mines tool-call logs into registry patterns
type Extractor struct {
	registry *pattern.Registry
	config   Config
}

// New creates an extractor writing through the given registry
func New(registry *pattern.Registry, config Config) *Extractor {
	if config.MinSequenceLen < 2 {
		config.MinSequenceLen = 2
	}
	if config.MaxSequenceLen < config.MinSequenceLen {
		config.MaxSequenceLen = config.MinSequenceLen
	}
	if config.MinOccurrences < 2 {
		config.MinOccurrences = 2
	}
	if config.DedupThreshold <= 0 {
		config.DedupThreshold = 0.25
	}
	return &Extractor{registry: registry, config: config}
}

// candidate is a repeated subsequence found during mining
type candidate struct {
	steps       []pattern.Step
	occurrences int
	firstSeen   time.Time
}

// Mine scans a finite, ordered tool-call log and registers or strengthens
// patterns for every repeated contiguous subsequence above the occurrence
// threshold. Returns the patterns that were newly created.
func (e *Extractor) Mine(calls []ToolCall) ([]*pattern.Pattern, error) {
	candidates := e.collectCandidates(calls)
	if len(candidates) == 0 {
		return nil, nil
	}

	existing, err := e.registry.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list registry: %w", err)
	}

	var created []*pattern.Pattern
	for _, cand := range candidates {
		strength := observationStrength(cand.occurrences)

		if match, ok := cluster.FindSimilar(cand.steps, existing, e.config.DedupThreshold); ok {
			// Near-duplicate of a known pattern: strengthen it instead
			if err := e.registry.RecordObservation(match.Pattern.Name, strength); err != nil {
				log.Printf("[Extractor] Warning: failed to strengthen %s: %v", match.Pattern.Name, err)
			}
			continue
		}

		p := &pattern.Pattern{
			Name:        candidateName(cand.steps),
			Description: fmt.Sprintf("Mined from %d repeated occurrences in the tool-call log", cand.occurrences),
			Category:    pattern.CategoryGeneral,
			Steps:       cand.steps,
			Metadata: map[string]interface{}{
				"mined":      true,
				"first_seen": cand.firstSeen.Format(time.RFC3339),
			},
			Occurrences: cand.occurrences,
			Strength:    strength,
		}

		stored, err := e.registry.Save(p)
		if err != nil {
			log.Printf("[Extractor] Warning: failed to save candidate %s: %v", p.Name, err)
			continue
		}
		created = append(created, stored)
		existing = append(existing, stored)
	}

	if len(created) > 0 {
		log.Printf("[Extractor] Mined %d new patterns from %d tool calls", len(created), len(calls))
	}
	return created, nil
}

// collectCandidates counts every contiguous subsequence in the configured
// length range and keeps those above the occurrence threshold. Longer
// sequences are preferred: a shorter candidate wholly contained in an
// accepted longer one is discarded.
func (e *Extractor) collectCandidates(calls []ToolCall) []candidate {
	var accepted []candidate

	for n := e.config.MaxSequenceLen; n >= e.config.MinSequenceLen; n-- {
		counts := make(map[string]*candidate)
		lastEnd := make(map[string]int)
		var order []string

		for i := 0; i+n <= len(calls); i++ {
			window := calls[i : i+n]
			sig := signature(window)
			if c, ok := counts[sig]; ok {
				// A window overlapping the previous match of the same
				// signature is the same run of calls, not a repeat: a burst
				// of one tool must not count itself into a pattern
				if i < lastEnd[sig] {
					continue
				}
				c.occurrences++
				lastEnd[sig] = i + n
				continue
			}
			counts[sig] = &candidate{
				steps:       toSteps(window),
				occurrences: 1,
				firstSeen:   window[0].Timestamp,
			}
			lastEnd[sig] = i + n
			order = append(order, sig)
		}

		for _, sig := range order {
			c := counts[sig]
			if c.occurrences < e.config.MinOccurrences {
				continue
			}
			if containedInAccepted(c.steps, accepted) {
				continue
			}
			accepted = append(accepted, *c)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].occurrences > accepted[j].occurrences
	})
	return accepted
}

// containedInAccepted reports whether steps appear as a contiguous
// subsequence of an already-accepted (longer) candidate.
func containedInAccepted(steps []pattern.Step, accepted []candidate) bool {
	for _, a := range accepted {
		if len(a.steps) <= len(steps) {
			continue
		}
		for i := 0; i+len(steps) <= len(a.steps); i++ {
			if cluster.Distance(steps, a.steps[i:i+len(steps)]) == 0.0 {
				return true
			}
		}
	}
	return false
}

// toSteps converts a log window into pattern steps, carrying the argument
// shape of the first occurrence.
func toSteps(window []ToolCall) []pattern.Step {
	steps := make([]pattern.Step, len(window))
	for i, call := range window {
		steps[i] = pattern.Step{Tool: call.Tool, Args: call.Args}
	}
	return steps
}

// signature identifies a subsequence by tool order and argument key shape,
// ignoring argument values.
func signature(window []ToolCall) string {
	var b strings.Builder
	for _, call := range window {
		b.WriteString(call.Tool)
		b.WriteByte('(')
		keys := make([]string, 0, len(call.Args))
		for k := range call.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(strings.Join(keys, ","))
		b.WriteString(");")
	}
	return b.String()
}

// candidateName derives a stable registry name from the step tools
func candidateName(steps []pattern.Step) string {
	tools := make([]string, len(steps))
	for i, s := range steps {
		tools[i] = strings.ReplaceAll(s.Tool, "_", "-")
	}
	return "mined-" + strings.Join(tools, "-")
}

func observationStrength(occurrences int) float64 {
	// Saturating: 3 occurrences ~0.3, 10+ approaches 1.0
	s := float64(occurrences) / 10.0
	if s > 1.0 {
		s = 1.0
	}
	return s
}
