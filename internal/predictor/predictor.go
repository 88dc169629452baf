// Package predictor matches a free-form task description to a registered
// workflow pattern. Prediction is side-effect-free apart from reading the
// registry and the learned affinity table: the same registry and affinity
// state always yields the same prediction for the same arguments.
package predictor

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jordanhubbard/tapestry/internal/pattern"
)

// Outcome is the kind of prediction returned
type Outcome string

const (
	OutcomeMatched Outcome = "matched" // Confident single match
	OutcomeSuggest Outcome = "suggest" // Plausible shortlist, caller decides
	OutcomeManual  Outcome = "manual"  // No automation offered
)

// Candidate is one scored pattern in a suggestion shortlist
type Candidate struct {
	Pattern    *pattern.Pattern `json:"pattern"`
	Confidence float64          `json:"confidence"`
}

// Prediction is the result of matching a task against the registry
type Prediction struct {
	Outcome    Outcome                `json:"outcome"`
	Pattern    *pattern.Pattern       `json:"pattern,omitempty"`
	Candidates []Candidate            `json:"candidates,omitempty"`
	Confidence float64                `json:"confidence"`
	Bindings   map[string]interface{} `json:"bindings,omitempty"`
	Category   pattern.Category       `json:"category"`
}

// Context carries ambient information about the calling agent. A nil
// context is valid and simply yields an unbiased prediction.
type Context struct {
	ModelID string
	Input   map[string]interface{}
}

// AffinitySource exposes the learned (pattern, model) bias consulted as a
// tie-breaker. Scores are in [-1, 1]; unknown pairs return 0.
type AffinitySource interface {
	Affinity(patternName, modelID string) float64
}

// Config tunes the confidence thresholds
type Config struct {
	ConfidentThreshold float64 // At or above: matched
	PlausibleThreshold float64 // At or above: suggest
	MaxCandidates      int     // Shortlist size for suggestions
}

// DefaultConfig returns the prediction defaults
func DefaultConfig() Config {
	return Config{
		ConfidentThreshold: 0.6,
		PlausibleThreshold: 0.35,
		MaxCandidates:      3,
	}
}

// Predictor ranks registry patterns against task text
type Predictor struct {
	registry *pattern.Registry
	affinity AffinitySource
	config   Config
}

// New creates a predictor. The affinity source may be nil, in which case no
// learned bias is applied.
func New(registry *pattern.Registry, affinity AffinitySource, config Config) *Predictor {
	if config.ConfidentThreshold <= 0 {
		config = DefaultConfig()
	}
	return &Predictor{registry: registry, affinity: affinity, config: config}
}

// Predict matches a task description against the registry. Empty task text
// and nil context are valid and yield low-confidence results, never errors.
func (p *Predictor) Predict(taskText string, ctx *Context) (Prediction, error) {
	category := ClassifyTask(taskText)

	patterns, err := p.registry.List()
	if err != nil {
		return Prediction{}, err
	}
	if len(patterns) == 0 {
		return Prediction{Outcome: OutcomeManual, Category: category}, nil
	}

	// Category shortlist first; fall back to the full registry when the
	// category has no patterns
	shortlist := make([]*pattern.Pattern, 0, len(patterns))
	for _, cand := range patterns {
		if cand.Category == category {
			shortlist = append(shortlist, cand)
		}
	}
	if len(shortlist) == 0 {
		shortlist = patterns
	}

	modelID := ""
	if ctx != nil {
		modelID = ctx.ModelID
	}

	taskTokens := tokenize(taskText)
	scored := make([]Candidate, 0, len(shortlist))
	for _, cand := range shortlist {
		scored = append(scored, Candidate{
			Pattern:    cand,
			Confidence: p.score(cand, taskTokens, category, modelID),
		})
	}

	// Deterministic ranking: score descending, name as tie-breaker
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Confidence != scored[j].Confidence {
			return scored[i].Confidence > scored[j].Confidence
		}
		return scored[i].Pattern.Name < scored[j].Pattern.Name
	})

	top := scored[0]
	switch {
	case top.Confidence >= p.config.ConfidentThreshold:
		return Prediction{
			Outcome:    OutcomeMatched,
			Pattern:    top.Pattern,
			Confidence: top.Confidence,
			Bindings:   ExtractBindings(taskText),
			Category:   category,
		}, nil
	case top.Confidence >= p.config.PlausibleThreshold:
		limit := p.config.MaxCandidates
		if limit <= 0 || limit > len(scored) {
			limit = len(scored)
		}
		return Prediction{
			Outcome:    OutcomeSuggest,
			Candidates: scored[:limit],
			Confidence: top.Confidence,
			Bindings:   ExtractBindings(taskText),
			Category:   category,
		}, nil
	default:
		return Prediction{Outcome: OutcomeManual, Confidence: top.Confidence, Category: category}, nil
	}
}

// score combines content overlap, category fit, pattern track record, and
// learned affinity into a single confidence in [0, 1].
func (p *Predictor) score(cand *pattern.Pattern, taskTokens []string, category pattern.Category, modelID string) float64 {
	vocab := patternVocabulary(cand)

	overlap := 0.0
	if len(taskTokens) > 0 {
		hits := 0
		for _, tok := range taskTokens {
			if _, ok := vocab[tok]; ok {
				hits++
			}
		}
		overlap = float64(hits) / float64(len(taskTokens))
	}

	score := 0.5 * overlap
	if cand.Category == category && category != pattern.CategoryGeneral {
		score += 0.3
	}
	score += 0.1 * clamp01(cand.Strength)
	score += 0.1 * clamp01(cand.SuccessRate)

	if p.affinity != nil && modelID != "" {
		// Affinity is in [-1, 1] and acts as a bounded bias
		score += 0.15 * p.affinity.Affinity(cand.Name, modelID)
	}

	return clamp01(score)
}

// patternVocabulary collects the searchable tokens of a pattern: its name,
// description, metadata keywords, and the tools it invokes.
func patternVocabulary(p *pattern.Pattern) map[string]struct{} {
	vocab := make(map[string]struct{})
	add := func(text string) {
		for _, tok := range tokenize(text) {
			vocab[tok] = struct{}{}
		}
	}
	add(p.Name)
	add(p.Description)
	if kw, ok := p.Metadata["keywords"].(string); ok {
		add(kw)
	}
	for _, s := range p.Steps {
		add(s.Tool)
	}
	return vocab
}

var categoryKeywords = []struct {
	category pattern.Category
	keywords []string
}{
	{pattern.CategoryDebugging, []string{"fix", "bug", "error", "crash", "broken", "debug", "failure", "defect", "regression", "stacktrace"}},
	{pattern.CategoryTesting, []string{"test", "tests", "spec", "coverage", "assert", "flaky", "suite"}},
	{pattern.CategoryFileEditing, []string{"edit", "change", "modify", "update", "rename", "refactor", "replace", "write"}},
	{pattern.CategoryCodeNavigation, []string{"find", "where", "locate", "callers", "references", "definition", "usage", "navigate"}},
	{pattern.CategoryContextGathering, []string{"context", "understand", "explain", "research", "overview", "background", "summarize", "learn"}},
}

// ClassifyTask maps task text onto a coarse category via keyword votes.
// Unclassifiable text (including empty text) is CategoryGeneral.
func ClassifyTask(taskText string) pattern.Category {
	tokens := tokenize(taskText)
	if len(tokens) == 0 {
		return pattern.CategoryGeneral
	}
	present := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		present[tok] = struct{}{}
	}

	best := pattern.CategoryGeneral
	bestVotes := 0
	for _, ck := range categoryKeywords {
		votes := 0
		for _, kw := range ck.keywords {
			if _, ok := present[kw]; ok {
				votes++
			}
		}
		if votes > bestVotes {
			bestVotes = votes
			best = ck.category
		}
	}
	return best
}

var (
	pathRe = regexp.MustCompile(`[\w./-]+\.[A-Za-z]{1,5}\b`)
	lineRe = regexp.MustCompile(`\bline\s+(\d+)`)
)

// ExtractBindings pulls obvious task-level inputs out of the task text so a
// matched pattern can execute without the caller restating them.
func ExtractBindings(taskText string) map[string]interface{} {
	bindings := map[string]interface{}{"task": taskText}

	if m := pathRe.FindString(taskText); m != "" {
		bindings["path"] = m
	}
	if m := lineRe.FindStringSubmatch(strings.ToLower(taskText)); len(m) == 2 {
		if n, err := strconv.Atoi(m[1]); err == nil {
			bindings["line"] = n
		}
	}
	return bindings
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "in": {}, "on": {}, "at": {}, "to": {},
	"of": {}, "and": {}, "or": {}, "is": {}, "it": {}, "this": {}, "that": {},
	"for": {}, "with": {}, "my": {}, "me": {}, "please": {},
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '_' || r == '.' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "._-")
		if f == "" {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
