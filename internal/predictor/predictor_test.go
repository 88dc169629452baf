package predictor

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/tapestry/internal/pattern"
)

func seededRegistry(t *testing.T) *pattern.Registry {
	t.Helper()
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	require.NoError(t, registry.SeedBuiltin())
	return registry
}

type fakeAffinity map[string]float64

func (f fakeAffinity) Affinity(patternName, modelID string) float64 {
	return f[patternName+"|"+modelID]
}

func TestPredictEmptyRegistry(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	p := New(registry, nil, DefaultConfig())

	pred, err := p.Predict("Fix the bug in auth.ex line 42", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeManual, pred.Outcome)
	assert.Nil(t, pred.Pattern)
}

func TestPredictMatchesDebuggingTask(t *testing.T) {
	p := New(seededRegistry(t), nil, DefaultConfig())

	pred, err := p.Predict("Fix the bug in auth.ex line 42", nil)
	require.NoError(t, err)

	require.Equal(t, OutcomeMatched, pred.Outcome)
	require.NotNil(t, pred.Pattern)
	assert.Equal(t, "investigate-and-fix", pred.Pattern.Name)
	assert.Equal(t, pattern.CategoryDebugging, pred.Category)
	assert.GreaterOrEqual(t, pred.Confidence, 0.6)

	assert.Equal(t, "auth.ex", pred.Bindings["path"])
	assert.Equal(t, 42, pred.Bindings["line"])
	assert.Equal(t, "Fix the bug in auth.ex line 42", pred.Bindings["task"])
}

func TestPredictEmptyTask(t *testing.T) {
	p := New(seededRegistry(t), nil, DefaultConfig())

	pred, err := p.Predict("", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeManual, pred.Outcome)
	assert.Equal(t, pattern.CategoryGeneral, pred.Category)
}

func TestPredictUnrelatedTaskIsManual(t *testing.T) {
	p := New(seededRegistry(t), nil, DefaultConfig())

	pred, err := p.Predict("compose a haiku about spring", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeManual, pred.Outcome)
}

func TestPredictSuggestsWhenOnlyCategoryFits(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	_, err := registry.Save(&pattern.Pattern{
		Name:        "triage",
		Category:    pattern.CategoryDebugging,
		Steps:       []pattern.Step{{Tool: "terminal"}},
		Strength:    0.6,
		SuccessRate: 0.4,
	})
	require.NoError(t, err)

	p := New(registry, nil, DefaultConfig())

	// Category matches but the pattern's own text shares nothing with the
	// task, so confidence lands between the two thresholds
	pred, err := p.Predict("crash somewhere deep", nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuggest, pred.Outcome)
	require.Len(t, pred.Candidates, 1)
	assert.Equal(t, "triage", pred.Candidates[0].Pattern.Name)
}

func TestPredictAffinityBiasReordersCandidates(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	for _, name := range []string{"alpha", "beta"} {
		_, err := registry.Save(&pattern.Pattern{
			Name:     name,
			Category: pattern.CategoryDebugging,
			Steps:    []pattern.Step{{Tool: "terminal"}},
		})
		require.NoError(t, err)
	}

	affinity := fakeAffinity{"beta|claude-haiku-3": 1.0}
	p := New(registry, affinity, DefaultConfig())
	ctx := &Context{ModelID: "claude-haiku-3"}

	pred, err := p.Predict("fix the crash", ctx)
	require.NoError(t, err)

	require.Equal(t, OutcomeSuggest, pred.Outcome)
	require.NotEmpty(t, pred.Candidates)
	assert.Equal(t, "beta", pred.Candidates[0].Pattern.Name,
		"learned affinity should outrank the alphabetical tie-break")
}

func TestPredictDeterministic(t *testing.T) {
	p := New(seededRegistry(t), nil, DefaultConfig())

	first, err := p.Predict("run the failing tests", nil)
	require.NoError(t, err)
	second, err := p.Predict("run the failing tests", nil)
	require.NoError(t, err)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("prediction not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestClassifyTask(t *testing.T) {
	cases := []struct {
		task string
		want pattern.Category
	}{
		{"Fix the bug in auth.ex line 42", pattern.CategoryDebugging},
		{"run the test suite and check coverage", pattern.CategoryTesting},
		{"rename the helper and update its callers", pattern.CategoryFileEditing},
		{"where is the session handler defined", pattern.CategoryCodeNavigation},
		{"give me an overview of the billing module", pattern.CategoryContextGathering},
		{"hello there", pattern.CategoryGeneral},
		{"", pattern.CategoryGeneral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyTask(tc.task), "task: %q", tc.task)
	}
}

func TestExtractBindings(t *testing.T) {
	b := ExtractBindings("Fix the bug in lib/auth.ex line 42")
	assert.Equal(t, "lib/auth.ex", b["path"])
	assert.Equal(t, 42, b["line"])

	b = ExtractBindings("no file mentioned here")
	_, hasPath := b["path"]
	assert.False(t, hasPath)
	_, hasLine := b["line"]
	assert.False(t, hasLine)
}
