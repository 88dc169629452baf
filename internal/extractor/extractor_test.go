package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/tapestry/internal/pattern"
)

func call(tool string, argKeys ...string) ToolCall {
	args := make(map[string]interface{})
	for _, k := range argKeys {
		args[k] = "v"
	}
	return ToolCall{Tool: tool, Args: args, Timestamp: time.Now()}
}

// repeat builds a log that contains the given sequence n times, separated by
// noise calls so subsequence windows don't bleed into each other.
func repeat(n int, seq ...ToolCall) []ToolCall {
	var out []ToolCall
	for i := 0; i < n; i++ {
		out = append(out, seq...)
		out = append(out, call("noise_"+string(rune('a'+i))))
	}
	return out
}

func TestMineFindsRepeatedSequence(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	e := New(registry, DefaultConfig())

	log := repeat(4, call("grep", "pattern"), call("file_read", "path"))

	created, err := e.Mine(log)
	require.NoError(t, err)
	require.Len(t, created, 1)

	p := created[0]
	assert.Equal(t, "mined-grep-file-read", p.Name)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "grep", p.Steps[0].Tool)
	assert.Equal(t, "file_read", p.Steps[1].Tool)
	assert.Equal(t, 4, p.Occurrences)
	assert.True(t, p.Metadata["mined"].(bool))
}

func TestMineBelowThresholdProposesNothing(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	e := New(registry, DefaultConfig())

	log := repeat(2, call("grep", "pattern"), call("file_read", "path"))

	created, err := e.Mine(log)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMineIgnoresSelfOverlappingRuns(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	e := New(registry, DefaultConfig())

	// Four back-to-back terminal calls form three overlapping 2-windows of
	// the same signature, but the burst only repeats once
	log := []ToolCall{
		call("terminal", "command"),
		call("terminal", "command"),
		call("terminal", "command"),
		call("terminal", "command"),
	}

	created, err := e.Mine(log)
	require.NoError(t, err)
	assert.Empty(t, created, "a single burst of one tool is not a repeated sequence")
}

func TestMineCountsDisjointRunsOfOneTool(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	e := New(registry, DefaultConfig())

	// Three separated double-calls are genuine repeats
	var log []ToolCall
	for i := 0; i < 3; i++ {
		log = append(log,
			call("terminal", "command"),
			call("terminal", "command"),
			call("noise_"+string(rune('a'+i))),
		)
	}

	created, err := e.Mine(log)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, 3, created[0].Occurrences)
}

func TestMineEmptyLog(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	e := New(registry, DefaultConfig())

	created, err := e.Mine(nil)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMineDedupesAgainstRegistry(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	_, err := registry.Save(&pattern.Pattern{
		Name: "existing",
		Steps: []pattern.Step{
			{Tool: "grep", Args: map[string]interface{}{"pattern": "x"}},
			{Tool: "file_read", Args: map[string]interface{}{"path": "y"}},
		},
		Strength: 0.5,
	})
	require.NoError(t, err)

	e := New(registry, DefaultConfig())
	log := repeat(5, call("grep", "pattern"), call("file_read", "path"))

	created, err := e.Mine(log)
	require.NoError(t, err)
	assert.Empty(t, created, "near-duplicate should merge, not duplicate")

	existing, err := registry.Get("existing")
	require.NoError(t, err)
	assert.Equal(t, 1, existing.Occurrences, "observation should increment occurrences")
}

func TestMinePrefersLongerSequences(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	e := New(registry, DefaultConfig())

	log := repeat(4,
		call("memory_search", "query"),
		call("grep", "pattern"),
		call("file_read", "path"),
	)

	created, err := e.Mine(log)
	require.NoError(t, err)
	require.Len(t, created, 1, "contained 2-step subsequences should be absorbed by the 3-step one")
	assert.Len(t, created[0].Steps, 3)
}

func TestConfigNormalization(t *testing.T) {
	registry := pattern.NewRegistry(pattern.NewMemoryStore())
	e := New(registry, Config{MinSequenceLen: 0, MaxSequenceLen: 0, MinOccurrences: 0})

	assert.GreaterOrEqual(t, e.config.MinSequenceLen, 2)
	assert.GreaterOrEqual(t, e.config.MaxSequenceLen, e.config.MinSequenceLen)
	assert.GreaterOrEqual(t, e.config.MinOccurrences, 2)
	assert.Greater(t, e.config.DedupThreshold, 0.0)
}
