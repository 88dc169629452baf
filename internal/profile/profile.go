// Package profile classifies caller model identifiers into capability tiers.
// Detection is a pure function of the identifier plus a small static table of
// known-model overrides; results are cached per identifier.
package profile

import (
	"strings"
	"sync"
)

// Tier is a discrete capability class assigned to a calling model
type Tier int

const (
	Tier1 Tier = 1 // Small/fast models: staged context, minimal parallelism
	Tier2 Tier = 2 // Mid models and the default for unknown identifiers
	Tier3 Tier = 3 // Frontier models: full context, high parallelism
)

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes tiers as their names, so API payloads say "tier1"
// rather than a bare number.
func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// Capabilities scores a model across the dimensions the adapter cares about.
// All values are clamped to [0, 1].
type Capabilities struct {
	Reasoning       float64 `json:"reasoning"`
	Coding          float64 `json:"coding"`
	Analysis        float64 `json:"analysis"`
	Synthesis       float64 `json:"synthesis"`
	ToolUse         float64 `json:"tool_use"`
	ContextHandling float64 `json:"context_handling"`
}

// Recommendations tells the caller how to drive workflows for a model
type Recommendations struct {
	UseStagedContext bool `json:"use_staged_context"`
	MaxParallelTools int  `json:"max_parallel_tools"`
}

// Profile is the full capability record for a model identifier
type Profile struct {
	ModelID         string          `json:"model_id"`
	Tier            Tier            `json:"tier"`
	Capabilities    Capabilities    `json:"capabilities"`
	Constraints     []string        `json:"constraints,omitempty"`
	Recommendations Recommendations `json:"workflow_recommendations"`
}

// Profiler detects tiers and capabilities for caller model identifiers
type Profiler struct {
	overrides map[string]Profile
	cache     sync.Map // model id -> Profile
}

// NewProfiler creates a profiler with the built-in override table
func NewProfiler() *Profiler {
	return &Profiler{overrides: knownModels()}
}

// knownModels is the static override table for identifiers whose substring
// heuristics would otherwise misclassify them.
func knownModels() map[string]Profile {
	return map[string]Profile{
		"gpt-4o-mini": {
			Tier: Tier1,
			Capabilities: Capabilities{
				Reasoning: 0.5, Coding: 0.5, Analysis: 0.5,
				Synthesis: 0.5, ToolUse: 0.6, ContextHandling: 0.6,
			},
			Constraints: []string{"limited_multi_step_reasoning"},
		},
		"o3": {
			Tier: Tier3,
			Capabilities: Capabilities{
				Reasoning: 0.95, Coding: 0.9, Analysis: 0.95,
				Synthesis: 0.9, ToolUse: 0.85, ContextHandling: 0.85,
			},
		},
	}
}

// DetectTier classifies a model identifier into a tier. It never fails:
// unknown, empty, or malformed identifiers default to Tier2.
func (p *Profiler) DetectTier(modelID string) Tier {
	return p.Get(modelID).Tier
}

// Capabilities returns the capability map for a model, all values in [0, 1]
func (p *Profiler) Capabilities(modelID string) Capabilities {
	return p.Get(modelID).Capabilities
}

// Recommendations returns workflow recommendations for a model. Lower tiers
// get staged context injection and a lower parallel-tool ceiling.
func (p *Profiler) Recommendations(modelID string) Recommendations {
	return p.Get(modelID).Recommendations
}

// Get returns the full cached profile for a model identifier
func (p *Profiler) Get(modelID string) Profile {
	if cached, ok := p.cache.Load(modelID); ok {
		return cached.(Profile)
	}

	prof := p.classify(modelID)
	prof.ModelID = modelID
	prof.Capabilities = clampCapabilities(prof.Capabilities)
	prof.Recommendations = recommendationsForTier(prof.Tier)

	p.cache.Store(modelID, prof)
	return prof
}

func (p *Profiler) classify(modelID string) Profile {
	id := strings.ToLower(strings.TrimSpace(modelID))

	if override, ok := p.overrides[id]; ok {
		return override
	}

	switch {
	case id == "":
		return tierProfile(Tier2)
	case containsAny(id, "opus", "gpt-5", "gpt-4.1", "gpt-4o", "o1", "sonnet", "gemini-ultra", "gemini-2", "405b", "70b", "72b"):
		return tierProfile(Tier3)
	case containsAny(id, "haiku", "mini", "nano", "tiny", "phi", "gemma", "1b", "3b", "7b", "8b"):
		return tierProfile(Tier1)
	case containsAny(id, "gpt-4", "gpt-3.5", "mistral", "mixtral", "llama", "qwen", "deepseek", "13b", "32b", "34b"):
		return tierProfile(Tier2)
	default:
		return tierProfile(Tier2)
	}
}

func tierProfile(t Tier) Profile {
	switch t {
	case Tier1:
		return Profile{
			Tier: Tier1,
			Capabilities: Capabilities{
				Reasoning: 0.4, Coding: 0.4, Analysis: 0.45,
				Synthesis: 0.4, ToolUse: 0.5, ContextHandling: 0.45,
			},
			Constraints: []string{"limited_multi_step_reasoning", "small_context_window"},
		}
	case Tier3:
		return Profile{
			Tier: Tier3,
			Capabilities: Capabilities{
				Reasoning: 0.9, Coding: 0.9, Analysis: 0.9,
				Synthesis: 0.85, ToolUse: 0.9, ContextHandling: 0.9,
			},
		}
	default:
		return Profile{
			Tier: Tier2,
			Capabilities: Capabilities{
				Reasoning: 0.65, Coding: 0.65, Analysis: 0.65,
				Synthesis: 0.6, ToolUse: 0.7, ContextHandling: 0.65,
			},
		}
	}
}

func recommendationsForTier(t Tier) Recommendations {
	switch t {
	case Tier1:
		return Recommendations{UseStagedContext: true, MaxParallelTools: 1}
	case Tier3:
		return Recommendations{UseStagedContext: false, MaxParallelTools: 8}
	default:
		return Recommendations{UseStagedContext: false, MaxParallelTools: 3}
	}
}

func clampCapabilities(c Capabilities) Capabilities {
	c.Reasoning = clamp01(c.Reasoning)
	c.Coding = clamp01(c.Coding)
	c.Analysis = clamp01(c.Analysis)
	c.Synthesis = clamp01(c.Synthesis)
	c.ToolUse = clamp01(c.ToolUse)
	c.ContextHandling = clamp01(c.ContextHandling)
	return c
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

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
