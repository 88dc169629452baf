// Package adapter rewrites a pattern's steps to fit a target capability
// tier without changing intent. Adaptation is rule-based pattern rewriting:
// each rule is a pure, deterministic function from step list to step list,
// so adapting an already-adapted pattern for the same tier is a fixed point.
package adapter

import (
	"fmt"

	"github.com/jordanhubbard/tapestry/internal/pattern"
	"github.com/jordanhubbard/tapestry/internal/profile"
)

// Options selects the adaptation target. ForceTier wins when set; otherwise
// the tier is detected from ModelID.
type Options struct {
	ForceTier profile.Tier
	ModelID   string
}

// Adapter rewrites patterns per tier
type Adapter struct {
	profiler *profile.Profiler
}

// New creates an adapter backed by the given profiler
func New(profiler *profile.Profiler) *Adapter {
	return &Adapter{profiler: profiler}
}

// Adapt returns a tier-adapted copy of the pattern. The input pattern is
// never mutated. Original metadata keys are preserved; an "adapted_for" key
// records the target. An empty pattern adapts to an equivalent empty pattern.
func (a *Adapter) Adapt(p *pattern.Pattern, opts Options) (*pattern.Pattern, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot adapt nil pattern")
	}

	tier := opts.ForceTier
	if tier == 0 {
		tier = a.profiler.DetectTier(opts.ModelID)
	}

	adapted := p.Clone()

	switch tier {
	case profile.Tier1:
		adapted.Steps = splitBatchSteps(adapted.Steps)
	case profile.Tier3:
		adapted.Steps = mergeCombinableSteps(adapted.Steps)
	}

	if adapted.Metadata == nil {
		adapted.Metadata = make(map[string]interface{})
	}
	target := opts.ModelID
	if target == "" {
		target = tier.String()
	}
	adapted.Metadata["adapted_for"] = target
	adapted.Metadata["adapted_tier"] = tier.String()

	recs := recommendationsFor(tier)
	adapted.Metadata["use_staged_context"] = recs.UseStagedContext
	adapted.Metadata["max_parallel_tools"] = recs.MaxParallelTools

	return adapted, nil
}

func recommendationsFor(t profile.Tier) profile.Recommendations {
	switch t {
	case profile.Tier1:
		return profile.Recommendations{UseStagedContext: true, MaxParallelTools: 1}
	case profile.Tier3:
		return profile.Recommendations{UseStagedContext: false, MaxParallelTools: 8}
	default:
		return profile.Recommendations{UseStagedContext: false, MaxParallelTools: 3}
	}
}

// splitBatchSteps expands every batched step into sequential single-purpose
// steps. A batched step carries a "batch" arg holding a list of argument
// maps; low-tier models handle the operations one at a time. Splitting a
// step list with no batch steps returns it unchanged, which makes the rule
// idempotent.
func splitBatchSteps(steps []pattern.Step) []pattern.Step {
	out := make([]pattern.Step, 0, len(steps))
	for _, step := range steps {
		batch, ok := batchArgs(step)
		if !ok {
			out = append(out, step)
			continue
		}
		for i, args := range batch {
			split := step
			split.Args = args
			split.OutputKey = fmt.Sprintf("%s_%d", step.ResultKey(), i)
			// Validation applies to each split operation individually
			out = append(out, split)
		}
	}
	return out
}

// batchArgs extracts the list of per-operation argument maps from a batched
// step, if it is one.
func batchArgs(step pattern.Step) ([]map[string]interface{}, bool) {
	raw, ok := step.Args["batch"]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil, false
	}
	batch := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		args, ok := item.(map[string]interface{})
		if !ok {
			return nil, false
		}
		batch = append(batch, args)
	}
	return batch, true
}

// mergeCombinableSteps collapses runs of safely-combinable consecutive steps
// into one batched step. Steps are safely combinable when they invoke the
// same tool, declare no bindings or validation, and are not already batched:
// with no data dependencies between them a capable model can run the
// operations in one shot. A merged run becomes a single batch step, so a
// second merge pass finds nothing to combine.
func mergeCombinableSteps(steps []pattern.Step) []pattern.Step {
	out := make([]pattern.Step, 0, len(steps))
	i := 0
	for i < len(steps) {
		run := []pattern.Step{steps[i]}
		for j := i + 1; j < len(steps) && combinable(steps[i], steps[j]); j++ {
			run = append(run, steps[j])
		}

		if len(run) < 2 {
			out = append(out, steps[i])
			i++
			continue
		}

		batch := make([]interface{}, 0, len(run))
		for _, s := range run {
			args := s.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			batch = append(batch, args)
		}
		merged := pattern.Step{
			Tool:      run[0].Tool,
			Args:      map[string]interface{}{"batch": batch},
			OutputKey: run[0].ResultKey(),
		}
		out = append(out, merged)
		i += len(run)
	}
	return out
}

func combinable(a, b pattern.Step) bool {
	if a.Tool != b.Tool {
		return false
	}
	if len(a.Bindings) > 0 || len(b.Bindings) > 0 {
		return false
	}
	if a.Validation != nil || b.Validation != nil {
		return false
	}
	if _, batched := a.Args["batch"]; batched {
		return false
	}
	if _, batched := b.Args["batch"]; batched {
		return false
	}
	return true
}
