package pattern

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies what kind of task a pattern automates
type Category string

const (
	CategoryDebugging        Category = "debugging"
	CategoryCodeNavigation   Category = "code_navigation"
	CategoryFileEditing      Category = "file_editing"
	CategoryContextGathering Category = "context_gathering"
	CategoryTesting          Category = "testing"
	CategoryGeneral          Category = "general"
)

// BindingSource identifies where a binding value comes from
type BindingSource string

const (
	SourceInput   BindingSource = "input"   // Caller-supplied task input
	SourceStep    BindingSource = "step"    // A prior step's result
	SourceContext BindingSource = "context" // Global execution context
	SourceLiteral BindingSource = "literal" // Static value carried in the binding
)

// Binding declares a data dependency that fills a step argument
// from caller input or from a prior step's result.
type Binding struct {
	Name     string        `json:"name" yaml:"name"`
	Source   BindingSource `json:"source" yaml:"source"`
	Path     string        `json:"path" yaml:"path"` // Dot path, e.g. "step_0.result.path"
	Required bool          `json:"required" yaml:"required"`
	Value    interface{}   `json:"value,omitempty" yaml:"value,omitempty"` // For literal bindings
}

// ValidationRule describes how a step's tool result is accepted or rejected.
// A nil rule accepts any successful tool result.
type ValidationRule struct {
	RequireKeys []string `json:"require_keys,omitempty" yaml:"require_keys,omitempty"` // Keys that must be present in the result
	NonEmpty    bool     `json:"non_empty,omitempty" yaml:"non_empty,omitempty"`       // Result must not be empty
	StatusField string   `json:"status_field,omitempty" yaml:"status_field,omitempty"` // Field that must equal "success"

	// Check is an optional programmatic predicate for patterns registered in
	// code. It is not serialized.
	Check func(result map[string]interface{}) error `json:"-" yaml:"-"`
}

// Step is a single tool invocation within a pattern
type Step struct {
	Tool       string                 `json:"tool" yaml:"tool"`
	Args       map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`
	Bindings   []Binding              `json:"bindings,omitempty" yaml:"bindings,omitempty"`
	Validation *ValidationRule        `json:"validation,omitempty" yaml:"validation,omitempty"`
	OutputKey  string                 `json:"output_key,omitempty" yaml:"output_key,omitempty"`
}

// ResultKey returns the execution context key this step's output is stored
// under. Defaults to the tool name when no output key is declared.
func (s Step) ResultKey() string {
	if s.OutputKey != "" {
		return s.OutputKey
	}
	return strings.ReplaceAll(s.Tool, ".", "_")
}

// Pattern is a named, reusable ordered sequence of tool-invocation steps.
// A pattern with no steps is valid but never advances execution.
type Pattern struct {
	ID              string                 `json:"id" yaml:"id"`
	Name            string                 `json:"name" yaml:"name"`
	Description     string                 `json:"description" yaml:"description"`
	Category        Category               `json:"category" yaml:"category"`
	Steps           []Step                 `json:"steps" yaml:"steps"`
	StaticBindings  map[string]interface{} `json:"static_bindings,omitempty" yaml:"static_bindings,omitempty"`
	DynamicBindings []Binding              `json:"dynamic_bindings,omitempty" yaml:"dynamic_bindings,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	SuccessRate     float64                `json:"success_rate" yaml:"success_rate"` // [0,1]
	Occurrences     int                    `json:"occurrences" yaml:"occurrences"`
	Strength        float64                `json:"strength" yaml:"strength"` // Recency/quality-weighted score
	CreatedAt       time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" yaml:"updated_at"`
}

// IsNoOp reports whether the pattern can never advance execution
func (p *Pattern) IsNoOp() bool {
	return p == nil || len(p.Steps) == 0
}

// Clone returns a deep copy of the pattern. Adaptation and execution work on
// copies so the registry's stored pattern is never mutated in place.
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		cp.Steps[i] = cloneStep(s)
	}
	cp.StaticBindings = cloneMap(p.StaticBindings)
	cp.Metadata = cloneMap(p.Metadata)
	cp.DynamicBindings = append([]Binding(nil), p.DynamicBindings...)
	return &cp
}

func cloneStep(s Step) Step {
	cp := s
	cp.Args = cloneMap(s.Args)
	cp.Bindings = append([]Binding(nil), s.Bindings...)
	if s.Validation != nil {
		v := *s.Validation
		v.RequireKeys = append([]string(nil), s.Validation.RequireKeys...)
		cp.Validation = &v
	}
	return cp
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Validate checks structural invariants before a pattern is registered
func (p *Pattern) Validate() error {
	if p == nil {
		return fmt.Errorf("pattern cannot be nil")
	}
	if p.Name == "" {
		return fmt.Errorf("pattern name cannot be empty")
	}
	for i, step := range p.Steps {
		if step.Tool == "" {
			return fmt.Errorf("step %d has no tool", i)
		}
	}
	return nil
}

// ParseCategory maps a raw category string onto a known category, falling
// back to general for anything unrecognized.
func ParseCategory(raw string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryDebugging, CategoryCodeNavigation, CategoryFileEditing,
		CategoryContextGathering, CategoryTesting, CategoryGeneral:
		return Category(strings.ToLower(strings.TrimSpace(raw)))
	default:
		return CategoryGeneral
	}
}
