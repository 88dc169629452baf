// Package binding resolves a step's argument template against accumulated
// execution state. Resolution is a pure function: literal values pass
// through, declared bindings pull from caller input or prior step results,
// and anything unresolvable becomes "absent" rather than an error, which the
// required/optional rule then interprets.
package binding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jordanhubbard/tapestry/internal/pattern"
)

// ErrMissingBinding is returned when a required binding resolves to absent
var ErrMissingBinding = errors.New("missing required binding")

// Env is the state a step's bindings are resolved against
type Env struct {
	// Input is the original task-level input map supplied by the caller
	Input map[string]interface{}
	// Results holds completed step outputs keyed by output_key, with
	// "step_N" aliases for positional references
	Results map[string]interface{}
	// Global is ambient context shared across the whole execution
	Global map[string]interface{}
}

// Resolve produces the concrete argument map for a step. Literal args are
// copied through, declared bindings overwrite them, and static pattern-level
// bindings fill any gaps. A required binding that resolves to absent aborts
// with ErrMissingBinding before the step's tool is ever invoked; an optional
// absent binding is simply omitted.
func Resolve(step pattern.Step, static map[string]interface{}, env Env) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(step.Args)+len(step.Bindings))

	// Pattern-level static bindings are the lowest-precedence layer
	for k, v := range static {
		args[k] = v
	}

	// Literal args, with template placeholders expanded
	for k, v := range step.Args {
		if ref, ok := templateRef(v); ok {
			resolved, found := resolveRef(ref, env)
			if !found {
				// An undeclared placeholder is optional: drop the arg
				delete(args, k)
				continue
			}
			args[k] = resolved
			continue
		}
		args[k] = v
	}

	// Declared bindings take precedence over everything else
	for _, b := range step.Bindings {
		value, found := resolveBinding(b, env)
		if !found {
			if b.Required {
				return nil, fmt.Errorf("%w: %s", ErrMissingBinding, b.Name)
			}
			delete(args, b.Name)
			continue
		}
		args[b.Name] = value
	}

	return args, nil
}

// resolveBinding evaluates a single declared binding against the environment
func resolveBinding(b pattern.Binding, env Env) (interface{}, bool) {
	switch b.Source {
	case pattern.SourceLiteral:
		return b.Value, b.Value != nil
	case pattern.SourceInput:
		if env.Input == nil {
			return nil, false
		}
		return resolvePath(env.Input, b.Path)
	case pattern.SourceStep:
		if env.Results == nil {
			return nil, false
		}
		return resolvePath(env.Results, b.Path)
	case pattern.SourceContext:
		if env.Global == nil {
			return nil, false
		}
		return resolvePath(env.Global, b.Path)
	default:
		return nil, false
	}
}

// templateRef reports whether a literal arg value is a "{...}" placeholder
// and returns the inner reference.
func templateRef(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	if len(s) < 3 || !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := s[1 : len(s)-1]
	// Reject anything that is not a plain dotted reference (e.g. JSON blobs)
	if strings.ContainsAny(inner, "{}\" \t\n") {
		return "", false
	}
	return inner, true
}

// resolveRef evaluates a placeholder reference. The first path segment picks
// the source: "input" reads the task input, "context" the global context, and
// anything else (output keys, "step_N") reads prior step results.
func resolveRef(ref string, env Env) (interface{}, bool) {
	head, rest, _ := strings.Cut(ref, ".")
	switch head {
	case "input":
		if env.Input == nil || rest == "" {
			return nil, false
		}
		return resolvePath(env.Input, rest)
	case "context", "global":
		if env.Global == nil || rest == "" {
			return nil, false
		}
		return resolvePath(env.Global, rest)
	default:
		if env.Results == nil {
			return nil, false
		}
		return resolvePath(env.Results, ref)
	}
}
