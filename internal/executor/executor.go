// Package executor runs a pattern's steps through a pluggable tool invoker.
// Execution is a step-wise state machine: each step resolves its bindings,
// invokes its tool under a timeout, validates the result, and either
// advances, retries, or fails the whole execution. Cancellation is honored
// at step boundaries; a step already in flight runs to completion, but its
// result is discarded once abandonment has been observed.
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/tapestry/internal/binding"
	"github.com/jordanhubbard/tapestry/internal/pattern"
)

// State is an execution's position in the step state machine
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateValidating State = "validating"
	StateAdvancing  State = "advancing"
	StateRetrying   State = "retrying"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether the state machine can move past s
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Invoker is the boundary to the outside world. The executor has no
// knowledge of tool semantics; it hands over a name and arguments and gets a
// result map or an error back.
type Invoker interface {
	Invoke(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error)
}

// RetryPolicy decides whether a failed step is attempted again. The zero
// policy never retries: repeating a failed tool call is only safe when the
// failure is known to be transient, so retries are strictly opt-in.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts per step; <=1 means no retries
	ExtraKinds  []ErrorKind   // Retryable kinds beyond the transient set
	Backoff     time.Duration // Pause between attempts
}

// transientKinds are always considered retryable once retries are enabled.
// ExtraKinds widens this set; nothing narrows it.
var transientKinds = []ErrorKind{KindTimeout, KindConnection, KindRateLimited}

func (p RetryPolicy) retryable(kind ErrorKind) bool {
	if p.MaxAttempts <= 1 {
		return false
	}
	for _, k := range transientKinds {
		if k == kind {
			return true
		}
	}
	for _, k := range p.ExtraKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Event is one observable execution transition
type Event struct {
	ExecutionID string    `json:"execution_id"`
	PatternName string    `json:"pattern_name"`
	State       State     `json:"state"`
	StepIndex   int       `json:"step_index"`
	Tool        string    `json:"tool,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"` // Set on advancing events
	Timestamp   time.Time `json:"timestamp"`
}

// Execution is the record of one pattern run
type Execution struct {
	ID          string                 `json:"id"`
	PatternName string                 `json:"pattern_name"`
	ModelID     string                 `json:"model_id,omitempty"`
	State       State                  `json:"state"`
	CurrentStep int                    `json:"current_step"`
	TotalSteps  int                    `json:"total_steps"`
	Results     map[string]interface{} `json:"results,omitempty"`
	Input       map[string]interface{} `json:"input,omitempty"`
	FailureKind ErrorKind              `json:"failure_kind,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
}

// Config tunes the executor
type Config struct {
	StepTimeout time.Duration // Upper bound on a single tool invocation
	Retry       RetryPolicy
	OnEvent     func(Event) // Optional transition observer, called inline
}

// DefaultConfig returns executor defaults: 30s per step, no retries
func DefaultConfig() Config {
	return Config{StepTimeout: 30 * time.Second}
}

// Executor drives pattern executions through an invoker
type Executor struct {
	invoker Invoker
	config  Config
}

// New creates an executor around the given invoker
func New(invoker Invoker, config Config) *Executor {
	if config.StepTimeout <= 0 {
		config.StepTimeout = DefaultConfig().StepTimeout
	}
	return &Executor{invoker: invoker, config: config}
}

// Execute runs every step of the pattern in order. Input is the task-level
// binding environment; global is ambient context shared across steps. On
// failure the returned Execution carries the partial results and the error is
// a *StepError wrapping the cause. A pattern with no steps completes
// immediately.
func (e *Executor) Execute(ctx context.Context, p *pattern.Pattern, input, global map[string]interface{}) (*Execution, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot execute nil pattern")
	}

	exec := &Execution{
		ID:          fmt.Sprintf("exec-%s", uuid.New().String()[:8]),
		PatternName: p.Name,
		State:       StatePending,
		TotalSteps:  len(p.Steps),
		Results:     make(map[string]interface{}),
		Input:       input,
		StartedAt:   time.Now(),
	}
	env := binding.Env{Input: input, Results: exec.Results, Global: global}

	log.Printf("[Executor] %s: starting pattern %s (%d steps)", exec.ID, p.Name, len(p.Steps))

	for i, step := range p.Steps {
		exec.CurrentStep = i

		if err := ctx.Err(); err != nil {
			return e.fail(exec, i, step.Tool, KindCancelled, 0, err)
		}

		stepStart := time.Now()
		e.transition(exec, StateRunning, i, step.Tool, nil)

		args, err := binding.Resolve(step, p.StaticBindings, env)
		if err != nil {
			// Required binding missing: the tool is never invoked
			return e.fail(exec, i, step.Tool, KindBinding, 0, err)
		}

		result, attempts, err := e.invokeWithRetry(ctx, exec, i, step, args)
		if err != nil {
			return e.fail(exec, i, step.Tool, Classify(err), attempts, err)
		}

		// Abandonment observed while the tool ran: the result must not reach
		// the execution context
		if err := ctx.Err(); err != nil {
			return e.fail(exec, i, step.Tool, KindCancelled, attempts, err)
		}

		e.transition(exec, StateValidating, i, step.Tool, nil)
		if err := validate(step.Validation, result); err != nil {
			return e.fail(exec, i, step.Tool, KindValidation, attempts, err)
		}

		storeResult(exec.Results, step, i, result)
		e.advance(exec, i, step.Tool, time.Since(stepStart))
	}

	exec.State = StateCompleted
	exec.CurrentStep = len(p.Steps)
	exec.FinishedAt = time.Now()
	e.emit(exec, StateCompleted, exec.CurrentStep, "", nil)
	log.Printf("[Executor] %s: completed pattern %s in %s", exec.ID, p.Name, exec.FinishedAt.Sub(exec.StartedAt))
	return exec, nil
}

// invokeWithRetry runs one tool invocation under the step timeout, retrying
// per policy on transient failures. It reports how many attempts were made.
// No executor state is locked while the invoker runs.
func (e *Executor) invokeWithRetry(ctx context.Context, exec *Execution, stepIndex int, step pattern.Step, args map[string]interface{}) (map[string]interface{}, int, error) {
	attempts := e.config.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, e.config.StepTimeout)
		result, err := e.invoker.Invoke(stepCtx, step.Tool, args)
		cancel()
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		kind := Classify(err)
		if kind == KindCancelled || !e.config.Retry.retryable(kind) || attempt == attempts {
			return nil, attempt, lastErr
		}

		e.transition(exec, StateRetrying, stepIndex, step.Tool, err)
		log.Printf("[Executor] %s: step %d (%s) attempt %d/%d failed (%s), retrying",
			exec.ID, stepIndex, step.Tool, attempt, attempts, kind)
		if e.config.Retry.Backoff > 0 {
			select {
			case <-time.After(e.config.Retry.Backoff):
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			}
		}
	}
	return nil, attempts, lastErr
}

// validate applies a step's validation rule to a tool result. A nil rule
// accepts anything.
func validate(rule *pattern.ValidationRule, result map[string]interface{}) error {
	if rule == nil {
		return nil
	}
	if rule.NonEmpty && len(result) == 0 {
		return fmt.Errorf("result is empty")
	}
	for _, key := range rule.RequireKeys {
		if _, ok := result[key]; !ok {
			return fmt.Errorf("result missing required key %q", key)
		}
	}
	if rule.StatusField != "" {
		status, _ := result[rule.StatusField].(string)
		if status != "success" {
			return fmt.Errorf("result %s=%q, want \"success\"", rule.StatusField, status)
		}
	}
	if rule.Check != nil {
		if err := rule.Check(result); err != nil {
			return fmt.Errorf("check failed: %w", err)
		}
	}
	return nil
}

// storeResult records a completed step's output under its output key plus
// positional aliases. The output key holds the raw result so dotted paths
// like "source.content" work; the positional aliases wrap it in a result
// envelope for "step_0.result.path" style references.
func storeResult(results map[string]interface{}, step pattern.Step, index int, result map[string]interface{}) {
	raw := interface{}(result)
	results[step.ResultKey()] = raw
	envelope := map[string]interface{}{"result": raw}
	results[fmt.Sprintf("step_%d", index)] = envelope
	results[fmt.Sprintf("step%d", index)] = envelope
}

// fail marks the execution failed and wraps the cause with partial context.
// Attempts is the number of tool invocations made for the failing step; zero
// means the tool was never invoked.
func (e *Executor) fail(exec *Execution, stepIndex int, tool string, kind ErrorKind, attempts int, cause error) (*Execution, error) {
	exec.State = StateFailed
	exec.FailureKind = kind
	exec.FinishedAt = time.Now()

	partial := make(map[string]interface{}, len(exec.Results))
	for k, v := range exec.Results {
		partial[k] = v
	}

	stepErr := &StepError{
		ExecutionID: exec.ID,
		PatternName: exec.PatternName,
		StepIndex:   stepIndex,
		Tool:        tool,
		Kind:        kind,
		Attempts:    attempts,
		Retried:     attempts > 1,
		Partial:     partial,
		Err:         cause,
	}
	e.emit(exec, StateFailed, stepIndex, tool, stepErr)
	log.Printf("[Executor] %s: %v", exec.ID, stepErr)
	return exec, stepErr
}

// advance marks a step complete, emitting how long the step took end to end
// (resolution through validation, including retries)
func (e *Executor) advance(exec *Execution, stepIndex int, tool string, took time.Duration) {
	exec.State = StateAdvancing
	if e.config.OnEvent == nil {
		return
	}
	e.config.OnEvent(Event{
		ExecutionID: exec.ID,
		PatternName: exec.PatternName,
		State:       StateAdvancing,
		StepIndex:   stepIndex,
		Tool:        tool,
		DurationMs:  took.Milliseconds(),
		Timestamp:   time.Now(),
	})
}

// transition updates the live state and emits the matching event
func (e *Executor) transition(exec *Execution, state State, stepIndex int, tool string, err error) {
	exec.State = state
	e.emit(exec, state, stepIndex, tool, err)
}

func (e *Executor) emit(exec *Execution, state State, stepIndex int, tool string, err error) {
	if e.config.OnEvent == nil {
		return
	}
	ev := Event{
		ExecutionID: exec.ID,
		PatternName: exec.PatternName,
		State:       state,
		StepIndex:   stepIndex,
		Tool:        tool,
		Timestamp:   time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.config.OnEvent(ev)
}
