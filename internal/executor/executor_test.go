package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/tapestry/internal/binding"
	"github.com/jordanhubbard/tapestry/internal/pattern"
)

// scriptedInvoker returns canned responses in call order
type scriptedInvoker struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses []response
	onInvoke  func(call int) // Runs before the response is returned
}

type recordedCall struct {
	Tool string
	Args map[string]interface{}
}

type response struct {
	result map[string]interface{}
	err    error
}

func (s *scriptedInvoker) Invoke(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	call := len(s.calls)
	s.calls = append(s.calls, recordedCall{Tool: tool, Args: args})
	s.mu.Unlock()

	if s.onInvoke != nil {
		s.onInvoke(call)
	}
	if call >= len(s.responses) {
		return map[string]interface{}{"ok": true}, nil
	}
	r := s.responses[call]
	return r.result, r.err
}

func (s *scriptedInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func ok(result map[string]interface{}) response { return response{result: result} }

func toolFailure(tool string, kind ErrorKind) response {
	return response{err: &ToolError{Kind: kind, Tool: tool, Err: errors.New("boom")}}
}

func TestExecuteCompletesAndChainsResults(t *testing.T) {
	inv := &scriptedInvoker{responses: []response{
		ok(map[string]interface{}{"path": "lib/auth.ex", "content": "defmodule Auth"}),
		ok(map[string]interface{}{"status": "success"}),
	}}
	e := New(inv, DefaultConfig())

	p := &pattern.Pattern{
		Name: "chain",
		Steps: []pattern.Step{
			{
				Tool:      "grep",
				OutputKey: "hit",
				Bindings: []pattern.Binding{
					{Name: "pattern", Source: pattern.SourceInput, Path: "symbol", Required: true},
				},
			},
			{
				Tool: "file_edit",
				Bindings: []pattern.Binding{
					{Name: "path", Source: pattern.SourceStep, Path: "hit.path", Required: true},
					{Name: "content", Source: pattern.SourceStep, Path: "step_0.result.content", Required: true},
				},
			},
		},
	}

	exec, err := e.Execute(context.Background(), p, map[string]interface{}{"symbol": "Auth"}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, exec.State)
	assert.Equal(t, 2, exec.CurrentStep)

	require.Len(t, inv.calls, 2)
	assert.Equal(t, "Auth", inv.calls[0].Args["pattern"])
	assert.Equal(t, "lib/auth.ex", inv.calls[1].Args["path"])
	assert.Equal(t, "defmodule Auth", inv.calls[1].Args["content"])

	// Raw result under the output key, envelope under positional aliases
	hit, okCast := exec.Results["hit"].(map[string]interface{})
	require.True(t, okCast)
	assert.Equal(t, "lib/auth.ex", hit["path"])
	_, hasAlias := exec.Results["step_0"]
	assert.True(t, hasAlias)
}

func TestExecuteEmptyPattern(t *testing.T) {
	inv := &scriptedInvoker{}
	e := New(inv, DefaultConfig())

	exec, err := e.Execute(context.Background(), &pattern.Pattern{Name: "empty"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, exec.State)
	assert.Zero(t, inv.callCount())
}

func TestExecuteNilPattern(t *testing.T) {
	e := New(&scriptedInvoker{}, DefaultConfig())
	_, err := e.Execute(context.Background(), nil, nil, nil)
	assert.Error(t, err)
}

func TestMissingRequiredBindingAbortsBeforeInvocation(t *testing.T) {
	inv := &scriptedInvoker{responses: []response{
		ok(map[string]interface{}{"found": "yes"}),
	}}
	e := New(inv, DefaultConfig())

	p := &pattern.Pattern{
		Name: "abort",
		Steps: []pattern.Step{
			{Tool: "memory_search", OutputKey: "recall", Args: map[string]interface{}{"query": "q"}},
			{
				Tool: "file_read",
				Bindings: []pattern.Binding{
					{Name: "path", Source: pattern.SourceInput, Path: "path", Required: true},
				},
			},
		},
	}

	exec, err := e.Execute(context.Background(), p, map[string]interface{}{}, nil)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, KindBinding, stepErr.Kind)
	assert.Equal(t, 1, stepErr.StepIndex)
	assert.Equal(t, "file_read", stepErr.Tool)
	assert.True(t, errors.Is(err, binding.ErrMissingBinding))

	// The first step's output survives as partial context
	assert.Contains(t, stepErr.Partial, "recall")

	assert.Equal(t, StateFailed, exec.State)
	assert.Equal(t, 1, inv.callCount(), "second tool must never be invoked")
}

func TestValidationFailureFailsExecution(t *testing.T) {
	inv := &scriptedInvoker{responses: []response{
		ok(map[string]interface{}{"status": "error"}),
	}}
	e := New(inv, DefaultConfig())

	p := &pattern.Pattern{
		Name: "validated",
		Steps: []pattern.Step{
			{Tool: "file_edit", Args: map[string]interface{}{"path": "a.go"},
				Validation: &pattern.ValidationRule{StatusField: "status"}},
		},
	}

	_, err := e.Execute(context.Background(), p, nil, nil)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, KindValidation, stepErr.Kind)
}

func TestValidationRules(t *testing.T) {
	cases := []struct {
		name   string
		rule   *pattern.ValidationRule
		result map[string]interface{}
		wantOK bool
	}{
		{"nil rule accepts anything", nil, nil, true},
		{"non-empty ok", &pattern.ValidationRule{NonEmpty: true}, map[string]interface{}{"x": 1}, true},
		{"non-empty rejects empty", &pattern.ValidationRule{NonEmpty: true}, map[string]interface{}{}, false},
		{"require keys ok", &pattern.ValidationRule{RequireKeys: []string{"output"}}, map[string]interface{}{"output": ""}, true},
		{"require keys missing", &pattern.ValidationRule{RequireKeys: []string{"output"}}, map[string]interface{}{"other": 1}, false},
		{"status success", &pattern.ValidationRule{StatusField: "status"}, map[string]interface{}{"status": "success"}, true},
		{"status wrong type", &pattern.ValidationRule{StatusField: "status"}, map[string]interface{}{"status": 200}, false},
		{"custom check", &pattern.ValidationRule{Check: func(r map[string]interface{}) error {
			return fmt.Errorf("nope")
		}}, map[string]interface{}{}, false},
	}
	for _, tc := range cases {
		err := validate(tc.rule, tc.result)
		if tc.wantOK {
			assert.NoError(t, err, tc.name)
		} else {
			assert.Error(t, err, tc.name)
		}
	}
}

func TestDefaultPolicyNeverRetries(t *testing.T) {
	inv := &scriptedInvoker{responses: []response{
		toolFailure("terminal", KindTimeout),
	}}
	e := New(inv, DefaultConfig())

	p := &pattern.Pattern{Name: "once", Steps: []pattern.Step{{Tool: "terminal"}}}
	_, err := e.Execute(context.Background(), p, nil, nil)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, KindTimeout, stepErr.Kind)
	assert.Equal(t, 1, inv.callCount(), "timeouts are not retried by default")
	assert.Equal(t, 1, stepErr.Attempts)
	assert.False(t, stepErr.Retried)
}

func TestRetryExhaustionReportsAttempts(t *testing.T) {
	inv := &scriptedInvoker{responses: []response{
		toolFailure("terminal", KindConnection),
		toolFailure("terminal", KindConnection),
	}}
	config := DefaultConfig()
	config.Retry = RetryPolicy{MaxAttempts: 2}
	e := New(inv, config)

	p := &pattern.Pattern{Name: "exhausted", Steps: []pattern.Step{{Tool: "terminal"}}}
	_, err := e.Execute(context.Background(), p, nil, nil)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, KindConnection, stepErr.Kind)
	assert.Equal(t, 2, stepErr.Attempts)
	assert.True(t, stepErr.Retried)
	assert.Equal(t, 2, inv.callCount())
}

func TestRetryPolicyRetriesTransientKinds(t *testing.T) {
	inv := &scriptedInvoker{responses: []response{
		toolFailure("terminal", KindConnection),
		ok(map[string]interface{}{"output": "done"}),
	}}
	config := DefaultConfig()
	config.Retry = RetryPolicy{MaxAttempts: 3}
	e := New(inv, config)

	p := &pattern.Pattern{Name: "retry", Steps: []pattern.Step{{Tool: "terminal"}}}
	exec, err := e.Execute(context.Background(), p, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, exec.State)
	assert.Equal(t, 2, inv.callCount())
}

func TestRetryPolicyDoesNotRetryNonTransient(t *testing.T) {
	inv := &scriptedInvoker{responses: []response{
		toolFailure("file_read", KindNotFound),
	}}
	config := DefaultConfig()
	config.Retry = RetryPolicy{MaxAttempts: 3}
	e := New(inv, config)

	p := &pattern.Pattern{Name: "noretry", Steps: []pattern.Step{{Tool: "file_read"}}}
	_, err := e.Execute(context.Background(), p, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, inv.callCount())
}

func TestRetryPolicyExtraKindsWidenTheSet(t *testing.T) {
	inv := &scriptedInvoker{responses: []response{
		toolFailure("file_read", KindNotFound),
		ok(map[string]interface{}{"content": "x"}),
	}}
	config := DefaultConfig()
	config.Retry = RetryPolicy{MaxAttempts: 2, ExtraKinds: []ErrorKind{KindNotFound}}
	e := New(inv, config)

	p := &pattern.Pattern{Name: "widened", Steps: []pattern.Step{{Tool: "file_read"}}}
	exec, err := e.Execute(context.Background(), p, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, exec.State)
	assert.Equal(t, 2, inv.callCount())
}

func TestCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := &scriptedInvoker{
		responses: []response{ok(map[string]interface{}{"a": 1})},
	}
	config := DefaultConfig()
	config.OnEvent = func(ev Event) {
		// Caller abandons after the first step has fully landed
		if ev.State == StateAdvancing && ev.StepIndex == 0 {
			cancel()
		}
	}
	e := New(inv, config)

	p := &pattern.Pattern{Name: "cancel", Steps: []pattern.Step{
		{Tool: "grep", OutputKey: "first"},
		{Tool: "file_read"},
	}}

	exec, err := e.Execute(ctx, p, nil, nil)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, KindCancelled, stepErr.Kind)
	assert.Equal(t, 1, stepErr.StepIndex)
	assert.Equal(t, 1, inv.callCount(), "completed step stands, next never starts")
	assert.Contains(t, stepErr.Partial, "first")
	assert.Equal(t, StateFailed, exec.State)
}

func TestCancellationDuringInvocationDiscardsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// The tool observes the cancellation but still hands back a result, the
	// way a write that already hit disk would
	inv := &scriptedInvoker{
		responses: []response{ok(map[string]interface{}{"written": true})},
		onInvoke: func(call int) {
			if call == 0 {
				cancel()
			}
		},
	}
	e := New(inv, DefaultConfig())

	p := &pattern.Pattern{Name: "abandon", Steps: []pattern.Step{
		{Tool: "file_edit", OutputKey: "edit"},
		{Tool: "terminal"},
	}}

	exec, err := e.Execute(ctx, p, nil, nil)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, KindCancelled, stepErr.Kind)
	assert.Equal(t, 0, stepErr.StepIndex)
	assert.Equal(t, StateFailed, exec.State)
	assert.Equal(t, KindCancelled, exec.FailureKind)

	// The in-flight step's result never reaches the execution context
	assert.NotContains(t, exec.Results, "edit")
	assert.Empty(t, stepErr.Partial)
	assert.Equal(t, 1, inv.callCount(), "second tool never starts")
}

func TestEventsTraceTheStateMachine(t *testing.T) {
	var events []Event
	config := DefaultConfig()
	config.OnEvent = func(ev Event) { events = append(events, ev) }

	inv := &scriptedInvoker{}
	e := New(inv, config)

	p := &pattern.Pattern{Name: "traced", Steps: []pattern.Step{{Tool: "grep"}}}
	_, err := e.Execute(context.Background(), p, nil, nil)
	require.NoError(t, err)

	var states []State
	for _, ev := range events {
		states = append(states, ev.State)
	}
	assert.Equal(t, []State{StateRunning, StateValidating, StateAdvancing, StateCompleted}, states)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindCancelled, Classify(context.Canceled))
	assert.Equal(t, KindRateLimited, Classify(&ToolError{Kind: KindRateLimited, Tool: "t", Err: errors.New("x")}))
	assert.Equal(t, KindUnknown, Classify(errors.New("mystery")))
	wrapped := fmt.Errorf("outer: %w", &ToolError{Kind: KindConnection, Tool: "t", Err: errors.New("x")})
	assert.Equal(t, KindConnection, Classify(wrapped))
}
