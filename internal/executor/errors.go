package executor

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a step failure for retry decisions and reporting
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindConnection  ErrorKind = "connection_error"
	KindRateLimited ErrorKind = "rate_limited"
	KindNotFound    ErrorKind = "not_found"
	KindValidation  ErrorKind = "validation"
	KindCancelled   ErrorKind = "cancelled"
	KindBinding     ErrorKind = "missing_binding"
	KindUnknown     ErrorKind = "unknown"
)

// ToolError lets an invoker report a classified failure. Invokers that
// return plain errors get classified as unknown (or timeout/cancelled when
// the context says so).
type ToolError struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed (%s): %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Classify maps an invocation error onto an ErrorKind
func Classify(err error) ErrorKind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// StepError is the failure surfaced when an execution stops. It carries the
// partial results accumulated before the failing step so callers can salvage
// completed work, and the attempt count so retry exhaustion is
// distinguishable from a never-retried failure.
type StepError struct {
	ExecutionID string                 `json:"execution_id"`
	PatternName string                 `json:"pattern_name"`
	StepIndex   int                    `json:"step_index"`
	Tool        string                 `json:"tool"`
	Kind        ErrorKind              `json:"kind"`
	Attempts    int                    `json:"attempts"`
	Retried     bool                   `json:"retried"`
	Partial     map[string]interface{} `json:"partial,omitempty"`
	Err         error                  `json:"-"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("execution %s failed at step %d (%s, %s): %v",
		e.ExecutionID, e.StepIndex, e.Tool, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
