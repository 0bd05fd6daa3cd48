package dispatch

import (
	"fmt"
	"strings"
)

// ValidationError aggregates every parameter violation found in one call.
// Plugin authors get the complete list, not just the first failure.
type ValidationError struct {
	Action     string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Action, strings.Join(e.Violations, "; "))
}

// TypeMismatchError reports an input whose semantic type does not satisfy
// the action's declared constraint.
type TypeMismatchError struct {
	Action   string
	Input    string
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("input %q of %s: expected %s, got %s", e.Input, e.Action, e.Expected, e.Actual)
}

// TransformError reports a failed or unavailable view conversion for one
// input. Unwrap exposes view.ErrNoPath when the transformer graph is
// disconnected.
type TransformError struct {
	Action string
	Input  string
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("materialize input %q of %s: %v", e.Input, e.Action, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// ExecError wraps a failure raised by the plugin's own function with the
// identity of the plugin, action, and version that failed. The original
// cause is surfaced unmodified through Unwrap; the dispatcher never
// retries.
type ExecError struct {
	Plugin  string
	Action  string
	Version string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("action %s:%s (version %s) failed: %v", e.Plugin, e.Action, e.Version, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }
