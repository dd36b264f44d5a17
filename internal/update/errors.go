package update

import (
	"errors"
	"fmt"

	"github.com/nholik/stack-updater/internal/reconcile"
	"github.com/nholik/stack-updater/internal/stack"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindPrecondition     ErrorKind = "precondition"
	KindAborted          ErrorKind = "aborted"
	KindReconcile        ErrorKind = "reconcile"
	KindVersionControl   ErrorKind = "version_control"
	KindTimeout          ErrorKind = "timeout"
	KindToolNotFound     ErrorKind = "tool_not_found"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindGeneric          ErrorKind = "generic"
	KindVerification     ErrorKind = "verification"
)

// PipelineError is returned when a run stops at a fatal stage. Steps holds the
// plan accumulated up to the failure.
type PipelineError struct {
	State   State
	Kind    ErrorKind
	Steps   []string
	Changes reconcile.ChangeSet
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("update failed during %s (%s): %v", e.State, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or "" when err is nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr.Kind
	}
	return toolKind(err)
}

// toolKind maps a container tool failure onto the pipeline taxonomy.
func toolKind(err error) ErrorKind {
	switch stack.Classify(err, "") {
	case stack.FailureTimeout:
		return KindTimeout
	case stack.FailureToolNotFound:
		return KindToolNotFound
	case stack.FailurePermissionDenied:
		return KindPermissionDenied
	default:
		return KindGeneric
	}
}

// hint returns an operator suggestion for err when one is known.
func hint(err error) string {
	var cmdErr *stack.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Hint()
	}
	return ""
}
