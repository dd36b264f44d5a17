package stack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// FailureKind classifies why a container tool invocation failed.
type FailureKind string

const (
	FailureTimeout          FailureKind = "timeout"
	FailureToolNotFound     FailureKind = "tool_not_found"
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureGeneric          FailureKind = "generic"
)

const errorOutputLimit = 4096

// CommandError is returned by compose operations. Output holds the raw tool
// output (tail-trimmed) so callers can report it verbatim.
type CommandError struct {
	Op     string
	Kind   FailureKind
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	output := strings.TrimSpace(e.Output)
	if output == "" {
		return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v: %s", e.Op, e.Kind, e.Err, tail(output, errorOutputLimit))
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Hint returns an operator-facing suggestion for the failure kind.
func (e *CommandError) Hint() string {
	switch e.Kind {
	case FailureTimeout:
		return "the operation timed out; check network access to the registry or raise the build timeout"
	case FailureToolNotFound:
		return "the container tool was not found; check that docker (with the compose plugin) is installed and on PATH"
	case FailurePermissionDenied:
		return "permission denied; check that the updater can access the container runtime socket"
	default:
		return "see the tool output for details"
	}
}

func newCommandError(op string, output string, err error) *CommandError {
	return &CommandError{
		Op:     op,
		Kind:   Classify(err, output),
		Output: output,
		Err:    err,
	}
}

// Classify derives a FailureKind from err. Typed causes are checked first;
// substring matching on the error text and tool output is a best-effort fallback.
func Classify(err error, output string) FailureKind {
	if err == nil {
		return FailureGeneric
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, exec.ErrNotFound):
		return FailureToolNotFound
	case errors.Is(err, fs.ErrPermission):
		return FailurePermissionDenied
	}

	text := strings.ToLower(err.Error() + "\n" + output)
	switch {
	case strings.Contains(text, "timeout"), strings.Contains(text, "timed out"), strings.Contains(text, "deadline exceeded"):
		return FailureTimeout
	case strings.Contains(text, "enoent"), strings.Contains(text, "executable file not found"), strings.Contains(text, "command not found"):
		return FailureToolNotFound
	case strings.Contains(text, "eacces"), strings.Contains(text, "permission denied"):
		return FailurePermissionDenied
	default:
		return FailureGeneric
	}
}

func tail(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	start := len(value) - limit
	for start < len(value) && !utf8.RuneStart(value[start]) {
		start++
	}
	return "..." + value[start:]
}
