package notify

import (
	"context"
	"fmt"

	"github.com/nholik/stack-updater/internal/transition"
	"github.com/nholik/stack-updater/internal/update"
)

// Event is a finished update run plus the service transitions it caused.
type Event struct {
	Result      update.Result
	Transitions []transition.ServiceTransition
}

// Stack returns the stack name, defaulting to "default".
func (e Event) Stack() string {
	if e.Result.Stack == "" {
		return "default"
	}
	return e.Result.Stack
}

// Summary is a one-line description of the run.
func (e Event) Summary() string {
	summary := fmt.Sprintf("Stack %s update %s", e.Stack(), e.Result.State)
	if e.Result.Message != "" {
		summary += ": " + e.Result.Message
	}
	return summary
}

// Notifier delivers update events to external systems.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
