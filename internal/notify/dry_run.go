package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// DryRunNotifier logs events without delivering them.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery to inner and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Info().
		Str("stack", event.Stack()).
		Str("run_id", event.Result.RunID).
		Str("state", string(event.Result.State)).
		Str("summary", event.Summary()).
		Msg("[DRY-RUN] Would notify")

	for _, change := range event.Transitions {
		n.logger.Info().
			Str("stack", event.Stack()).
			Str("service", change.Name).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Strs("reasons", change.Reasons).
			Msg("[DRY-RUN] Would notify transition")
	}
	return nil
}
