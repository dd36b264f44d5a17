package restart

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nholik/stack-updater/internal/stack"
)

// Stage names a restart step.
type Stage string

const (
	StageTeardown Stage = "teardown"
	StagePrune    Stage = "prune"
	StageBringUp  Stage = "bring_up"
)

// Lifecycle tears a stack down and brings it back up.
type Lifecycle interface {
	Down(ctx context.Context) (string, error)
	Up(ctx context.Context) (string, error)
}

// Pruner removes unused runtime resources system-wide.
type Pruner interface {
	Prune(ctx context.Context) (stack.PruneReport, error)
}

// StepLog receives human-readable progress entries.
type StepLog interface {
	Appendf(format string, args ...any)
}

// StageObserver is optionally implemented by a StepLog that tracks the current stage.
type StageObserver interface {
	EnterStage(stage Stage)
}

// Outcome describes a completed restart.
type Outcome struct {
	Pruned     bool              `json:"pruned"`
	Prune      stack.PruneReport `json:"prune"`
	PruneError string            `json:"pruneError,omitempty"`
}

// StageError reports which restart step failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Controller restarts a stack: teardown, optional prune, bring-up.
type Controller struct {
	logger    zerolog.Logger
	lifecycle Lifecycle
	pruner    Pruner
}

// New constructs a Controller. pruner may be nil, in which case prune requests are skipped.
func New(logger zerolog.Logger, lifecycle Lifecycle, pruner Pruner) *Controller {
	return &Controller{logger: logger, lifecycle: lifecycle, pruner: pruner}
}

// Restart runs the restart steps in order. A prune failure is logged and
// recorded in the outcome but never stops bring-up.
func (c *Controller) Restart(ctx context.Context, prune bool, steps StepLog) (Outcome, error) {
	var outcome Outcome
	enter := func(stage Stage) {
		if observer, ok := steps.(StageObserver); ok {
			observer.EnterStage(stage)
		}
	}

	enter(StageTeardown)
	steps.Appendf("Stopping stack and removing its volumes")
	if _, err := c.lifecycle.Down(ctx); err != nil {
		return outcome, &StageError{Stage: StageTeardown, Err: err}
	}
	steps.Appendf("Stack stopped")

	if prune {
		enter(StagePrune)
	}
	switch {
	case !prune:
		steps.Appendf("Skipping resource prune")
	case c.pruner == nil:
		steps.Appendf("Skipping resource prune: container engine API not configured")
		outcome.PruneError = "container engine API not configured"
	default:
		steps.Appendf("Pruning unused containers, images, networks and build cache")
		report, err := c.pruner.Prune(ctx)
		outcome.Prune = report
		if err != nil {
			c.logger.Warn().Err(err).Msg("prune failed; continuing with bring-up")
			outcome.PruneError = err.Error()
			steps.Appendf("Prune failed (continuing): %v", err)
		} else {
			outcome.Pruned = true
			steps.Appendf("Pruned %d containers, %d images, %d networks, %d cache entries (%d bytes reclaimed)",
				report.ContainersDeleted, report.ImagesDeleted, report.NetworksDeleted, report.CachesDeleted, report.SpaceReclaimed)
		}
	}

	enter(StageBringUp)
	steps.Appendf("Starting stack in detached mode")
	if _, err := c.lifecycle.Up(ctx); err != nil {
		return outcome, &StageError{Stage: StageBringUp, Err: err}
	}
	steps.Appendf("Stack started")

	return outcome, nil
}
