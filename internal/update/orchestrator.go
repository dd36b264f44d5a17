package update

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nholik/stack-updater/internal/health"
	"github.com/nholik/stack-updater/internal/reconcile"
	"github.com/nholik/stack-updater/internal/refresh"
	"github.com/nholik/stack-updater/internal/restart"
	"github.com/nholik/stack-updater/internal/stack"
	"github.com/nholik/stack-updater/internal/version"
)

const outputLimit = 8192

// VersionResolver gathers version facts and decides whether an update is needed.
type VersionResolver interface {
	Resolve(ctx context.Context) (version.Facts, version.Comparison)
}

// Reconciler applies a change handling strategy to the source checkout.
type Reconciler interface {
	Reconcile(ctx context.Context, strategy reconcile.Strategy) (reconcile.Outcome, reconcile.ChangeSet, error)
}

// Repository is the version control surface used by the pull stage.
type Repository interface {
	Fetch(ctx context.Context) error
	EnsureBranch(ctx context.Context) (previous string, switched bool, err error)
	Revision(ctx context.Context) (string, error)
	Pull(ctx context.Context) error
	Branch() string
}

// Refresher brings the stack's images up to date.
type Refresher interface {
	Refresh(ctx context.Context) (refresh.Outcome, error)
}

// Restarter tears the stack down and brings it back up.
type Restarter interface {
	Restart(ctx context.Context, prune bool, steps restart.StepLog) (restart.Outcome, error)
}

// Verifier samples the restarted stack.
type Verifier interface {
	Verify(ctx context.Context) (health.Snapshot, bool, error)
}

// ManifestProbe checks that the service manifest exists and returns its fingerprint.
type ManifestProbe func() (string, error)

// Components are the collaborators of one stack's pipeline.
type Components struct {
	Versions   VersionResolver
	Reconciler Reconciler
	Repository Repository
	Images     Refresher
	Restarter  Restarter
	Verifier   Verifier
	Manifest   ManifestProbe
}

// Orchestrator sequences an update run for one stack.
type Orchestrator struct {
	logger zerolog.Logger
	stack  string
	c      Components
	now    func() time.Time
	newID  func() string
	group  singleflight.Group
}

// Option customizes orchestrator behavior.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

// New constructs an Orchestrator for stackName.
func New(logger zerolog.Logger, stackName string, c Components, opts ...Option) (*Orchestrator, error) {
	if strings.TrimSpace(stackName) == "" {
		return nil, errors.New("stack name must not be empty")
	}
	switch {
	case c.Versions == nil:
		return nil, errors.New("version resolver is required")
	case c.Reconciler == nil:
		return nil, errors.New("reconciler is required")
	case c.Repository == nil:
		return nil, errors.New("repository is required")
	case c.Images == nil:
		return nil, errors.New("image refresher is required")
	case c.Restarter == nil:
		return nil, errors.New("restarter is required")
	case c.Verifier == nil:
		return nil, errors.New("verifier is required")
	case c.Manifest == nil:
		return nil, errors.New("manifest probe is required")
	}

	o := &Orchestrator{
		logger: logger.With().Str("stack", stackName).Logger(),
		stack:  stackName,
		c:      c,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Stack returns the stack name.
func (o *Orchestrator) Stack() string {
	return o.stack
}

// Run executes the update pipeline. Concurrent calls are collapsed into the
// run already in flight; joiners receive its result with Shared set and their
// own opts are ignored. A non-nil error is always a *PipelineError and the
// Result is populated either way.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Result, error) {
	// Do reports shared to the leader too once anyone joined, so track
	// leadership locally.
	led := false
	v, err, _ := o.group.Do(o.stack, func() (any, error) {
		led = true
		return o.run(ctx, opts)
	})
	result := v.(Result)
	if !led {
		result.Shared = true
		result.Steps = append([]string(nil), result.Steps...)
	}
	return result, err
}

// run tracks the state of a single pipeline execution.
type run struct {
	o      *Orchestrator
	logger zerolog.Logger
	plan   *Plan
	result Result
}

// Appendf implements restart.StepLog.
func (r *run) Appendf(format string, args ...any) {
	r.plan.Appendf(format, args...)
}

// EnterStage implements restart.StageObserver.
func (r *run) EnterStage(stage restart.Stage) {
	r.enter(stateForStage(stage))
}

func (r *run) enter(state State) {
	r.result.Stage = state
	r.logger.Debug().Str("state", string(state)).Msg("entering stage")
}

func (r *run) finish(state State, success bool, message string) Result {
	r.result.State = state
	r.result.Success = success
	r.result.Message = message
	r.result.Steps = r.plan.Steps()
	r.result.FinishedAt = r.o.now()
	return r.result
}

func (r *run) fail(kind ErrorKind, err error) (Result, error) {
	terminal := StateFailed
	if kind == KindAborted {
		terminal = StateAborted
	}

	stage := r.result.Stage
	r.result.ErrorKind = kind
	r.result.Error = err.Error()
	r.result.Hint = hint(err)
	if output := toolOutput(err); output != "" {
		r.result.Output = output
	}
	r.plan.Appendf("Update failed during %s: %v", stage, err)

	message := fmt.Sprintf("update failed during %s: %v", stage, err)
	if kind == KindAborted {
		message = err.Error()
	}
	result := r.finish(terminal, false, message)

	r.logger.Error().
		Err(err).
		Str("state", string(stage)).
		Str("kind", string(kind)).
		Msg("update failed")

	return result, &PipelineError{
		State:   stage,
		Kind:    kind,
		Steps:   result.Steps,
		Changes: result.ChangeSet,
		Err:     err,
	}
}

func (o *Orchestrator) run(ctx context.Context, opts Options) (Result, error) {
	if opts.HandleChanges == "" {
		opts.HandleChanges = reconcile.DefaultStrategy
	}
	runID := o.newID()
	r := &run{
		o:      o,
		logger: o.logger.With().Str("run_id", runID).Logger(),
		plan:   NewPlan(),
		result: Result{
			RunID:     runID,
			Stack:     o.stack,
			Options:   opts,
			Stage:     StateStart,
			StartedAt: o.now(),
		},
	}
	r.logger.Info().
		Bool("force", opts.ForceUpdate).
		Bool("prune", opts.PerformPrune).
		Str("handle_changes", string(opts.HandleChanges)).
		Msg("update started")

	r.plan.Appendf("Starting update of stack %s", o.stack)
	manifestBefore, err := o.c.Manifest()
	if err != nil {
		return r.fail(KindPrecondition, err)
	}

	if opts.ForceUpdate {
		r.result.VersionCheck = &VersionCheck{Skipped: true, UpdateNeeded: true, Reason: "version check skipped: forced update"}
		r.plan.Appendf("Skipping version check (forced update)")
	} else {
		r.enter(StateVersionCheck)
		r.plan.Appendf("Checking versions")
		facts, cmp := o.c.Versions.Resolve(ctx)
		r.result.VersionCheck = &VersionCheck{
			Deployed:     facts.Deployed,
			Local:        facts.Local,
			Latest:       facts.Latest,
			UpdateNeeded: cmp.UpdateNeeded,
			Reason:       cmp.Reason,
		}
		r.plan.Appendf("Deployed: %s, local: %s, latest: %s", orUnknown(facts.Deployed), orUnknown(facts.Local), orUnknown(facts.Latest))
		r.plan.Append(cmp.Reason)
		if !cmp.UpdateNeeded {
			r.enter(StateShortCircuit)
			r.logger.Info().Str("reason", cmp.Reason).Msg("no update needed")
			return r.finish(StateShortCircuit, true, cmp.Reason), nil
		}
	}

	r.enter(StateReconcile)
	r.plan.Appendf("Checking for local modifications (strategy: %s)", opts.HandleChanges)
	outcome, changes, err := o.c.Reconciler.Reconcile(ctx, opts.HandleChanges)
	r.result.ChangeSet = changes
	if err != nil {
		var aborted *reconcile.AbortedError
		if errors.As(err, &aborted) {
			r.plan.Appendf("Local modifications present: %s", strings.Join(changes, ", "))
			return r.fail(KindAborted, err)
		}
		return r.fail(KindReconcile, err)
	}
	r.result.Reconcile = &outcome
	r.plan.Append(outcome.Message)

	r.enter(StateVCPull)
	if err := o.pull(ctx, r); err != nil {
		return r.fail(KindVersionControl, err)
	}
	manifestAfter, err := o.c.Manifest()
	if err != nil {
		return r.fail(KindPrecondition, err)
	}
	r.result.ManifestChanged = manifestAfter != manifestBefore
	if r.result.ManifestChanged {
		r.plan.Appendf("Service manifest changed")
	}

	r.enter(StateImageRefresh)
	r.plan.Appendf("Pulling images")
	images, err := o.c.Images.Refresh(ctx)
	if err != nil {
		return r.fail(toolKind(err), err)
	}
	r.result.BuiltFromSource = images.BuiltFromSource
	r.result.ImagesUpdated = images.ImagesUpdated
	r.result.PullFailed = images.PullFailed
	if images.BuiltFromSource {
		r.result.Output = tail(images.Log, outputLimit)
		if images.PullFailed {
			r.plan.Appendf("Image pull failed; built from source")
		} else {
			r.plan.Appendf("Prebuilt images unavailable; built from source")
		}
		r.plan.Append(strings.TrimSpace(images.Log))
	} else if images.ImagesUpdated {
		r.plan.Appendf("Pulled updated images")
	} else {
		r.plan.Appendf("Images already up to date")
	}

	// Once teardown begins the run must reach bring-up regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	restarted, err := o.c.Restarter.Restart(ctx, opts.PerformPrune, r)
	r.result.Restart = &restarted
	r.result.Pruned = restarted.Pruned
	if err != nil {
		var stageErr *restart.StageError
		if errors.As(err, &stageErr) {
			r.result.Stage = stateForStage(stageErr.Stage)
		}
		return r.fail(toolKind(err), err)
	}

	r.enter(StateVerify)
	r.plan.Appendf("Verifying services")
	snapshot, healthy, err := o.c.Verifier.Verify(ctx)
	if err != nil {
		return r.fail(KindVerification, err)
	}
	r.result.Health = &snapshot
	r.plan.Appendf("%d of %d containers running", snapshot.Running, snapshot.Total)

	if !healthy {
		r.result.ErrorKind = KindVerification
		message := fmt.Sprintf("update applied but only %d of %d containers are running (below the 80%% threshold)", snapshot.Running, snapshot.Total)
		r.plan.Append(message)
		r.logger.Warn().Int("running", snapshot.Running).Int("total", snapshot.Total).Msg("verification shortfall")
		return r.finish(StatePartialFailure, false, message), nil
	}

	message := "update completed successfully"
	if !r.result.RepositoryUpdated && !r.result.ImagesUpdated {
		message = "update completed; no source or image changes were found"
	}
	r.plan.Append(message)
	r.logger.Info().
		Bool("repository_updated", r.result.RepositoryUpdated).
		Bool("images_updated", r.result.ImagesUpdated).
		Bool("built_from_source", r.result.BuiltFromSource).
		Msg("update completed")
	return r.finish(StateSuccess, true, message), nil
}

func (o *Orchestrator) pull(ctx context.Context, r *run) error {
	repo := o.c.Repository

	r.plan.Appendf("Fetching remote updates")
	if err := repo.Fetch(ctx); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	previous, switched, err := repo.EnsureBranch(ctx)
	if err != nil {
		return fmt.Errorf("switch to %s: %w", repo.Branch(), err)
	}
	if switched {
		r.plan.Appendf("Switched from %s to %s", orDetached(previous), repo.Branch())
	}

	before, err := repo.Revision(ctx)
	if err != nil {
		return fmt.Errorf("read revision: %w", err)
	}
	r.result.RevisionBefore = before
	r.plan.Appendf("Current revision: %s", before)

	r.plan.Appendf("Pulling %s", repo.Branch())
	if err := repo.Pull(ctx); err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	after, err := repo.Revision(ctx)
	if err != nil {
		return fmt.Errorf("read revision: %w", err)
	}
	r.result.RevisionAfter = after
	r.result.RepositoryUpdated = after != before
	if r.result.RepositoryUpdated {
		r.plan.Appendf("Updated source from %s to %s", before, after)
	} else {
		r.plan.Appendf("Source already at %s", after)
	}
	return nil
}

func toolOutput(err error) string {
	var refreshErr *refresh.Error
	if errors.As(err, &refreshErr) {
		return tail(refreshErr.Log, outputLimit)
	}
	var cmdErr *stack.CommandError
	if errors.As(err, &cmdErr) {
		return tail(cmdErr.Output, outputLimit)
	}
	return ""
}

// tail keeps roughly the last limit bytes of value, starting on a rune boundary.
func tail(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	start := len(value) - limit
	for start < len(value) && !utf8.RuneStart(value[start]) {
		start++
	}
	return "..." + value[start:]
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func orDetached(branch string) string {
	if branch == "" {
		return "detached HEAD"
	}
	return branch
}
