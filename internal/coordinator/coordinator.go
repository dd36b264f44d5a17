package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nholik/stack-updater/internal/config"
	"github.com/nholik/stack-updater/internal/health"
	"github.com/nholik/stack-updater/internal/metrics"
	"github.com/nholik/stack-updater/internal/notify"
	"github.com/nholik/stack-updater/internal/state"
	"github.com/nholik/stack-updater/internal/transition"
	"github.com/nholik/stack-updater/internal/update"
	"github.com/nholik/stack-updater/internal/version"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownStack is returned for stack names missing from the stacks file.
var ErrUnknownStack = errors.New("unknown stack")

// maxParallelChecks bounds concurrent stacks during a check cycle.
const maxParallelChecks = 4

// Updater runs the update pipeline for one stack.
type Updater interface {
	Run(ctx context.Context, opts update.Options) (update.Result, error)
}

// Checker resolves version facts for one stack.
type Checker interface {
	Resolve(ctx context.Context) (version.Facts, version.Comparison)
}

// Stack binds a configured stack to its pipeline.
type Stack struct {
	Config  config.StackConfig
	Updater Updater
	Checker Checker
}

// Coordinator routes update and check requests to per-stack pipelines and
// records their outcomes.
type Coordinator struct {
	logger   zerolog.Logger
	stacks   map[string]Stack
	names    []string
	store    state.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics

	// stateMu serializes load-modify-save cycles on the store.
	stateMu sync.Mutex
}

// Option customizes Coordinator behavior.
type Option func(*Coordinator)

// WithStore persists run history.
func WithStore(store state.Store) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithNotifier delivers finished runs.
func WithNotifier(notifier notify.Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = notifier
	}
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New constructs a Coordinator over stacks.
func New(logger zerolog.Logger, stacks []Stack, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		logger:   logger,
		stacks:   make(map[string]Stack, len(stacks)),
		store:    state.NewMemoryStore(),
		notifier: notify.NewNoop(zerolog.Nop(), ""),
	}
	for _, stack := range stacks {
		name := stack.Config.Name
		if name == "" {
			return nil, errors.New("stack name must not be empty")
		}
		if stack.Updater == nil || stack.Checker == nil {
			return nil, fmt.Errorf("stack %s: updater and checker are required", name)
		}
		if _, exists := c.stacks[name]; exists {
			return nil, fmt.Errorf("duplicate stack %s", name)
		}
		c.stacks[name] = stack
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Stacks returns the managed stack names in order.
func (c *Coordinator) Stacks() []string {
	return append([]string(nil), c.names...)
}

// Config returns the configuration of a managed stack.
func (c *Coordinator) Config(name string) (config.StackConfig, error) {
	stack, ok := c.stacks[name]
	if !ok {
		return config.StackConfig{}, fmt.Errorf("%w: %s", ErrUnknownStack, name)
	}
	return stack.Config, nil
}

// Update runs the pipeline for name, then records, meters and announces the
// result. Bookkeeping failures are logged and never change the outcome.
func (c *Coordinator) Update(ctx context.Context, name string, opts update.Options) (update.Result, error) {
	stack, ok := c.stacks[name]
	if !ok {
		return update.Result{}, fmt.Errorf("%w: %s", ErrUnknownStack, name)
	}
	logger := c.logger.With().Str("stack", name).Logger()

	done := c.metrics.TrackInFlight()
	result, runErr := stack.Updater.Run(ctx, opts)
	done()

	// Joiners of a shared run leave bookkeeping to the caller that started it.
	if result.Shared {
		return result, runErr
	}

	// Bookkeeping survives caller cancellation so a finished run is never lost.
	bookCtx := context.WithoutCancel(ctx)

	c.metrics.ObserveRun(name, string(result.State), result.Duration())
	if result.Health != nil {
		c.metrics.ObserveHealth(name, result.Health.Running, result.Health.Total)
	}

	previous, err := c.record(bookCtx, result)
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist run history")
	}

	var transitions []transition.ServiceTransition
	if result.Health != nil {
		transitions = transition.Detect(previous, *result.Health)
		logTransitions(logger, transitions)
	}

	if result.State != update.StateShortCircuit {
		event := notify.Event{Result: result, Transitions: transitions}
		if err := c.notifier.Notify(bookCtx, event); err != nil {
			c.metrics.IncNotifyFailures(name)
			logger.Warn().Err(err).Msg("failed to deliver update notification")
		}
	}

	return result, runErr
}

// CheckVersion resolves version facts for name without changing anything.
func (c *Coordinator) CheckVersion(ctx context.Context, name string) (update.VersionCheck, error) {
	stack, ok := c.stacks[name]
	if !ok {
		return update.VersionCheck{}, fmt.Errorf("%w: %s", ErrUnknownStack, name)
	}
	facts, comparison := stack.Checker.Resolve(ctx)
	outcome := "up_to_date"
	if comparison.UpdateNeeded {
		outcome = "update_needed"
	}
	c.metrics.IncVersionCheck(name, outcome)
	return update.VersionCheck{
		Deployed:     facts.Deployed,
		Local:        facts.Local,
		Latest:       facts.Latest,
		UpdateNeeded: comparison.UpdateNeeded,
		Reason:       comparison.Reason,
	}, nil
}

// Last returns the most recent recorded run for name.
func (c *Coordinator) Last(ctx context.Context, name string) (update.Result, bool, error) {
	history, err := c.History(ctx, name)
	if err != nil || len(history) == 0 {
		return update.Result{}, false, err
	}
	return history[len(history)-1], true, nil
}

// History returns the recorded runs for name, oldest first.
func (c *Coordinator) History(ctx context.Context, name string) ([]update.Result, error) {
	if _, ok := c.stacks[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStack, name)
	}
	loaded, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return loaded.Stacks[name].History, nil
}

// CheckAll checks every stack and updates those that need it and opted into
// automatic updates. Per-stack failures are joined; one stack never blocks
// another.
func (c *Coordinator) CheckAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelChecks)

	for _, name := range c.names {
		group.Go(func() error {
			if err := c.checkStack(groupCtx, name); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errors.Join(errs...)
}

func (c *Coordinator) checkStack(ctx context.Context, name string) error {
	logger := c.logger.With().Str("stack", name).Logger()
	stack := c.stacks[name]

	check, err := c.CheckVersion(ctx, name)
	if err != nil {
		return err
	}
	event := logger.Info().
		Str("deployed", check.Deployed).
		Str("local", check.Local).
		Str("latest", check.Latest).
		Bool("update_needed", check.UpdateNeeded).
		Str("reason", check.Reason)
	event.Msg("version checked")

	if !check.UpdateNeeded || !stack.Config.AutoUpdate {
		return nil
	}

	logger.Info().Msg("starting automatic update")
	result, err := c.Update(ctx, name, update.Options{
		PerformPrune:  stack.Config.Prune,
		HandleChanges: stack.Config.HandleChanges,
	})
	if err != nil {
		return err
	}
	if !result.Success && result.State != update.StateShortCircuit {
		return fmt.Errorf("automatic update ended in %s: %s", result.State, result.Message)
	}
	return nil
}

// record appends result to the store and returns the health snapshot recorded
// before it.
func (c *Coordinator) record(ctx context.Context, result update.Result) (*health.Snapshot, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	loaded, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	previous := loaded.Stacks[result.Stack].LastHealth
	loaded.Record(result)
	return previous, c.store.Save(ctx, loaded)
}

func logTransitions(logger zerolog.Logger, transitions []transition.ServiceTransition) {
	for _, change := range transitions {
		var event *zerolog.Event
		switch change.CurrentStatus {
		case health.StatusFailed:
			event = logger.Error()
		case health.StatusDegraded:
			event = logger.Warn()
		default:
			event = logger.Info()
		}
		event = event.
			Str("service", change.Name).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Strs("reasons", change.Reasons)
		if change.ContainerChange != nil {
			event = event.Int("running", change.ContainerChange.CurrentRunning).
				Int("total", change.ContainerChange.CurrentTotal).
				Int("running_delta", change.ContainerChange.RunningDelta)
		}
		if change.ImageChange != nil {
			event = event.Str("previous_image", change.ImageChange.Previous).
				Str("current_image", change.ImageChange.Current)
		}
		event.Msg("service transition detected")
	}
}
