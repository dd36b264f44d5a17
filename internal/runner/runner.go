package runner

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Checker runs one version-check cycle across all stacks.
type Checker interface {
	CheckAll(ctx context.Context) error
	Stacks() []string
}

// Pinger reports whether the container engine is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CycleRecorder receives cycle timing.
type CycleRecorder interface {
	RecordCycle(duration time.Duration, stacksChecked int)
}

// DependencyRecorder receives dependency reachability.
type DependencyRecorder interface {
	SetDependency(name string, err error)
}

// CycleObserver receives cycle metrics.
type CycleObserver interface {
	ObserveCheckCycle(duration time.Duration, finished time.Time)
	IncDockerAPIErrors()
}

// Runner drives periodic version checks.
type Runner struct {
	logger        zerolog.Logger
	pollInterval  time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error
	checker       Checker
	pinger        Pinger
	cycles        CycleRecorder
	deps          DependencyRecorder
	observer      CycleObserver
	now           func() time.Time
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithChecker sets the stack checker used by the default RunOnce.
func WithChecker(checker Checker) Option {
	return func(r *Runner) {
		r.checker = checker
	}
}

// WithPinger probes the container engine at the start of each cycle.
func WithPinger(pinger Pinger) Option {
	return func(r *Runner) {
		r.pinger = pinger
	}
}

// WithCycleRecorder reports cycle timing, typically to the health tracker.
func WithCycleRecorder(recorder CycleRecorder) Option {
	return func(r *Runner) {
		r.cycles = recorder
	}
}

// WithDependencyRecorder reports engine reachability, typically to the health tracker.
func WithDependencyRecorder(recorder DependencyRecorder) Option {
	return func(r *Runner) {
		r.deps = recorder
	}
}

// WithCycleObserver reports cycle metrics.
func WithCycleObserver(observer CycleObserver) Option {
	return func(r *Runner) {
		r.observer = observer
	}
}

// New constructs a Runner with the given logger and poll interval.
func New(logger zerolog.Logger, pollInterval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		pollInterval: pollInterval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		now: time.Now,
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts the main loop and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	// Run immediately on startup
	if err := r.RunOnce(ctx); err != nil {
		r.logError(err, "initial check cycle failed")
	}

	ticker := r.tickerFactory(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			if err := r.RunOnce(ctx); err != nil {
				r.logError(err, "check cycle failed")
			}
		}
	}
}

// RunOnce executes a single cycle of the runner.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	started := r.now()

	var errs []error
	if r.pinger != nil {
		err := r.pinger.Ping(ctx)
		if r.deps != nil {
			r.deps.SetDependency("docker", err)
		}
		if err != nil {
			if r.observer != nil {
				r.observer.IncDockerAPIErrors()
			}
			errs = append(errs, cycleStep("docker ping", err))
		}
	}

	stacks := 0
	if r.checker != nil {
		stacks = len(r.checker.Stacks())
		if err := r.checker.CheckAll(ctx); err != nil {
			errs = append(errs, cycleStep("check stacks", err))
		}
	}

	finished := r.now()
	duration := finished.Sub(started)
	if r.cycles != nil {
		r.cycles.RecordCycle(duration, stacks)
	}
	if r.observer != nil {
		r.observer.ObserveCheckCycle(duration, finished)
	}
	r.logger.Debug().
		Int("stacks", stacks).
		Dur("duration", duration).
		Msg("check cycle completed")

	return errors.Join(errs...)
}

func (r *Runner) logError(err error, msg string) {
	var cycleErr *CycleError
	if errors.As(err, &cycleErr) {
		r.logger.Warn().Err(err).Msg(msg)
		return
	}
	r.logger.Error().Err(err).Msg(msg)
}
