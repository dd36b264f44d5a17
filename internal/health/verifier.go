package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/stack-updater/internal/compose"
	"github.com/nholik/stack-updater/internal/stack"
)

// DefaultSettleDelay is how long the verifier waits after bring-up before sampling.
const DefaultSettleDelay = 5 * time.Second

// StatusReporter returns the structured per-container state of a stack.
type StatusReporter interface {
	PS(ctx context.Context) ([]stack.ContainerStatus, error)
}

// Counter answers the two fallback counting queries for a compose project.
type Counter interface {
	CountContainers(ctx context.Context, project string) (running, total int, err error)
}

// Verifier samples a restarted stack once and judges it against the health threshold.
type Verifier struct {
	logger   zerolog.Logger
	reporter StatusReporter
	counter  Counter
	project  string
	expected []compose.Service
	loadFn   ServiceLoader
	settle   time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// ServiceLoader returns the services the manifest currently declares.
type ServiceLoader func(ctx context.Context) ([]compose.Service, error)

// Option customizes verifier behavior.
type Option func(*Verifier)

// WithCounter enables the counting fallback.
func WithCounter(counter Counter) Option {
	return func(v *Verifier) {
		v.counter = counter
	}
}

// WithExpectedServices lists the manifest services that should be running.
func WithExpectedServices(services []compose.Service) Option {
	return func(v *Verifier) {
		v.expected = services
	}
}

// WithServiceLoader reads the expected services at verification time, so a
// manifest changed by the pull is honoured. On load failure the services given
// to WithExpectedServices are used.
func WithServiceLoader(load ServiceLoader) Option {
	return func(v *Verifier) {
		v.loadFn = load
	}
}

// WithSettleDelay overrides DefaultSettleDelay. Zero samples immediately.
func WithSettleDelay(d time.Duration) Option {
	return func(v *Verifier) {
		if d >= 0 {
			v.settle = d
		}
	}
}

// NewVerifier constructs a Verifier for project.
func NewVerifier(logger zerolog.Logger, reporter StatusReporter, project string, opts ...Option) *Verifier {
	v := &Verifier{
		logger:   logger,
		reporter: reporter,
		project:  project,
		settle:   DefaultSettleDelay,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify samples the stack. The bool reports whether the snapshot is healthy.
// An error is returned only when neither the structured report nor the
// counting fallback could be obtained.
func (v *Verifier) Verify(ctx context.Context) (Snapshot, bool, error) {
	if v.settle > 0 {
		if err := v.sleep(ctx, v.settle); err != nil {
			return Snapshot{}, false, err
		}
	}

	containers, psErr := v.reporter.PS(ctx)
	if psErr == nil {
		snapshot := Evaluate(v.expectedServices(ctx), containers)
		return snapshot, snapshot.Healthy(), nil
	}

	v.logger.Warn().
		Err(psErr).
		Str("project", v.project).
		Msg("structured status report unavailable; falling back to container counts")

	if v.counter == nil {
		return Snapshot{}, false, fmt.Errorf("query service state: %w", psErr)
	}

	running, total, countErr := v.counter.CountContainers(ctx, v.project)
	if countErr != nil {
		return Snapshot{}, false, fmt.Errorf("query service state: %w", errors.Join(psErr, countErr))
	}

	snapshot := FromCounts(running, total)
	return snapshot, snapshot.Healthy(), nil
}

func (v *Verifier) expectedServices(ctx context.Context) []compose.Service {
	if v.loadFn == nil {
		return v.expected
	}
	services, err := v.loadFn(ctx)
	if err != nil {
		v.logger.Warn().Err(err).Str("project", v.project).Msg("could not load manifest services; using last known list")
		return v.expected
	}
	return services
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
