package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Strategy selects how uncommitted local modifications are handled before an update.
type Strategy string

const (
	// Preserve shelves the modifications so they can be restored manually.
	Preserve Strategy = "preserve"
	// Archive commits the modifications to a side branch and resets to clean.
	Archive Strategy = "archive"
	// Discard drops the modifications. This cannot be undone.
	Discard Strategy = "discard"
	// Abort refuses to update while modifications are present.
	Abort Strategy = "abort"
)

// DefaultStrategy is used when no strategy is requested.
const DefaultStrategy = Preserve

// ParseStrategy maps a user-supplied value to a Strategy. Empty selects DefaultStrategy.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return DefaultStrategy, nil
	case Preserve:
		return Preserve, nil
	case Archive:
		return Archive, nil
	case Discard:
		return Discard, nil
	case Abort:
		return Abort, nil
	default:
		return "", fmt.Errorf("unknown change handling strategy %q (want preserve, archive, discard or abort)", value)
	}
}

// ChangeSet lists paths with uncommitted modifications.
type ChangeSet []string

// Empty reports whether there is nothing to reconcile.
func (c ChangeSet) Empty() bool {
	return len(c) == 0
}

// Outcome describes the result of reconciliation.
type Outcome struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	ArchiveRef string   `json:"archiveRef,omitempty"`
	Strategy   Strategy `json:"strategy"`
	Changes    int      `json:"changes"`
}

// AbortedError is returned when modifications are present and the strategy is Abort.
type AbortedError struct {
	Changes ChangeSet
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("update aborted: local modifications present (%d files)", len(e.Changes))
}

// Repository is the subset of version control operations the reconciler needs.
type Repository interface {
	Status(ctx context.Context) ([]string, error)
	Stash(ctx context.Context, label string) error
	CreateBranch(ctx context.Context, name string) error
	CommitAll(ctx context.Context, message string) error
	Checkout(ctx context.Context, branch string) error
	ResetHard(ctx context.Context, ref string) error
	Clean(ctx context.Context) error
	CurrentBranch(ctx context.Context) (string, error)
}

// Reconciler applies a Strategy to the source checkout.
type Reconciler struct {
	logger zerolog.Logger
	repo   Repository
	now    func() time.Time
}

// Option customizes reconciler behavior.
type Option func(*Reconciler)

// WithClock overrides the time source used for labels and branch names.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// New constructs a Reconciler.
func New(logger zerolog.Logger, repo Repository, opts ...Option) *Reconciler {
	r := &Reconciler{
		logger: logger,
		repo:   repo,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile detects local modifications and applies strategy to them. The
// detected ChangeSet is always returned so callers can report it.
func (r *Reconciler) Reconcile(ctx context.Context, strategy Strategy) (Outcome, ChangeSet, error) {
	if strategy == "" {
		strategy = DefaultStrategy
	}

	paths, err := r.repo.Status(ctx)
	if err != nil {
		return Outcome{Strategy: strategy}, nil, fmt.Errorf("detect local modifications: %w", err)
	}
	changes := ChangeSet(paths)

	if changes.Empty() {
		return Outcome{
			Success:  true,
			Message:  "no local modifications; nothing to reconcile",
			Strategy: strategy,
		}, changes, nil
	}

	r.logger.Info().
		Int("changes", len(changes)).
		Str("strategy", string(strategy)).
		Msg("local modifications detected")

	var outcome Outcome
	switch strategy {
	case Abort:
		return Outcome{Strategy: strategy, Changes: len(changes)}, changes, &AbortedError{Changes: changes}
	case Preserve:
		outcome, err = r.preserve(ctx, changes)
	case Archive:
		outcome, err = r.archive(ctx, changes)
	case Discard:
		outcome, err = r.discard(ctx, changes)
	default:
		return Outcome{Strategy: strategy}, changes, fmt.Errorf("unknown change handling strategy %q", strategy)
	}
	outcome.Strategy = strategy
	outcome.Changes = len(changes)
	return outcome, changes, err
}

func (r *Reconciler) preserve(ctx context.Context, changes ChangeSet) (Outcome, error) {
	label := fmt.Sprintf("stack-updater auto-stash %s", r.now().UTC().Format(time.RFC3339))
	if err := r.repo.Stash(ctx, label); err != nil {
		return Outcome{}, fmt.Errorf("stash local modifications: %w", err)
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("stashed %d modified files as %q; restore them with `git stash list` and `git stash pop`", len(changes), label),
	}, nil
}

func (r *Reconciler) archive(ctx context.Context, changes ChangeSet) (Outcome, error) {
	original, err := r.repo.CurrentBranch(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("determine current branch: %w", err)
	}
	if original == "" {
		return Outcome{}, fmt.Errorf("cannot archive local modifications from a detached HEAD")
	}

	stamp := r.now().UTC().Format("20060102-150405")
	branch := "local-changes/" + stamp
	if err := r.repo.CreateBranch(ctx, branch); err != nil {
		return Outcome{}, fmt.Errorf("create archive branch: %w", err)
	}
	if err := r.repo.CommitAll(ctx, fmt.Sprintf("Archive local modifications before update (%s)", stamp)); err != nil {
		return Outcome{}, fmt.Errorf("commit to archive branch: %w", err)
	}
	if err := r.repo.Checkout(ctx, original); err != nil {
		return Outcome{}, fmt.Errorf("return to %s: %w", original, err)
	}
	if err := r.repo.ResetHard(ctx, "HEAD"); err != nil {
		return Outcome{}, fmt.Errorf("reset %s: %w", original, err)
	}

	return Outcome{
		Success:    true,
		Message:    fmt.Sprintf("archived %d modified files to branch %s and reset %s to a clean state", len(changes), branch, original),
		ArchiveRef: branch,
	}, nil
}

func (r *Reconciler) discard(ctx context.Context, changes ChangeSet) (Outcome, error) {
	if err := r.repo.ResetHard(ctx, "HEAD"); err != nil {
		return Outcome{}, fmt.Errorf("reset local modifications: %w", err)
	}
	if err := r.repo.Clean(ctx); err != nil {
		return Outcome{}, fmt.Errorf("remove untracked files: %w", err)
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("permanently discarded %d modified files; this cannot be undone", len(changes)),
	}, nil
}
