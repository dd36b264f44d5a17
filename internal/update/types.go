package update

import (
	"time"

	"github.com/nholik/stack-updater/internal/health"
	"github.com/nholik/stack-updater/internal/reconcile"
	"github.com/nholik/stack-updater/internal/restart"
)

// State names a pipeline stage or terminal outcome.
type State string

const (
	StateStart          State = "start"
	StateVersionCheck   State = "version_check"
	StateShortCircuit   State = "short_circuit"
	StateReconcile      State = "reconcile"
	StateAborted        State = "aborted"
	StateVCPull         State = "vc_pull"
	StateImageRefresh   State = "image_refresh"
	StateTeardown       State = "teardown"
	StatePrune          State = "prune"
	StateBringUp        State = "bring_up"
	StateVerify         State = "verify"
	StateSuccess        State = "success"
	StatePartialFailure State = "partial_failure"
	StateFailed         State = "failed"
)

func stateForStage(stage restart.Stage) State {
	switch stage {
	case restart.StageTeardown:
		return StateTeardown
	case restart.StagePrune:
		return StatePrune
	default:
		return StateBringUp
	}
}

// Options are the per-invocation parameters of an update run.
type Options struct {
	PerformPrune  bool               `json:"performPrune"`
	ForceUpdate   bool               `json:"forceUpdate"`
	HandleChanges reconcile.Strategy `json:"handleChanges"`
}

// VersionCheck summarizes the version resolver outcome.
type VersionCheck struct {
	Skipped      bool   `json:"skipped"`
	Deployed     string `json:"deployed,omitempty"`
	Local        string `json:"local,omitempty"`
	Latest       string `json:"latest,omitempty"`
	UpdateNeeded bool   `json:"updateNeeded"`
	Reason       string `json:"reason"`
}

// Result is the structured outcome of one update run. It is populated for
// every outcome, including fatal failures.
type Result struct {
	RunID   string `json:"runId"`
	Stack   string `json:"stack"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	// State is the terminal state; Stage is the last stage the run entered.
	State State    `json:"state"`
	Stage State    `json:"stage"`
	Steps []string `json:"steps"`

	Options           Options             `json:"options"`
	VersionCheck      *VersionCheck       `json:"versionCheck,omitempty"`
	Reconcile         *reconcile.Outcome  `json:"reconcile,omitempty"`
	ChangeSet         reconcile.ChangeSet `json:"changeSet,omitempty"`
	RevisionBefore    string              `json:"revisionBefore,omitempty"`
	RevisionAfter     string              `json:"revisionAfter,omitempty"`
	RepositoryUpdated bool                `json:"repositoryUpdated"`
	ManifestChanged   bool                `json:"manifestChanged"`
	ImagesUpdated     bool                `json:"imagesUpdated"`
	BuiltFromSource   bool                `json:"builtFromSource"`
	PullFailed        bool                `json:"pullFailed,omitempty"`
	Restart           *restart.Outcome    `json:"restart,omitempty"`
	Pruned            bool                `json:"pruned"`
	Health            *health.Snapshot    `json:"health,omitempty"`
	// Output is the raw tool output of the failing or build step, tail-trimmed.
	Output string `json:"output,omitempty"`

	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Hint      string    `json:"hint,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	// Shared is set when this caller joined a run started by another caller.
	Shared bool `json:"shared,omitempty"`
}

// Duration returns how long the run took.
func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
