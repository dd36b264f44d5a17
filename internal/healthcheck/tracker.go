package healthcheck

import (
	"sort"
	"sync"
	"time"
)

// Snapshot describes the latest check cycle and dependency state.
type Snapshot struct {
	LastCycleTime   *time.Time        `json:"last_cycle_time"`
	CycleDurationMS int64             `json:"cycle_duration_ms"`
	StacksChecked   int               `json:"stacks_checked"`
	ChecksEnabled   bool              `json:"checks_enabled"`
	Dependencies    map[string]string `json:"dependencies,omitempty"`
}

// Tracker records check-cycle timing and dependency reachability for the
// health endpoints.
type Tracker struct {
	mu            sync.RWMutex
	now           func() time.Time
	started       time.Time
	pollInterval  time.Duration
	lastCycle     time.Time
	cycleDuration time.Duration
	stacksChecked int
	dependencies  map[string]error
}

// NewTracker constructs a Tracker. A zero pollInterval means periodic checks
// are disabled and liveness does not depend on cycles.
func NewTracker(pollInterval time.Duration) *Tracker {
	return &Tracker{
		now:          time.Now,
		started:      time.Now().UTC(),
		pollInterval: pollInterval,
		dependencies: map[string]error{},
	}
}

// RecordCycle updates cycle timing.
func (t *Tracker) RecordCycle(duration time.Duration, stacksChecked int) {
	if t == nil {
		return
	}
	now := t.now().UTC()
	t.mu.Lock()
	t.lastCycle = now
	t.cycleDuration = duration
	t.stacksChecked = stacksChecked
	t.mu.Unlock()
}

// SetDependency records whether a named dependency is reachable. A nil error
// marks it healthy.
func (t *Tracker) SetDependency(name string, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.dependencies[name] = err
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastCycle.IsZero() {
		value := t.lastCycle
		last = &value
	}
	var deps map[string]string
	if len(t.dependencies) > 0 {
		deps = make(map[string]string, len(t.dependencies))
		for name, err := range t.dependencies {
			deps[name] = "ok"
			if err != nil {
				deps[name] = err.Error()
			}
		}
	}
	return Snapshot{
		LastCycleTime:   last,
		CycleDurationMS: int64(t.cycleDuration / time.Millisecond),
		StacksChecked:   t.stacksChecked,
		ChecksEnabled:   t.pollInterval > 0,
		Dependencies:    deps,
	}
}

// Ready reports whether every recorded dependency is reachable and, when
// checks are enabled, at least one cycle has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, err := range t.dependencies {
		if err != nil {
			return false
		}
	}
	return t.pollInterval <= 0 || !t.lastCycle.IsZero()
}

// Healthy reports whether the last cycle completed within 2x the poll
// interval. Before the first cycle the process is given the same grace
// period from start-up.
func (t *Tracker) Healthy(now time.Time) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.pollInterval <= 0 {
		return true
	}
	reference := t.lastCycle
	if reference.IsZero() {
		reference = t.started
	}
	return now.Sub(reference) <= 2*t.pollInterval
}

// FailingDependencies lists unreachable dependencies in name order.
func (t *Tracker) FailingDependencies() []string {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var names []string
	for name, err := range t.dependencies {
		if err != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
