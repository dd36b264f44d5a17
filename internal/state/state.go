package state

import (
	"context"
	"sync"
	"time"

	"github.com/nholik/stack-updater/internal/health"
	"github.com/nholik/stack-updater/internal/update"
)

// MaxHistory bounds the number of runs kept per stack.
const MaxHistory = 20

// StackRecord captures the persisted run history for a stack.
type StackRecord struct {
	// History holds the most recent runs, newest last.
	History []update.Result `json:"history"`
	// LastHealth is the most recent post-update snapshot, kept across short-circuited runs.
	LastHealth *health.Snapshot `json:"last_health,omitempty"`
	// LastDeployed is the newest version reported by the deployed stack.
	LastDeployed string    `json:"last_deployed,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Last returns the most recent run, if any.
func (r StackRecord) Last() (update.Result, bool) {
	if len(r.History) == 0 {
		return update.Result{}, false
	}
	return r.History[len(r.History)-1], true
}

// State stores records for all stacks.
type State struct {
	Stacks map[string]StackRecord `json:"stacks"`
}

// Record appends result to the stack's history, trimming it to MaxHistory.
func (s *State) Record(result update.Result) StackRecord {
	if s.Stacks == nil {
		s.Stacks = map[string]StackRecord{}
	}
	record := s.Stacks[result.Stack]
	record.History = append(record.History, result)
	if len(record.History) > MaxHistory {
		record.History = append([]update.Result(nil), record.History[len(record.History)-MaxHistory:]...)
	}
	if result.Health != nil {
		snapshot := *result.Health
		record.LastHealth = &snapshot
	}
	if result.VersionCheck != nil && result.VersionCheck.Deployed != "" {
		record.LastDeployed = result.VersionCheck.Deployed
	}
	record.UpdatedAt = result.FinishedAt
	s.Stacks[result.Stack] = record
	return record
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// MemoryStore keeps state in memory, for runs without a state file.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: State{Stacks: map[string]StackRecord{}}}
}

// Load returns the stored state.
func (m *MemoryStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone(), nil
}

// Save replaces the stored state.
func (m *MemoryStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state.clone()
	return nil
}

func (s State) clone() State {
	out := State{Stacks: make(map[string]StackRecord, len(s.Stacks))}
	for name, record := range s.Stacks {
		record.History = append([]update.Result(nil), record.History...)
		out.Stacks[name] = record
	}
	return out
}
