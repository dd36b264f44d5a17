package update

import (
	"fmt"
	"sync"
)

// Plan is the append-only step log of one update run.
type Plan struct {
	mu    sync.Mutex
	steps []string
}

// NewPlan returns an empty Plan.
func NewPlan() *Plan {
	return &Plan{}
}

// Append records a step.
func (p *Plan) Append(step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step)
}

// Appendf records a formatted step.
func (p *Plan) Appendf(format string, args ...any) {
	p.Append(fmt.Sprintf(format, args...))
}

// Steps returns a copy of the recorded steps.
func (p *Plan) Steps() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.steps))
	copy(out, p.steps)
	return out
}

// Len returns the number of recorded steps.
func (p *Plan) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}
