package stack

import (
	"context"
	"errors"
	"os/exec"
	"sync"
)

const defaultMaxOutput = 16 << 20

// Runner executes an external command in dir and returns its combined output.
// Implementations must return the output captured so far even when the command fails.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec. Output beyond MaxOutput bytes keeps
// only the most recent bytes, so large build logs never fail the capture.
type ExecRunner struct {
	MaxOutput int
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	limit := r.MaxOutput
	if limit <= 0 {
		limit = defaultMaxOutput
	}

	buf := &tailBuffer{limit: limit}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = buf
	cmd.Stderr = buf

	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		err = errors.Join(ctx.Err(), err)
	}
	return buf.String(), err
}

// tailBuffer retains at most limit bytes, discarding the oldest first.
type tailBuffer struct {
	mu        sync.Mutex
	limit     int
	data      []byte
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if len(p) >= b.limit {
		b.data = append(b.data[:0], p[len(p)-b.limit:]...)
		b.truncated = true
		return n, nil
	}
	if overflow := len(b.data) + len(p) - b.limit; overflow > 0 {
		b.data = append(b.data[:0], b.data[overflow:]...)
		b.truncated = true
	}
	b.data = append(b.data, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return "[earlier output truncated]\n" + string(b.data)
	}
	return string(b.data)
}
