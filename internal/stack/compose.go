package stack

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultBinary           = "docker"
	defaultBuildTimeout     = 15 * time.Minute
	defaultLifecycleTimeout = 10 * time.Minute
)

// ContainerStatus is one entry of a structured `compose ps` report.
type ContainerStatus struct {
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health"`
	Image   string `json:"Image"`
}

// Compose drives the compose CLI for a single project.
type Compose struct {
	runner       Runner
	binary       string
	dir          string
	file         string
	project      string
	buildTimeout time.Duration

	// lifecycleTimeout bounds down and up. Callers detach those steps from
	// cancellation, so this is their only ceiling.
	lifecycleTimeout time.Duration
}

// ComposeOption customizes Compose.
type ComposeOption func(*Compose)

// WithRunner overrides the command runner.
func WithRunner(runner Runner) ComposeOption {
	return func(c *Compose) {
		if runner != nil {
			c.runner = runner
		}
	}
}

// WithBinary selects the compose executable. A binary named like
// docker-compose is invoked directly; anything else gets a "compose" subcommand.
func WithBinary(binary string) ComposeOption {
	return func(c *Compose) {
		if strings.TrimSpace(binary) != "" {
			c.binary = binary
		}
	}
}

// WithBuildTimeout bounds the build step.
func WithBuildTimeout(timeout time.Duration) ComposeOption {
	return func(c *Compose) {
		if timeout > 0 {
			c.buildTimeout = timeout
		}
	}
}

// WithLifecycleTimeout bounds teardown and bring-up.
func WithLifecycleTimeout(timeout time.Duration) ComposeOption {
	return func(c *Compose) {
		if timeout > 0 {
			c.lifecycleTimeout = timeout
		}
	}
}

// NewCompose returns a Compose for the manifest at dir/file.
func NewCompose(dir, file, project string, opts ...ComposeOption) *Compose {
	c := &Compose{
		runner:       ExecRunner{},
		binary:       defaultBinary,
		dir:          dir,
		file:         file,
		project:      project,
		buildTimeout: defaultBuildTimeout,

		lifecycleTimeout: defaultLifecycleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pull fetches prebuilt images. Output is returned even when the pull fails so
// callers can inspect it for build-needed diagnostics.
func (c *Compose) Pull(ctx context.Context) (string, error) {
	return c.exec(ctx, "pull", "pull")
}

// Build builds every service from source, bounded by the build timeout.
func (c *Compose) Build(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.buildTimeout)
	defer cancel()
	return c.exec(ctx, "build", "build")
}

// Down tears the project down along with its volumes and orphaned containers.
func (c *Compose) Down(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.lifecycleTimeout)
	defer cancel()
	return c.exec(ctx, "down", "down", "--volumes", "--remove-orphans")
}

// Up starts the project detached.
func (c *Compose) Up(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.lifecycleTimeout)
	defer cancel()
	return c.exec(ctx, "up", "up", "-d", "--remove-orphans")
}

// PS returns the structured per-container state of the project.
func (c *Compose) PS(ctx context.Context) ([]ContainerStatus, error) {
	output, err := c.exec(ctx, "ps", "ps", "--all", "--format", "json")
	if err != nil {
		return nil, err
	}
	return ParsePS(output)
}

func (c *Compose) exec(ctx context.Context, op string, args ...string) (string, error) {
	output, err := c.runner.Run(ctx, c.dir, c.binary, c.args(args...)...)
	if err != nil {
		return output, newCommandError("compose "+op, output, err)
	}
	return output, nil
}

func (c *Compose) args(sub ...string) []string {
	var args []string
	if !strings.HasSuffix(filepath.Base(c.binary), "-compose") {
		args = append(args, "compose")
	}
	if c.file != "" {
		args = append(args, "-f", c.file)
	}
	if c.project != "" {
		args = append(args, "-p", c.project)
	}
	return append(args, sub...)
}

// ParsePS decodes `compose ps --format json` output. Newer compose releases
// emit one JSON object per line; older ones emit a single array.
func ParsePS(output string) ([]ContainerStatus, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return []ContainerStatus{}, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var statuses []ContainerStatus
		if err := json.Unmarshal([]byte(trimmed), &statuses); err != nil {
			return nil, fmt.Errorf("decode ps array: %w", err)
		}
		return statuses, nil
	}

	var statuses []ContainerStatus
	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "{") {
			return nil, fmt.Errorf("decode ps line: unexpected %q", line)
		}
		var status ContainerStatus
		if err := json.Unmarshal([]byte(line), &status); err != nil {
			return nil, fmt.Errorf("decode ps line: %w", err)
		}
		statuses = append(statuses, status)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ps output: %w", err)
	}
	return statuses, nil
}

// Running reports whether the container is up. A failing health check counts as not running.
func (s ContainerStatus) Running() bool {
	if !strings.EqualFold(s.State, "running") {
		return false
	}
	return !strings.EqualFold(s.Health, "unhealthy")
}
