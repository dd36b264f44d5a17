package refresh

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// buildNeededPatterns appear in pull diagnostics when a service has no
// prebuilt image and has to be built locally.
var buildNeededPatterns = []string{
	"manifest unknown",
	"must be built from source",
	"pull access denied",
	"no such image",
	"requires a build",
}

// updatedPatterns appear in pull output when at least one layer was fetched.
var updatedPatterns = []string{
	"downloaded newer image",
	"pull complete",
}

// ImageTool pulls and builds the images of a service manifest. Both methods
// return the tool output even on failure.
type ImageTool interface {
	Pull(ctx context.Context) (string, error)
	Build(ctx context.Context) (string, error)
}

// Outcome describes a completed refresh.
type Outcome struct {
	Log             string `json:"log"`
	BuiltFromSource bool   `json:"builtFromSource"`
	ImagesUpdated   bool   `json:"imagesUpdated"`
	// PullFailed is set when the pull errored and the build was the recovery path.
	PullFailed bool `json:"pullFailed,omitempty"`
}

// Error is returned when neither pull nor build produced a usable image set.
type Error struct {
	PullErr  error
	BuildErr error
	Log      string
}

func (e *Error) Error() string {
	if e.PullErr != nil {
		return fmt.Sprintf("image refresh failed: pull: %v; build: %v", e.PullErr, e.BuildErr)
	}
	return fmt.Sprintf("image refresh failed: build: %v", e.BuildErr)
}

// Unwrap exposes the build failure, which carries the final classification.
func (e *Error) Unwrap() error {
	return e.BuildErr
}

// Engine brings a stack's images up to date.
type Engine struct {
	logger zerolog.Logger
	tool   ImageTool
}

// New constructs an Engine.
func New(logger zerolog.Logger, tool ImageTool) *Engine {
	return &Engine{logger: logger, tool: tool}
}

// Refresh pulls prebuilt images and falls back to a build from source when
// the pull reports missing images or fails outright.
func (e *Engine) Refresh(ctx context.Context) (Outcome, error) {
	var log strings.Builder

	pullOutput, pullErr := e.tool.Pull(ctx)
	appendSection(&log, "pull", pullOutput)

	needsBuild := BuildNeeded(pullOutput)
	if pullErr != nil && !needsBuild {
		needsBuild = BuildNeeded(pullErr.Error())
	}

	if pullErr == nil && !needsBuild {
		e.logger.Info().Msg("images pulled")
		return Outcome{
			Log:           log.String(),
			ImagesUpdated: ImagesUpdated(pullOutput),
		}, nil
	}

	event := e.logger.Info()
	if pullErr != nil {
		event = e.logger.Warn().Err(pullErr)
	}
	event.Bool("build_needed", needsBuild).Msg("building images from source")

	buildOutput, buildErr := e.tool.Build(ctx)
	appendSection(&log, "build", buildOutput)
	if buildErr != nil {
		return Outcome{Log: log.String(), PullFailed: pullErr != nil}, &Error{
			PullErr:  pullErr,
			BuildErr: buildErr,
			Log:      log.String(),
		}
	}

	return Outcome{
		Log:             log.String(),
		BuiltFromSource: true,
		ImagesUpdated:   true,
		PullFailed:      pullErr != nil,
	}, nil
}

// BuildNeeded reports whether pull diagnostics indicate a local build is required.
func BuildNeeded(output string) bool {
	return containsAny(output, buildNeededPatterns)
}

// ImagesUpdated reports whether pull output shows that new layers were fetched.
func ImagesUpdated(output string) bool {
	return containsAny(output, updatedPatterns)
}

func containsAny(output string, patterns []string) bool {
	lower := strings.ToLower(output)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func appendSection(b *strings.Builder, name, output string) {
	output = strings.TrimSpace(output)
	if output == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "--- %s ---\n%s\n", name, output)
}
