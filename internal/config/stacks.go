package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nholik/stack-updater/internal/reconcile"
)

var (
	stackNamePattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	releaseRepoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
)

// StackConfig describes one managed compose stack.
type StackConfig struct {
	Name string `yaml:"name"`
	// SourceDir is the git checkout holding the service manifest.
	SourceDir   string `yaml:"source_dir"`
	ComposeFile string `yaml:"compose_file,omitempty"`
	// Project is the compose project name; defaults to Name.
	Project string `yaml:"project,omitempty"`
	Branch  string `yaml:"branch,omitempty"`
	Remote  string `yaml:"remote,omitempty"`
	// SelfReportURLs are tried in order to read the deployed version.
	SelfReportURLs []string `yaml:"self_report_urls,omitempty"`
	// ReleaseRepo is the owner/repo whose latest release is the update target.
	ReleaseRepo   string             `yaml:"release_repo,omitempty"`
	AutoUpdate    bool               `yaml:"auto_update,omitempty"`
	Prune         bool               `yaml:"prune,omitempty"`
	HandleChanges reconcile.Strategy `yaml:"handle_changes,omitempty"`
}

// StacksFile is the parsed YAML structure for the stacks file:
// stacks: [{name, source_dir, ...}]
type StacksFile struct {
	Stacks []StackConfig `yaml:"stacks"`
}

// LoadStacksFile parses and validates the stacks file at path.
func LoadStacksFile(path string) ([]StackConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("stacks file path must not be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stacks file: %w", err)
	}

	var sf StacksFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse stacks file: %w", err)
	}

	baseDir := filepath.Dir(path)
	for i := range sf.Stacks {
		applyStackDefaults(&sf.Stacks[i], baseDir)
	}

	if err := validateStacks(sf.Stacks); err != nil {
		return nil, err
	}

	return sf.Stacks, nil
}

func applyStackDefaults(s *StackConfig, baseDir string) {
	s.Name = strings.TrimSpace(s.Name)
	if s.Project == "" {
		s.Project = s.Name
	}
	if s.SourceDir != "" && !filepath.IsAbs(s.SourceDir) {
		s.SourceDir = filepath.Join(baseDir, s.SourceDir)
	}
	if strategy, err := reconcile.ParseStrategy(string(s.HandleChanges)); err == nil {
		s.HandleChanges = strategy
	}
}

// validateStacks ensures all stack entries are valid.
func validateStacks(stacks []StackConfig) error {
	if len(stacks) == 0 {
		return fmt.Errorf("stacks file contains no stacks")
	}

	seen := make(map[string]bool)

	for i, s := range stacks {
		if s.Name == "" {
			return fmt.Errorf("stack %d: name is required", i)
		}
		if !stackNamePattern.MatchString(s.Name) {
			return fmt.Errorf("stack %q: name must be lowercase letters, digits, '-' or '_'", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("stack %q: duplicate name", s.Name)
		}
		seen[s.Name] = true

		if s.SourceDir == "" {
			return fmt.Errorf("stack %q: source_dir is required", s.Name)
		}

		if s.ReleaseRepo != "" && !releaseRepoPattern.MatchString(s.ReleaseRepo) {
			return fmt.Errorf("stack %q: release_repo must be owner/repo", s.Name)
		}

		for _, candidate := range s.SelfReportURLs {
			if err := validateURL(candidate, "self_report_urls"); err != nil {
				return fmt.Errorf("stack %q: %w", s.Name, err)
			}
		}

		if _, err := reconcile.ParseStrategy(string(s.HandleChanges)); err != nil {
			return fmt.Errorf("stack %q: %w", s.Name, err)
		}
	}

	return nil
}
