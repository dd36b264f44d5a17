package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nholik/stack-updater/internal/reconcile"
)

func writeStacksFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stacks.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

func TestLoadStacksFile_Valid(t *testing.T) {
	path := writeStacksFile(t, `stacks:
  - name: gateway
    source_dir: /srv/gateway
    compose_file: compose.prod.yml
    branch: release
    self_report_urls:
      - http://127.0.0.1:8000/version
      - http://gateway.local/version
    release_repo: acme/gateway
    auto_update: true
    prune: true
    handle_changes: Archive
  - name: monitoring
    source_dir: monitoring
`)

	stacks, err := LoadStacksFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stacks) != 2 {
		t.Fatalf("expected 2 stacks, got %d", len(stacks))
	}

	gw := stacks[0]
	if gw.Project != "gateway" || gw.ComposeFile != "compose.prod.yml" || gw.Branch != "release" {
		t.Fatalf("unexpected gateway stack: %+v", gw)
	}
	if len(gw.SelfReportURLs) != 2 || gw.ReleaseRepo != "acme/gateway" || !gw.AutoUpdate || !gw.Prune {
		t.Fatalf("unexpected gateway stack: %+v", gw)
	}
	if gw.HandleChanges != reconcile.Archive {
		t.Fatalf("expected normalized archive strategy, got %q", gw.HandleChanges)
	}

	mon := stacks[1]
	if mon.SourceDir != filepath.Join(filepath.Dir(path), "monitoring") {
		t.Fatalf("expected source_dir relative to stacks file, got %q", mon.SourceDir)
	}
	if mon.HandleChanges != reconcile.DefaultStrategy {
		t.Fatalf("expected default strategy, got %q", mon.HandleChanges)
	}
}

func TestLoadStacksFile_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "empty", yaml: "stacks: []\n", wantErr: "no stacks"},
		{name: "missing name", yaml: "stacks:\n  - source_dir: /srv\n", wantErr: "name is required"},
		{name: "bad name", yaml: "stacks:\n  - name: Gate Way\n    source_dir: /srv\n", wantErr: "name must be"},
		{name: "duplicate", yaml: "stacks:\n  - name: gw\n    source_dir: /a\n  - name: gw\n    source_dir: /b\n", wantErr: "duplicate"},
		{name: "missing source", yaml: "stacks:\n  - name: gw\n", wantErr: "source_dir is required"},
		{name: "bad release repo", yaml: "stacks:\n  - name: gw\n    source_dir: /srv\n    release_repo: gateway\n", wantErr: "owner/repo"},
		{name: "bad self report url", yaml: "stacks:\n  - name: gw\n    source_dir: /srv\n    self_report_urls: [\"ftp://x/version\"]\n", wantErr: "self_report_urls"},
		{name: "bad strategy", yaml: "stacks:\n  - name: gw\n    source_dir: /srv\n    handle_changes: stash\n", wantErr: "unknown change handling strategy"},
		{name: "invalid yaml", yaml: "stacks: [", wantErr: "parse stacks file"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadStacksFile(writeStacksFile(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadStacksFile_MissingFile(t *testing.T) {
	if _, err := LoadStacksFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := LoadStacksFile(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
