package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-C", dir}, args...)
	out, err := exec.Command("git", full...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// initRepo creates a repo on branch main with one committed file.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if out, err := exec.Command("git", "init", "-b", "main", dir).CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}
	gitCmd(t, dir, "config", "user.email", "test@test.com")
	gitCmd(t, dir, "config", "user.name", "Test")
	writeFile(t, dir, "compose.yml", "services: {}\n")
	gitCmd(t, dir, "add", "compose.yml")
	gitCmd(t, dir, "commit", "-m", "initial")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParsePorcelain(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{name: "empty", output: "", want: nil},
		{
			name:   "modified and untracked",
			output: " M compose.yml\x00?? notes/todo.txt\x00",
			want:   []string{"compose.yml", "notes/todo.txt"},
		},
		{
			name:   "rename skips origin",
			output: "R  new.env\x00old.env\x00 M compose.yml\x00",
			want:   []string{"new.env", "compose.yml"},
		},
		{
			name:   "space and non-ascii kept verbatim",
			output: "A  with space.txt\x00?? café.env\x00",
			want:   []string{"with space.txt", "café.env"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePorcelain(tt.output)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parsePorcelain = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpen_RejectsNonRepo(t *testing.T) {
	if _, err := Open(t.TempDir(), "", ""); err == nil {
		t.Fatal("expected error for directory without .git")
	}
}

func TestRepo_StatusAndStash(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := initRepo(t)

	repo, err := Open(dir, "", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	changes, err := repo.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected clean tree, got %v", changes)
	}

	writeFile(t, dir, "compose.yml", "services: {api: {image: api}}\n")
	writeFile(t, dir, "local.env", "KEY=value\n")

	changes, err = repo.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !reflect.DeepEqual(changes, []string{"compose.yml", "local.env"}) {
		t.Fatalf("unexpected changes: %v", changes)
	}

	if err := repo.Stash(ctx, "stack-updater test"); err != nil {
		t.Fatalf("stash: %v", err)
	}
	changes, err = repo.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected clean tree after stash, got %v", changes)
	}
	if list := gitCmd(t, dir, "stash", "list"); !strings.Contains(list, "stack-updater test") {
		t.Fatalf("expected labeled stash entry, got %q", list)
	}
}

func TestRepo_ArchiveBranchFlow(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := initRepo(t)
	repo, err := Open(dir, "", "main")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	writeFile(t, dir, "override.yml", "x: 1\n")

	if err := repo.CreateBranch(ctx, "local-changes/test"); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if err := repo.CommitAll(ctx, "archive"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		t.Fatalf("current branch: %v", err)
	}
	if branch != "local-changes/test" {
		t.Fatalf("expected archive branch checked out, got %q", branch)
	}

	if err := repo.Checkout(ctx, "main"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := repo.ResetHard(ctx, "HEAD"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "override.yml")); !os.IsNotExist(err) {
		t.Fatalf("expected override.yml absent on main, stat err %v", err)
	}
	if files := gitCmd(t, dir, "show", "--name-only", "--format=", "local-changes/test"); files != "override.yml" {
		t.Fatalf("expected archive commit to contain override.yml, got %q", files)
	}
}

func TestRepo_ResetAndClean(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := initRepo(t)
	repo, err := Open(dir, "", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	writeFile(t, dir, "compose.yml", "changed\n")
	if err := os.MkdirAll(filepath.Join(dir, "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, filepath.Join("scratch", "tmp.txt"), "x\n")

	if err := repo.ResetHard(ctx, "HEAD"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := repo.Clean(ctx); err != nil {
		t.Fatalf("clean: %v", err)
	}

	changes, err := repo.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected clean tree, got %v", changes)
	}
}

func TestRepo_RevisionPrefersNewestTag(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := initRepo(t)
	repo, err := Open(dir, "", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	rev, err := repo.Revision(ctx)
	if err != nil {
		t.Fatalf("revision: %v", err)
	}
	if want := gitCmd(t, dir, "rev-parse", "--short=7", "HEAD"); rev != want {
		t.Fatalf("expected short hash %q, got %q", want, rev)
	}

	gitCmd(t, dir, "tag", "r9")
	gitCmd(t, dir, "tag", "-a", "r10", "-m", "release 10")

	rev, err = repo.Version(ctx)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if rev != "r10" {
		t.Fatalf("expected r10, got %q", rev)
	}
}

func TestRepo_PullAndEnsureBranch(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	upstream := initRepo(t)

	clone := filepath.Join(t.TempDir(), "clone")
	if out, err := exec.Command("git", "clone", upstream, clone).CombinedOutput(); err != nil {
		t.Fatalf("clone: %v: %s", err, out)
	}
	gitCmd(t, clone, "checkout", "-b", "feature")

	repo, err := Open(clone, "origin", "main")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	previous, switched, err := repo.EnsureBranch(ctx)
	if err != nil {
		t.Fatalf("ensure branch: %v", err)
	}
	if !switched || previous != "feature" {
		t.Fatalf("expected switch from feature, got previous=%q switched=%v", previous, switched)
	}

	before, err := repo.Revision(ctx)
	if err != nil {
		t.Fatalf("revision: %v", err)
	}

	writeFile(t, upstream, "compose.yml", "services: {web: {image: web}}\n")
	gitCmd(t, upstream, "commit", "-am", "update")

	if err := repo.Fetch(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := repo.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}

	after, err := repo.Revision(ctx)
	if err != nil {
		t.Fatalf("revision: %v", err)
	}
	if before == after {
		t.Fatalf("expected revision to change after pull, still %q", after)
	}
}

func TestRepo_StatusReportsRawPaths(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := initRepo(t)
	repo, err := Open(dir, "", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	writeFile(t, dir, "café.env", "KEY=value\n")
	writeFile(t, dir, "with space.txt", "x\n")

	changes, err := repo.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !reflect.DeepEqual(changes, []string{"café.env", "with space.txt"}) {
		t.Fatalf("unexpected changes: %q", changes)
	}
}

func TestRepo_OutputExcludesStderr(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	repo, err := Open(dir, "", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// checkout reports "Switched to a new branch" on stderr only.
	out, err := repo.output(context.Background(), "checkout", "-b", "side")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty stdout, got %q", out)
	}
}

func TestRepo_CommandErrorIncludesOutput(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	repo, err := Open(dir, "", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	err = repo.Checkout(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("expected checkout error")
	}
	if !strings.Contains(err.Error(), "git checkout failed") {
		t.Fatalf("unexpected error text: %v", err)
	}
	if !strings.Contains(err.Error(), "does-not-exist") {
		t.Fatalf("expected stderr detail in error, got %v", err)
	}
}
