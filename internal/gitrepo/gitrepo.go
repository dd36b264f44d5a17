package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/nholik/stack-updater/internal/version"
)

const (
	defaultRemote = "origin"
	defaultBranch = "main"
	shortHashLen  = 7

	commitName  = "stack-updater"
	commitEmail = "stack-updater@localhost"
)

// Repo operates on the source checkout of a stack. Mutations shell out to git;
// read-only queries go through go-git.
type Repo struct {
	dir    string
	remote string
	branch string
}

// Open validates that dir is a git work tree and returns a Repo tracking remote/branch.
func Open(dir, remote, branch string) (*Repo, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("source directory must not be empty")
	}
	if _, err := git.PlainOpen(dir); err != nil {
		return nil, fmt.Errorf("opening repo %s: %w", dir, err)
	}
	if remote == "" {
		remote = defaultRemote
	}
	if branch == "" {
		branch = defaultBranch
	}
	return &Repo{dir: dir, remote: remote, branch: branch}, nil
}

// Branch returns the canonical branch name.
func (r *Repo) Branch() string {
	return r.branch
}

// Status lists modified and untracked paths relative to HEAD.
func (r *Repo) Status(ctx context.Context) ([]string, error) {
	output, err := r.output(ctx, "status", "--porcelain", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(output), nil
}

// Fetch updates remote-tracking refs.
func (r *Repo) Fetch(ctx context.Context) error {
	return r.run(ctx, "fetch", r.remote)
}

// Stash shelves tracked and untracked modifications under label.
func (r *Repo) Stash(ctx context.Context, label string) error {
	return r.run(ctx,
		"-c", "user.name="+commitName,
		"-c", "user.email="+commitEmail,
		"stash", "push", "--include-untracked", "-m", label,
	)
}

// CreateBranch creates name at HEAD and switches to it, carrying the work tree along.
func (r *Repo) CreateBranch(ctx context.Context, name string) error {
	return r.run(ctx, "checkout", "-b", name)
}

// CommitAll stages every change and commits it.
func (r *Repo) CommitAll(ctx context.Context, message string) error {
	if err := r.run(ctx, "add", "-A"); err != nil {
		return err
	}
	return r.run(ctx,
		"-c", "user.name="+commitName,
		"-c", "user.email="+commitEmail,
		"commit", "--no-verify", "-m", message,
	)
}

// Checkout switches to branch.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	return r.run(ctx, "checkout", branch)
}

// ResetHard resets the index and work tree to ref.
func (r *Repo) ResetHard(ctx context.Context, ref string) error {
	return r.run(ctx, "reset", "--hard", ref)
}

// Clean removes untracked files and directories.
func (r *Repo) Clean(ctx context.Context) error {
	return r.run(ctx, "clean", "-fd")
}

// Pull fast-forwards the canonical branch from the remote.
func (r *Repo) Pull(ctx context.Context) error {
	return r.run(ctx, "pull", "--ff-only", r.remote, r.branch)
}

// EnsureBranch switches to the canonical branch when HEAD is elsewhere.
// It returns the branch that was checked out before, and whether a switch happened.
func (r *Repo) EnsureBranch(ctx context.Context) (string, bool, error) {
	current, err := r.CurrentBranch(ctx)
	if err != nil {
		return "", false, err
	}
	if current == r.branch {
		return current, false, nil
	}
	if err := r.Checkout(ctx, r.branch); err != nil {
		return current, false, err
	}
	return current, true, nil
}

// CurrentBranch returns the checked out branch, or "" on a detached HEAD.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := git.PlainOpen(r.dir)
	if err != nil {
		return "", fmt.Errorf("opening repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("getting HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// Revision returns the newest tag pointing at HEAD, or the short commit hash.
func (r *Repo) Revision(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := git.PlainOpen(r.dir)
	if err != nil {
		return "", fmt.Errorf("opening repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("getting HEAD: %w", err)
	}

	tags, err := repo.Tags()
	if err != nil {
		return "", fmt.Errorf("listing tags: %w", err)
	}
	var best string
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if annotated, err := repo.TagObject(target); err == nil {
			commit, err := annotated.Commit()
			if err != nil {
				return nil
			}
			target = commit.Hash
		}
		if target != head.Hash() {
			return nil
		}
		name := ref.Name().Short()
		if best == "" || version.IsNewer(best, name) {
			best = name
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("resolving tags: %w", err)
	}
	if best != "" {
		return best, nil
	}

	return head.Hash().String()[:shortHashLen], nil
}

// Version implements version.Source for the local checkout.
func (r *Repo) Version(ctx context.Context) (string, error) {
	return r.Revision(ctx)
}

func (r *Repo) run(ctx context.Context, args ...string) error {
	_, err := r.output(ctx, args...)
	return err
}

// output executes git in the work tree and returns its stdout. Diagnostics on
// stderr (progress, line ending warnings) never mix into the result; on
// failure they are carried in the error.
func (r *Repo) output(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", r.dir}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return stdout.String(), fmt.Errorf("git %s failed: %w: %s", gitSubcommand(args), err, detail)
	}
	return stdout.String(), nil
}

func gitSubcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

// parsePorcelain extracts paths from `git status --porcelain -z` output.
// Entries are NUL separated and unquoted; a rename or copy entry carries the
// new path and is followed by a field holding the original path.
func parsePorcelain(output string) []string {
	var paths []string
	fields := strings.Split(output, "\x00")
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		if entry[0] == 'R' || entry[0] == 'C' {
			i++
		}
		paths = append(paths, entry[3:])
	}
	return paths
}
