// Package gitops wraps the workspace-local git operations the orchestrator
// needs: init, commit, branch and worktree management, merge with
// conflict detection and resolution. It shells out to the git binary via
// os/exec, in the CLI-subprocess idiom of cklxx-elephant.ai's
// internal/devops/docker.CLIClient rather than an in-process git library —
// git's own CLI is the most complete implementation of its own semantics,
// and worktree/merge plumbing in particular has no mature pure-Go
// equivalent in the example pack.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"legatus/pkg/errs"
)

// Operator is a stateful wrapper over one main workspace path. Git
// operations on the main workspace are serialised through mainMu (spec
// §5); operations on distinct worktree paths are not.
type Operator struct {
	workspace string
	logger    *slog.Logger
	mainMu    sync.Mutex
}

// New builds an Operator rooted at workspace (the main checkout path).
func New(workspace string, logger *slog.Logger) *Operator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operator{workspace: workspace, logger: logger}
}

// MergeResult is the outcome of MergeBranch.
type MergeResult struct {
	Success       bool
	Hash          string
	ConflictFiles []string
}

func (o *Operator) run(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

// InitRepo is idempotent: it configures identity, guarantees at least one
// commit exists so worktrees are usable, and marks the workspace safe even
// when filesystem ownership differs from the caller's (e.g. a container
// running as a different uid than the host checkout).
func (o *Operator) InitRepo(ctx context.Context) error {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()

	if _, _, err := o.run(ctx, o.workspace, "rev-parse", "--is-inside-work-tree"); err != nil {
		if _, stderr, initErr := o.run(ctx, o.workspace, "init"); initErr != nil {
			return errs.Wrap("gitops", "InitRepo", errs.ErrUnavailable, "git init failed: "+stderr, initErr)
		}
	}

	if _, _, err := o.run(ctx, o.workspace, "config", "--global", "--add", "safe.directory", o.workspace); err != nil {
		o.logger.Warn("could not mark workspace safe.directory", "workspace", o.workspace, "error", err)
	}
	if _, _, err := o.run(ctx, o.workspace, "config", "user.email"); err != nil {
		if _, _, cerr := o.run(ctx, o.workspace, "config", "user.email", "legatus@localhost"); cerr != nil {
			return errs.Wrap("gitops", "InitRepo", errs.ErrUnavailable, "config user.email", cerr)
		}
	}
	if _, _, err := o.run(ctx, o.workspace, "config", "user.name"); err != nil {
		if _, _, cerr := o.run(ctx, o.workspace, "config", "user.name", "legatus"); cerr != nil {
			return errs.Wrap("gitops", "InitRepo", errs.ErrUnavailable, "config user.name", cerr)
		}
	}

	if out, _, _ := o.run(ctx, o.workspace, "rev-parse", "--verify", "HEAD"); out == "" {
		if _, _, err := o.run(ctx, o.workspace, "commit", "--allow-empty", "-m", "legatus: initial commit"); err != nil {
			return errs.Wrap("gitops", "InitRepo", errs.ErrUnavailable, "could not create initial commit", err)
		}
	}
	return nil
}

// CommitChanges stages all changes in the main workspace and commits them.
// Returns "" when nothing was staged.
func (o *Operator) CommitChanges(ctx context.Context, message string) (string, error) {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()
	return o.commitIn(ctx, o.workspace, message)
}

func (o *Operator) commitIn(ctx context.Context, dir, message string) (string, error) {
	if _, _, err := o.run(ctx, dir, "add", "-A"); err != nil {
		return "", errs.Wrap("gitops", "commit", errs.ErrUnavailable, "git add failed", err)
	}
	out, _, err := o.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return "", errs.Wrap("gitops", "commit", errs.ErrUnavailable, "git status failed", err)
	}
	if out == "" {
		return "", nil
	}
	if _, stderr, err := o.run(ctx, dir, "commit", "-m", message); err != nil {
		return "", errs.Wrap("gitops", "commit", errs.ErrUnavailable, "git commit failed: "+stderr, err)
	}
	hash, _, err := o.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", errs.Wrap("gitops", "commit", errs.ErrUnavailable, "rev-parse failed", err)
	}
	return hash, nil
}

// CommitInWorktree commits within a specific worktree directory. It passes
// explicit --git-dir/--work-tree rather than relying on the worktree's
// .git pointer file, because a caller that ran `git init` inside the
// worktree (e.g. an agent mistaking it for a fresh repo) can overwrite
// that pointer; an explicit git-dir still resolves to the correct branch.
func (o *Operator) CommitInWorktree(ctx context.Context, worktreePath, message string) (string, error) {
	gitDir, _, err := o.run(ctx, o.workspace, "rev-parse", "--git-dir")
	if err != nil {
		return "", errs.Wrap("gitops", "CommitInWorktree", errs.ErrUnavailable, "resolve git-dir", err)
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(o.workspace, gitDir)
	}
	commonDir, _, err := o.run(ctx, worktreePath, "rev-parse", "--git-common-dir")
	if err == nil && commonDir != "" {
		if !filepath.IsAbs(commonDir) {
			commonDir = filepath.Join(worktreePath, commonDir)
		}
		gitDir = commonDir
	}

	args := []string{"--git-dir", gitDir, "--work-tree", worktreePath, "add", "-A"}
	if _, _, err := o.run(ctx, worktreePath, args...); err != nil {
		return "", errs.Wrap("gitops", "CommitInWorktree", errs.ErrUnavailable, "git add failed", err)
	}
	statusArgs := []string{"--git-dir", gitDir, "--work-tree", worktreePath, "status", "--porcelain"}
	out, _, err := o.run(ctx, worktreePath, statusArgs...)
	if err != nil {
		return "", errs.Wrap("gitops", "CommitInWorktree", errs.ErrUnavailable, "git status failed", err)
	}
	if out == "" {
		return "", nil
	}
	commitArgs := []string{"--git-dir", gitDir, "--work-tree", worktreePath, "commit", "-m", message}
	if _, stderr, err := o.run(ctx, worktreePath, commitArgs...); err != nil {
		return "", errs.Wrap("gitops", "CommitInWorktree", errs.ErrUnavailable, "git commit failed: "+stderr, err)
	}
	hashArgs := []string{"--git-dir", gitDir, "--work-tree", worktreePath, "rev-parse", "HEAD"}
	hash, _, err := o.run(ctx, worktreePath, hashArgs...)
	if err != nil {
		return "", errs.Wrap("gitops", "CommitInWorktree", errs.ErrUnavailable, "rev-parse failed", err)
	}
	return hash, nil
}

// GetCurrentBranch returns the checked-out branch name in the main workspace.
func (o *Operator) GetCurrentBranch(ctx context.Context) (string, error) {
	out, _, err := o.run(ctx, o.workspace, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errs.Wrap("gitops", "GetCurrentBranch", errs.ErrUnavailable, "rev-parse failed", err)
	}
	return out, nil
}

// Checkout switches the main workspace to an existing branch.
func (o *Operator) Checkout(ctx context.Context, branch string) error {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()
	if _, stderr, err := o.run(ctx, o.workspace, "checkout", branch); err != nil {
		return errs.Wrap("gitops", "Checkout", errs.ErrUnavailable, "checkout failed: "+stderr, err)
	}
	return nil
}

// EnsureWorkingBranch creates branch if it doesn't exist, else checks it
// out. Calling it twice is a no-op the second time.
func (o *Operator) EnsureWorkingBranch(ctx context.Context, branch string) error {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()

	current, _, _ := o.run(ctx, o.workspace, "rev-parse", "--abbrev-ref", "HEAD")
	if current == branch {
		return nil
	}
	if _, _, err := o.run(ctx, o.workspace, "rev-parse", "--verify", branch); err == nil {
		if _, stderr, err := o.run(ctx, o.workspace, "checkout", branch); err != nil {
			return errs.Wrap("gitops", "EnsureWorkingBranch", errs.ErrUnavailable, "checkout failed: "+stderr, err)
		}
		return nil
	}
	if _, stderr, err := o.run(ctx, o.workspace, "checkout", "-b", branch); err != nil {
		return errs.Wrap("gitops", "EnsureWorkingBranch", errs.ErrUnavailable, "checkout -b failed: "+stderr, err)
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func (o *Operator) DeleteBranch(ctx context.Context, branch string) error {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()
	if _, stderr, err := o.run(ctx, o.workspace, "branch", "-D", branch); err != nil {
		return errs.Wrap("gitops", "DeleteBranch", errs.ErrUnavailable, "branch -D failed: "+stderr, err)
	}
	return nil
}

// CreateWorktree creates a new branch off current HEAD and materialises it
// at path.
func (o *Operator) CreateWorktree(ctx context.Context, path, branch string) error {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()
	if _, stderr, err := o.run(ctx, o.workspace, "worktree", "add", "-b", branch, path); err != nil {
		return errs.Wrap("gitops", "CreateWorktree", errs.ErrUnavailable, "worktree add failed: "+stderr, err)
	}
	return nil
}

// RemoveWorktree force-removes a worktree and prunes its metadata.
func (o *Operator) RemoveWorktree(ctx context.Context, path string) error {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()
	_, stderr, err := o.run(ctx, o.workspace, "worktree", "remove", "--force", path)
	if err != nil {
		o.logger.Warn("worktree remove failed, pruning anyway", "path", path, "error", stderr)
	}
	if _, _, pruneErr := o.run(ctx, o.workspace, "worktree", "prune"); pruneErr != nil {
		return errs.Wrap("gitops", "RemoveWorktree", errs.ErrUnavailable, "worktree prune failed", pruneErr)
	}
	return err
}

// MergeBranch performs a non-fast-forward merge of source into the
// currently checked-out branch. It never aborts automatically on conflict
// — the caller decides, per spec §4.7.
func (o *Operator) MergeBranch(ctx context.Context, source, message string) (MergeResult, error) {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()

	_, stderr, err := o.run(ctx, o.workspace, "merge", "--no-ff", "-m", message, source)
	if err == nil {
		hash, _, herr := o.run(ctx, o.workspace, "rev-parse", "HEAD")
		if herr != nil {
			return MergeResult{}, errs.Wrap("gitops", "MergeBranch", errs.ErrUnavailable, "rev-parse after merge", herr)
		}
		return MergeResult{Success: true, Hash: hash}, nil
	}

	files, lerr := o.conflictFilesLocked(ctx)
	if lerr != nil {
		return MergeResult{}, errs.Wrap("gitops", "MergeBranch", errs.ErrUnavailable, "merge failed and conflict list unavailable: "+stderr, err)
	}
	if len(files) == 0 {
		// Non-conflict failure (e.g. unrelated histories, dirty tree).
		return MergeResult{Success: false}, errs.Wrap("gitops", "MergeBranch", errs.ErrUnavailable, "merge failed: "+stderr, err)
	}
	return MergeResult{Success: false, ConflictFiles: files}, nil
}

func (o *Operator) conflictFilesLocked(ctx context.Context) ([]string, error) {
	out, _, err := o.run(ctx, o.workspace, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// GetConflictFiles lists paths currently in merge-conflict state.
func (o *Operator) GetConflictFiles(ctx context.Context) ([]string, error) {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()
	return o.conflictFilesLocked(ctx)
}

// ResolveConflictsTheirs resolves the given files by taking the incoming
// side and staging them. Used only for the closed auto-resolve pattern
// list (spec §4.7); real source conflicts are never auto-resolved.
func (o *Operator) ResolveConflictsTheirs(ctx context.Context, files []string) error {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()

	for _, f := range files {
		if _, stderr, err := o.run(ctx, o.workspace, "checkout", "--theirs", "--", f); err != nil {
			return errs.Wrap("gitops", "ResolveConflictsTheirs", errs.ErrUnavailable, "checkout --theirs failed for "+f+": "+stderr, err)
		}
		if _, stderr, err := o.run(ctx, o.workspace, "add", "--", f); err != nil {
			return errs.Wrap("gitops", "ResolveConflictsTheirs", errs.ErrUnavailable, "add failed for "+f+": "+stderr, err)
		}
	}
	return nil
}

// CommitMergeResolution commits a manually or auto-resolved merge.
func (o *Operator) CommitMergeResolution(ctx context.Context, message string) (string, error) {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()
	if _, stderr, err := o.run(ctx, o.workspace, "commit", "-m", message); err != nil {
		return "", errs.Wrap("gitops", "CommitMergeResolution", errs.ErrUnavailable, "commit failed: "+stderr, err)
	}
	hash, _, err := o.run(ctx, o.workspace, "rev-parse", "HEAD")
	if err != nil {
		return "", errs.Wrap("gitops", "CommitMergeResolution", errs.ErrUnavailable, "rev-parse failed", err)
	}
	return hash, nil
}

// AbortMerge aborts an in-progress merge, restoring the pre-merge tree.
func (o *Operator) AbortMerge(ctx context.Context) error {
	o.mainMu.Lock()
	defer o.mainMu.Unlock()
	if _, stderr, err := o.run(ctx, o.workspace, "merge", "--abort"); err != nil {
		return errs.Wrap("gitops", "AbortMerge", errs.ErrUnavailable, "merge --abort failed: "+stderr, err)
	}
	return nil
}

// generatedArtifactPatterns is the closed, small list of filename patterns
// eligible for "accept incoming" auto-resolution (spec §4.7/§8): build
// outputs, caches, coverage data, log files, OS metadata.
var generatedArtifactPatterns = []string{
	".coverage",
	"htmlcov/*",
	"__pycache__/*",
	"dist/*",
	".DS_Store",
	"*.log",
}

// IsAutoResolvable reports whether every file in files matches the closed
// generated-artifact pattern list.
func IsAutoResolvable(files []string) bool {
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		if !matchesAny(f, generatedArtifactPatterns) {
			return false
		}
	}
	return true
}

func matchesAny(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if strings.HasSuffix(p, "/*") && strings.HasPrefix(path, strings.TrimSuffix(p, "*")) {
			return true
		}
		if p == filepath.Ext(path) {
			return true
		}
	}
	return false
}

// ErrNotAGitRepo describes a workspace path that doesn't contain a git
// repository. No Operator method returns it; InitRepo runs `git init`
// in that case instead.
var ErrNotAGitRepo = errors.New("gitops: workspace is not a git repository")
