package gitops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func newTestOperator(t *testing.T) (*Operator, string) {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	op := New(dir, nil)
	require.NoError(t, op.InitRepo(context.Background()))
	return op, dir
}

func TestInitRepoIsIdempotent(t *testing.T) {
	op, _ := newTestOperator(t)
	require.NoError(t, op.InitRepo(context.Background()))
}

func TestCommitChangesNoopWhenClean(t *testing.T) {
	op, _ := newTestOperator(t)
	hash, err := op.CommitChanges(context.Background(), "nothing to commit")
	require.NoError(t, err)
	require.Empty(t, hash)
}

func TestCommitChangesCommitsStagedFiles(t *testing.T) {
	op, dir := newTestOperator(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	hash, err := op.CommitChanges(context.Background(), "add a.txt")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
}

func TestEnsureWorkingBranchCreatesThenReuses(t *testing.T) {
	op, _ := newTestOperator(t)
	ctx := context.Background()

	require.NoError(t, op.EnsureWorkingBranch(ctx, "feature/x"))
	branch, err := op.GetCurrentBranch(ctx)
	require.NoError(t, err)
	require.Equal(t, "feature/x", branch)

	require.NoError(t, op.EnsureWorkingBranch(ctx, "feature/x"))
	branch, err = op.GetCurrentBranch(ctx)
	require.NoError(t, err)
	require.Equal(t, "feature/x", branch)
}

func TestCreateAndRemoveWorktree(t *testing.T) {
	op, dir := newTestOperator(t)
	ctx := context.Background()

	wtPath := filepath.Join(dir, "..", "wt1")
	wtPath, _ = filepath.Abs(wtPath)
	require.NoError(t, op.CreateWorktree(ctx, wtPath, "task/1"))
	defer os.RemoveAll(wtPath)

	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "b.txt"), []byte("data"), 0o644))
	hash, err := op.CommitInWorktree(ctx, wtPath, "add b.txt")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	require.NoError(t, op.RemoveWorktree(ctx, wtPath))
}

func TestMergeBranchSucceedsWithoutConflict(t *testing.T) {
	op, dir := newTestOperator(t)
	ctx := context.Background()

	require.NoError(t, op.EnsureWorkingBranch(ctx, "feature/merge-ok"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("c"), 0o644))
	_, err := op.CommitChanges(ctx, "add c.txt")
	require.NoError(t, err)

	require.NoError(t, op.Checkout(ctx, "master"))
	result, err := op.MergeBranch(ctx, "feature/merge-ok", "merge feature/merge-ok")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotEmpty(t, result.Hash)
}

func TestMergeBranchReportsConflictFiles(t *testing.T) {
	op, dir := newTestOperator(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "conflict.txt"), []byte("base"), 0o644))
	_, err := op.CommitChanges(ctx, "base content")
	require.NoError(t, err)

	require.NoError(t, op.EnsureWorkingBranch(ctx, "feature/conflict"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conflict.txt"), []byte("feature side"), 0o644))
	_, err = op.CommitChanges(ctx, "feature edit")
	require.NoError(t, err)

	require.NoError(t, op.Checkout(ctx, "master"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conflict.txt"), []byte("master side"), 0o644))
	_, err = op.CommitChanges(ctx, "master edit")
	require.NoError(t, err)

	result, err := op.MergeBranch(ctx, "feature/conflict", "merge feature/conflict")
	require.Error(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.ConflictFiles, "conflict.txt")

	files, err := op.GetConflictFiles(ctx)
	require.NoError(t, err)
	require.Contains(t, files, "conflict.txt")

	require.NoError(t, op.AbortMerge(ctx))
}

func TestIsAutoResolvable(t *testing.T) {
	require.True(t, IsAutoResolvable([]string{".DS_Store"}))
	require.True(t, IsAutoResolvable([]string{"dist/bundle.js"}))
	require.False(t, IsAutoResolvable([]string{"main.go"}))
	require.False(t, IsAutoResolvable(nil))
}
