package eventbus

import (
	"context"
	"fmt"
	"strings"

	"legatus/pkg/agentrec"
	"legatus/pkg/checkpoint"
	"legatus/pkg/dispatcher"
	"legatus/pkg/gitops"
	"legatus/pkg/task"
)

// mergeAndCleanup implements spec §4.7: merge t's branch into the
// campaign working branch, and tidy up the worktree/branch accordingly.
func (b *Bus) mergeAndCleanup(ctx context.Context, t *task.Task) {
	worktree := b.workRoot + "/" + t.ID
	result, err := b.git.MergeBranch(ctx, t.BranchName, "merge "+t.BranchName)
	if err == nil && result.Success {
		_ = b.git.RemoveWorktree(ctx, worktree)
		_ = b.git.DeleteBranch(ctx, t.BranchName)
		return
	}

	if len(result.ConflictFiles) > 0 {
		if gitops.IsAutoResolvable(result.ConflictFiles) {
			if rerr := b.git.ResolveConflictsTheirs(ctx, result.ConflictFiles); rerr == nil {
				if _, cerr := b.git.CommitMergeResolution(ctx, "auto-resolve generated artifacts for "+t.BranchName); cerr == nil {
					_ = b.git.RemoveWorktree(ctx, worktree)
					_ = b.git.DeleteBranch(ctx, t.BranchName)
					return
				}
			}
			_ = b.git.AbortMerge(ctx)
		}

		_, _ = b.ckpt.Create(ctx, t.ID, "Merge conflict", "conflicting files: "+joinFiles(result.ConflictFiles), checkpoint.SourceMergeConflict)
		return
	}

	// Non-conflict merge failure: preserve the branch, remove only the worktree.
	b.logger.Warn("merge failed without detectable conflict, preserving branch for manual recovery", "task", t.ID, "branch", t.BranchName)
	_ = b.git.RemoveWorktree(ctx, worktree)
}

func joinFiles(files []string) string {
	out := ""
	for i, f := range files {
		if i > 0 {
			out += ", "
		}
		out += f
	}
	return out
}

// finalizeCampaign implements spec §4.8: fold the campaign working
// branch back into the original branch, then run campaign-level
// review/QA/done per the configured gates. Always re-fetches parent
// fresh and bails out if it is already terminal, since subtaskDone can
// route back here once a campaign-level gate itself finishes.
func (b *Bus) finalizeCampaign(ctx context.Context, parent *task.Task) {
	fresh, err := b.store.GetTask(ctx, parent.ID)
	if err != nil || fresh.Status.IsTerminal() {
		return
	}
	parent = fresh

	if parent.IsCampaign() {
		if dispatcherModeOf(parent) == dispatcher.Parallel {
			original, _ := parent.AgentOutputs[task.OriginalBranchKey].(string)
			campaignBranch := "campaign/" + parent.ID
			if original != "" {
				if err := b.git.Checkout(ctx, original); err == nil {
					result, err := b.git.MergeBranch(ctx, campaignBranch, "merge campaign "+parent.ID)
					if err == nil && result.Success {
						_ = b.git.DeleteBranch(ctx, campaignBranch)
					} else {
						b.logger.Warn("campaign branch merge conflict, left for manual resolution", "parent", parent.ID, "branch", campaignBranch)
						_ = b.git.AbortMerge(ctx)
					}
				}
			}
		}

		b.aggregateDevOutputs(ctx, parent)
		if err := b.store.UpdateTask(ctx, parent); err != nil {
			return
		}
	}

	switch {
	case b.gates.ReviewerPerCampaign:
		b.transitionAndSpawn(ctx, parent, task.StateReview, agentrec.RoleReviewer)
	case b.gates.QAPerCampaign:
		b.transitionAndSpawn(ctx, parent, task.StateTesting, agentrec.RoleQA)
	default:
		b.markDone(ctx, parent)
	}
}

// aggregateDevOutputs folds every child's "dev" output into the parent's,
// per spec §4.8 step 2/3, so a campaign-level reviewer/QA agent has real
// content to review instead of the parent's own (empty) dev output.
// Mirrors pkg/dispatcher's parent.SubtaskIDs + store.GetTask per-child
// iteration pattern.
func (b *Bus) aggregateDevOutputs(ctx context.Context, parent *task.Task) {
	var combined strings.Builder
	for _, childID := range parent.SubtaskIDs {
		child, err := b.store.GetTask(ctx, childID)
		if err != nil {
			continue
		}
		output, _ := child.AgentOutputs["dev"].(string)
		if output == "" {
			continue
		}
		fmt.Fprintf(&combined, "### %s (%s)\n%s\n\n", child.Title, child.ID, output)
	}
	parent.AgentOutputs["dev"] = combined.String()
}
