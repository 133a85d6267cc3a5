package eventbus

import (
	"context"

	"legatus/pkg/agentrec"
	"legatus/pkg/checkpoint"
	"legatus/pkg/dispatcher"
	"legatus/pkg/task"
)

// WireCheckpointHooks registers the reactor as the checkpoint manager's
// approve/reject hooks, implementing the source-role-driven router table
// of spec §4.9. Call once after both Bus and the Manager are constructed.
func (b *Bus) WireCheckpointHooks(mgr interface {
	SetHooks(onApproved checkpoint.ApprovedHook, onRejected checkpoint.RejectedHook)
}) {
	mgr.SetHooks(b.onCheckpointApproved, b.onCheckpointRejected)
}

func (b *Bus) onCheckpointApproved(ctx context.Context, taskID string, source checkpoint.SourceRole) {
	t, err := b.store.GetTask(ctx, taskID)
	if err != nil {
		return
	}

	switch source {
	case checkpoint.SourcePM:
		if b.gates.ArchitectEnabled {
			b.transitionAndSpawn(ctx, t, task.StateActive, agentrec.RoleArchitect)
			return
		}
		b.dispatchFirstBatch(ctx, t)
	case checkpoint.SourceArchitect:
		b.dispatchFirstBatch(ctx, t)
	case checkpoint.SourceReviewer:
		b.reviewerApproved(ctx, t)
	case checkpoint.SourceQA:
		b.qaPassed(ctx, t)
	case checkpoint.SourceMergeConflict:
		if _, err := b.git.CommitMergeResolution(ctx, "resolved merge conflict for "+t.ID); err == nil {
			if t.BranchName != "" {
				_ = b.git.RemoveWorktree(ctx, b.workRoot+"/"+t.ID)
				_ = b.git.DeleteBranch(ctx, t.BranchName)
			}
		}
		b.subtaskDone(ctx, t)
	case checkpoint.SourceAgentFailed:
		if t.ParentID != "" {
			if parent, err := b.store.GetTask(ctx, t.ParentID); err == nil {
				mode := dispatcherModeOf(parent)
				if result, err := b.dispatch.OnSubtaskComplete(ctx, parent.ID, mode); err == nil && result == dispatcher.ResultAllDone {
					if reloaded, err := b.store.GetTask(ctx, parent.ID); err == nil {
						b.finalizeCampaign(ctx, reloaded)
					}
				}
			}
		}
	}
}

func (b *Bus) onCheckpointRejected(ctx context.Context, taskID string, source checkpoint.SourceRole, reason string) {
	t, err := b.store.GetTask(ctx, taskID)
	if err != nil {
		return
	}

	switch source {
	case checkpoint.SourcePM, checkpoint.SourceArchitect:
		_ = b.dispatch.CleanupSubtasks(ctx, t.ID)
		b.failCampaign(ctx, t, reason)
	case checkpoint.SourceReviewer, checkpoint.SourceQA:
		_, _ = b.store.UpdateStatus(ctx, t.ID, task.StateRejected, "reactor", reason)
		if t.ParentID != "" {
			b.cascadeFailParent(ctx, t.ParentID)
		}
	case checkpoint.SourceMergeConflict:
		_ = b.git.AbortMerge(ctx)
		if t.BranchName != "" {
			_ = b.git.RemoveWorktree(ctx, b.workRoot+"/"+t.ID)
		}
		if t.ParentID != "" {
			if parent, err := b.store.GetTask(ctx, t.ParentID); err == nil {
				mode := dispatcherModeOf(parent)
				_, _ = b.dispatch.OnSubtaskComplete(ctx, parent.ID, mode)
			}
		}
	case checkpoint.SourceAgentFailed:
		b.failCampaign(ctx, t, reason)
	}
}

// dispatchFirstBatch implements spec §4.9's "dispatch first batch" cell:
// sequential mode dispatches the first child; parallel mode saves the
// original branch, creates the campaign working branch, and dispatches
// every ready child.
func (b *Bus) dispatchFirstBatch(ctx context.Context, t *task.Task) {
	if dispatcherModeOf(t) == dispatcher.Sequential {
		_ = b.dispatch.DispatchNext(ctx, t.ID)
		return
	}

	original, err := b.git.GetCurrentBranch(ctx)
	if err == nil {
		t = t.Clone()
		t.AgentOutputs[task.OriginalBranchKey] = original
		_ = b.store.UpdateTask(ctx, t)
	}
	campaignBranch := "campaign/" + t.ID
	_ = b.git.EnsureWorkingBranch(ctx, campaignBranch)
	_ = b.dispatch.DispatchAllReady(ctx, t.ID)
}

// Rescan implements spec §5's resume behaviour: re-scan every campaign
// with a PLANNED child for ready work and dispatch it, the same
// dispatch a pause would have suppressed. Called once from
// onCheckpointApproved-adjacent code paths is not enough since pause can
// straddle many campaigns at once, so this walks every PLANNED child's
// parent instead of a single task.
func (b *Bus) Rescan(ctx context.Context) {
	planned, err := b.store.GetByStatus(ctx, task.StatePlanned)
	if err != nil {
		b.logger.Warn("rescan: could not list planned tasks", "error", err)
		return
	}
	seen := make(map[string]bool, len(planned))
	for _, t := range planned {
		if t.ParentID == "" || seen[t.ParentID] {
			continue
		}
		seen[t.ParentID] = true
		parent, err := b.store.GetTask(ctx, t.ParentID)
		if err != nil {
			continue
		}
		if dispatcherModeOf(parent) == dispatcher.Parallel {
			_ = b.dispatch.DispatchAllReady(ctx, parent.ID)
		} else {
			_ = b.dispatch.DispatchNext(ctx, parent.ID)
		}
	}
}

// failCampaign walks a campaign/subtask to REJECTED when its controlling
// plan/design checkpoint is rejected or its PM/Architect output is
// unusable.
func (b *Bus) failCampaign(ctx context.Context, t *task.Task, reason string) {
	b.logger.Warn("campaign failed", "task", t.ID, "reason", reason)
	if t.Status == task.StateActive {
		if _, err := b.store.UpdateStatus(ctx, t.ID, task.StateReview, "reactor", reason); err != nil {
			return
		}
	}
	_, _ = b.store.UpdateStatus(ctx, t.ID, task.StateRejected, "reactor", reason)
}
