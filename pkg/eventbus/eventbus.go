// Package eventbus implements the reactor (spec §4.6–§4.9): the single
// consumer of the agent pub/sub channel, and the only component besides
// the checkpoint manager and dispatcher helpers allowed to mutate task
// status. Message handling is run one at a time by the caller (typically
// a single goroutine reading pubsub.Bus's channel) so task transitions
// stay linearised without extra locking, per spec §5.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"legatus/pkg/agentrec"
	"legatus/pkg/checkpoint"
	"legatus/pkg/dispatcher"
	"legatus/pkg/gitops"
	"legatus/pkg/parser"
	"legatus/pkg/pubsub"
	"legatus/pkg/spawner"
	"legatus/pkg/task"
)

// Gates configures which quality gates run at which level, and the retry
// budget for the reviewer/QA loops (spec §4.6).
type Gates struct {
	ArchitectEnabled    bool
	ReviewerPerSubtask  bool
	QAPerSubtask        bool
	ReviewerPerCampaign bool
	QAPerCampaign       bool
	MaxRetries          int
}

// Store is the slice of pkg/store.Store the reactor needs.
type Store interface {
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error
	UpdateStatus(ctx context.Context, id string, to task.State, actor, detail string) (*task.Task, error)
	SaveAgent(ctx context.Context, a *agentrec.AgentRecord) error
	GetAgent(ctx context.Context, id string) (*agentrec.AgentRecord, error)
	DeleteAgent(ctx context.Context, id string) error
	AgentForTask(ctx context.Context, taskID string) (*agentrec.AgentRecord, error)
	AppendActivity(ctx context.Context, msg pubsub.Message) error
	GetByStatus(ctx context.Context, s task.State) ([]*task.Task, error)
}

// GitOperator is the slice of pkg/gitops.Operator the reactor needs.
type GitOperator interface {
	CommitChanges(ctx context.Context, message string) (string, error)
	CommitInWorktree(ctx context.Context, worktreePath, message string) (string, error)
	MergeBranch(ctx context.Context, source, message string) (gitops.MergeResult, error)
	GetConflictFiles(ctx context.Context) ([]string, error)
	ResolveConflictsTheirs(ctx context.Context, files []string) error
	CommitMergeResolution(ctx context.Context, message string) (string, error)
	AbortMerge(ctx context.Context) error
	RemoveWorktree(ctx context.Context, path string) error
	DeleteBranch(ctx context.Context, branch string) error
	Checkout(ctx context.Context, branch string) error
	EnsureWorkingBranch(ctx context.Context, branch string) error
	GetCurrentBranch(ctx context.Context) (string, error)
}

// CheckpointManager is the slice of pkg/checkpoint.Manager the reactor needs.
type CheckpointManager interface {
	Create(ctx context.Context, taskID, title, description string, source checkpoint.SourceRole) (*checkpoint.Checkpoint, error)
}

// Bus is the reactor: it consumes pubsub.Message values and drives task
// state per spec §4.6.
type Bus struct {
	store   Store
	git     GitOperator
	dispatch *dispatcher.Dispatcher
	spawn   spawner.Spawner
	ckpt    CheckpointManager
	pub     *pubsub.Bus
	gates   Gates
	workRoot string
	image   string
	logger  *slog.Logger
}

// New builds a reactor Bus.
func New(store Store, git GitOperator, d *dispatcher.Dispatcher, sp spawner.Spawner, ckpt CheckpointManager, pub *pubsub.Bus, gates Gates, workRoot, image string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{store: store, git: git, dispatch: d, spawn: sp, ckpt: ckpt, pub: pub, gates: gates, workRoot: workRoot, image: image, logger: logger}
}

// StartCampaign persists a freshly created campaign task and kicks off its
// first agent: a PM that proposes a sub-task breakdown, or, when direct is
// set (spec §6.1's `direct` flag on POST /tasks), a single DEV agent that
// works the task without a PM plan. Mirrors spawnDev's
// walk-to-REJECTED fallback (spec §7's container-spawn-failure row) for
// the one spawn direct mode and the PM path both need up front.
func (b *Bus) StartCampaign(ctx context.Context, t *task.Task, direct bool) error {
	if err := b.store.CreateTask(ctx, t); err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	planned, err := b.store.UpdateStatus(ctx, t.ID, task.StatePlanned, "api", "campaign created")
	if err != nil {
		return fmt.Errorf("transition to planned: %w", err)
	}

	if direct {
		if err := b.dispatch.DispatchSingle(ctx, planned); err != nil {
			b.logger.Warn("direct dev spawn failed", "task", planned.ID, "error", err)
			if active, ferr := b.store.UpdateStatus(ctx, planned.ID, task.StateActive, "reactor", "spawn-failure"); ferr == nil {
				if reviewed, ferr := b.store.UpdateStatus(ctx, active.ID, task.StateReview, "reactor", "spawn-failure"); ferr == nil {
					_, _ = b.store.UpdateStatus(ctx, reviewed.ID, task.StateRejected, "reactor", "spawn-failure")
				}
			}
			return fmt.Errorf("spawn dev agent: %w", err)
		}
		return nil
	}

	active, err := b.store.UpdateStatus(ctx, planned.ID, task.StateActive, "api", "pm dispatch")
	if err != nil {
		return fmt.Errorf("transition to active: %w", err)
	}
	rec := agentrec.New(agentrec.RolePM, active.ID, "")
	handle, err := b.spawn.Spawn(ctx, spawner.Spec{AgentID: rec.ID, TaskID: active.ID, Role: string(agentrec.RolePM), Image: b.image, WorkDir: b.workRoot})
	if err != nil {
		b.logger.Warn("pm spawn failed", "task", active.ID, "error", err)
		if reviewed, ferr := b.store.UpdateStatus(ctx, active.ID, task.StateReview, "reactor", "spawn-failure"); ferr == nil {
			_, _ = b.store.UpdateStatus(ctx, reviewed.ID, task.StateRejected, "reactor", "spawn-failure")
		}
		return fmt.Errorf("spawn pm agent: %w", err)
	}
	rec.Handle = handle.AgentID
	return b.store.SaveAgent(ctx, rec)
}

// Handle processes one message. It never panics out to the caller — a
// recovered panic is logged and swallowed, matching spec §7's "transient
// errors never propagate out of the reactor" rule, generalised to cover
// programming errors too (grounded on cklxx-elephant.ai's panic-safe
// goroutine wrapper, internal/async/goroutine.go).
func (b *Bus) Handle(ctx context.Context, msg pubsub.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("reactor handler panicked", "type", msg.Type, "task", msg.TaskID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if msg.AgentID != "" {
		b.trackAgentStatus(ctx, msg)
	}

	switch msg.Type {
	case pubsub.TaskComplete:
		b.onTaskComplete(ctx, msg)
	case pubsub.TaskFailed:
		b.onTaskFailed(ctx, msg)
	case pubsub.LogEntry:
		_ = b.store.AppendActivity(ctx, msg)
	}
}

func (b *Bus) trackAgentStatus(ctx context.Context, msg pubsub.Message) {
	rec, err := b.store.GetAgent(ctx, msg.AgentID)
	if err != nil || rec == nil {
		return
	}
	switch msg.Type {
	case pubsub.TaskComplete, pubsub.TaskFailed:
		rec.Status = agentrec.StatusStopping
	default:
		if rec.Status == agentrec.StatusStarting {
			rec.Status = agentrec.StatusActive
		}
	}
	_ = b.store.SaveAgent(ctx, rec)
}

// cleanupAgent collects a small debug-only log tail and removes the
// AgentRecord, per spec §4.6's "on cleanup" rule.
func (b *Bus) cleanupAgent(ctx context.Context, agentID string) {
	rec, err := b.store.GetAgent(ctx, agentID)
	if err != nil || rec == nil {
		return
	}
	if logs, err := b.spawn.Logs(ctx, spawner.Handle{AgentID: agentID}, 2048); err == nil {
		b.logger.Debug("agent logs on cleanup", "agent", agentID, "tail", logs)
	}
	_ = b.store.DeleteAgent(ctx, agentID)
}

func (b *Bus) onTaskComplete(ctx context.Context, msg pubsub.Message) {
	rec, err := b.store.GetAgent(ctx, msg.AgentID)
	if err != nil || rec == nil {
		b.logger.Warn("TASK_COMPLETE from unknown agent", "agent", msg.AgentID, "task", msg.TaskID)
		return
	}
	t, err := b.store.GetTask(ctx, msg.TaskID)
	if err != nil {
		b.logger.Warn("TASK_COMPLETE for unknown task", "task", msg.TaskID)
		return
	}
	if t.Status.IsTerminal() {
		return // at-least-once delivery: no-op on a terminal task
	}

	output, _ := msg.Data["output"].(string)

	switch rec.Role {
	case agentrec.RolePM:
		b.onPMComplete(ctx, t, output)
	case agentrec.RoleArchitect:
		b.onArchitectComplete(ctx, t, output)
	case agentrec.RoleDev:
		b.onDevComplete(ctx, t, output)
	case agentrec.RoleReviewer:
		b.onReviewerComplete(ctx, t, output)
	case agentrec.RoleQA:
		b.onQAComplete(ctx, t, output)
	}
	b.cleanupAgent(ctx, msg.AgentID)
}

func (b *Bus) onPMComplete(ctx context.Context, t *task.Task, output string) {
	plan, ok := parser.ParsePM(output)
	if !ok {
		b.failCampaign(ctx, t, "pm output did not parse")
		return
	}
	t = t.Clone()
	t.AgentOutputs["pm"] = output
	if err := b.store.UpdateTask(ctx, t); err != nil {
		return
	}

	mode := dispatcherModeOf(t)
	childIDs := make([]string, 0, len(plan.Subtasks))
	children := make([]*task.Task, 0, len(plan.Subtasks))
	for i, st := range plan.Subtasks {
		child := task.New(st.Title, st.Description, t.Project, priorityFor(st))
		child.ParentID = t.ID
		child.AcceptanceCriteria = st.AcceptanceCriteria
		if mode == dispatcher.Sequential && i > 0 {
			child.DependsOn = []string{childIDs[i-1]}
		}
		children = append(children, child)
		childIDs = append(childIDs, child.ID)
	}
	if mode == dispatcher.Parallel {
		for i, st := range plan.Subtasks {
			for _, depIdx := range st.DependsOn {
				if depIdx < i {
					children[i].DependsOn = append(children[i].DependsOn, childIDs[depIdx])
				}
			}
		}
	}
	for i, child := range children {
		planned, err := child.WithStatus(task.StatePlanned, "pm", "planned")
		if err != nil {
			continue
		}
		children[i] = planned
		_ = b.store.UpdateTask(ctx, planned)
	}

	t = t.Clone()
	t.SubtaskIDs = childIDs
	if err := b.store.UpdateTask(ctx, t); err != nil {
		return
	}

	summary := fmt.Sprintf("PM proposed %d subtasks: %s", len(plan.Subtasks), plan.Analysis)
	_, _ = b.ckpt.Create(ctx, t.ID, "Review plan", summary, checkpoint.SourcePM)
}

func priorityFor(st parser.Subtask) int {
	switch st.EstimatedComplexity {
	case "high":
		return 4
	case "low":
		return 2
	default:
		return 3
	}
}

func dispatcherModeOf(t *task.Task) dispatcher.Mode {
	if v, ok := t.AgentOutputs["_dispatch_mode"]; ok {
		if s, ok := v.(string); ok && s == string(dispatcher.Parallel) {
			return dispatcher.Parallel
		}
	}
	return dispatcher.Sequential
}

func (b *Bus) onArchitectComplete(ctx context.Context, t *task.Task, output string) {
	t = t.Clone()
	t.AgentOutputs["architect"] = output
	if err := b.store.UpdateTask(ctx, t); err != nil {
		return
	}
	design, ok := parser.ParseArchitect(output)
	summary := "Architect produced design notes."
	if ok && design.DesignNotes != "" {
		summary = design.DesignNotes
	}
	_, _ = b.ckpt.Create(ctx, t.ID, "Review design", summary, checkpoint.SourceArchitect)
}

func (b *Bus) onDevComplete(ctx context.Context, t *task.Task, output string) {
	t = t.Clone()
	t.AgentOutputs["dev"] = output
	if err := b.store.UpdateTask(ctx, t); err != nil {
		return
	}

	commitMsg := "dev: " + t.Title
	if t.BranchName != "" {
		if _, err := b.git.CommitInWorktree(ctx, b.workRoot+"/"+t.ID, commitMsg); err != nil {
			b.logger.Warn("best-effort worktree commit failed", "task", t.ID, "error", err)
		}
	} else if _, err := b.git.CommitChanges(ctx, commitMsg); err != nil {
		b.logger.Warn("best-effort workspace commit failed", "task", t.ID, "error", err)
	}

	isSubtask := t.ParentID != ""
	switch {
	case b.gates.ReviewerPerSubtask && isSubtask:
		b.transitionAndSpawn(ctx, t, task.StateReview, agentrec.RoleReviewer)
	case b.gates.QAPerSubtask && isSubtask:
		b.transitionAndSpawn(ctx, t, task.StateTesting, agentrec.RoleQA)
	default:
		b.markDone(ctx, t)
	}
}

// transitionAndSpawn moves t into the given gate state and spawns an
// agent of role to evaluate it. When t is already in the target state
// (the PM gate and the architect gate can both land on StateActive),
// there is no transition left to make — validTransitions has no
// self-edges — so the status update is skipped and the agent is spawned
// against t as-is. Per spec §7's container-spawn-failure row, a gate
// agent that fails to spawn doesn't stall the task: architect spawn
// failure proceeds to dispatch (architect is advisory), reviewer spawn
// failure auto-approves, QA spawn failure auto-passes.
func (b *Bus) transitionAndSpawn(ctx context.Context, t *task.Task, to task.State, role agentrec.Role) {
	updated := t
	if t.Status != to {
		var err error
		updated, err = b.store.UpdateStatus(ctx, t.ID, to, "reactor", "gate="+string(role))
		if err != nil {
			return
		}
	}
	b.spawnGateAgent(ctx, updated, role)
}

// spawnGateAgent spawns the agent for a gate (reviewer/QA/architect) and
// records it, applying the same spawn-failure fallback transitionAndSpawn
// uses. Split out so callers that already hold the task in its target
// state (no transition to make) can still share the spawn/fallback logic.
func (b *Bus) spawnGateAgent(ctx context.Context, updated *task.Task, role agentrec.Role) {
	rec := agentrec.New(role, updated.ID, "")
	handle, err := b.spawn.Spawn(ctx, spawner.Spec{AgentID: rec.ID, TaskID: updated.ID, Role: string(role), Image: b.image, WorkDir: b.workRoot})
	if err != nil {
		b.logger.Warn("gate agent spawn failed, applying fallback", "task", updated.ID, "role", role, "error", err)
		switch role {
		case agentrec.RoleArchitect:
			b.dispatchFirstBatch(ctx, updated)
		case agentrec.RoleReviewer:
			b.reviewerApproved(ctx, updated)
		case agentrec.RoleQA:
			b.qaPassed(ctx, updated)
		}
		return
	}
	rec.Handle = handle.AgentID
	_ = b.store.SaveAgent(ctx, rec)
}

// reviewerApproved runs the post-approval continuation shared by an
// actual reviewer approval and a reviewer-spawn-failure auto-approve.
func (b *Bus) reviewerApproved(ctx context.Context, t *task.Task) {
	if b.gates.QAPerSubtask || b.gates.QAPerCampaign {
		b.transitionAndSpawn(ctx, t, task.StateTesting, agentrec.RoleQA)
	} else {
		b.markDoneFrom(ctx, t, task.StateReview)
	}
}

// qaPassed runs the post-pass continuation shared by an actual QA pass
// and a QA-spawn-failure auto-pass.
func (b *Bus) qaPassed(ctx context.Context, t *task.Task) {
	b.markDoneFrom(ctx, t, task.StateTesting)
}

// markDone drives t ACTIVE/REVIEW/TESTING → DONE along whichever edge is
// valid from its current state, then runs the subtask-done path.
func (b *Bus) markDone(ctx context.Context, t *task.Task) {
	cur := t.Status
	if cur == task.StateActive {
		reviewed, err := b.store.UpdateStatus(ctx, t.ID, task.StateReview, "reactor", "no-gate")
		if err != nil {
			return
		}
		cur = reviewed.Status
	}
	if _, err := b.store.UpdateStatus(ctx, t.ID, task.StateDone, "reactor", "done"); err != nil {
		return
	}
	b.subtaskDone(ctx, t)
}

func (b *Bus) onReviewerComplete(ctx context.Context, t *task.Task, output string) {
	t = t.Clone()
	t.AgentOutputs["reviewer"] = output
	if err := b.store.UpdateTask(ctx, t); err != nil {
		return
	}

	result, ok := parser.ParseReviewer(output)
	if ok && len(result.SecurityConcerns) > 0 {
		summary := fmt.Sprintf("Security concerns flagged: %v", result.SecurityConcerns)
		_, _ = b.ckpt.Create(ctx, t.ID, "Security review required", summary, checkpoint.SourceReviewer)
		return
	}
	if !ok || result.Approved() {
		b.reviewerApproved(ctx, t)
		return
	}
	b.handleGateRejection(ctx, t, "reviewer", result.Summary)
}

func (b *Bus) onQAComplete(ctx context.Context, t *task.Task, output string) {
	t = t.Clone()
	t.AgentOutputs["qa"] = output
	if err := b.store.UpdateTask(ctx, t); err != nil {
		return
	}
	if _, err := b.git.CommitChanges(ctx, "qa: "+t.Title); err != nil {
		b.logger.Debug("no test-file changes to commit", "task", t.ID, "error", err)
	}

	result, ok := parser.ParseQA(output)
	if !ok || result.Passed() {
		b.qaPassed(ctx, t)
		return
	}
	summary := ""
	if ok {
		summary = result.FailureDetails
	}
	b.handleGateRejection(ctx, t, "qa", summary)
}

// markDoneFrom transitions t from a known gate state to DONE and runs
// the subtask-done path.
func (b *Bus) markDoneFrom(ctx context.Context, t *task.Task, from task.State) {
	if _, err := b.store.UpdateStatus(ctx, t.ID, task.StateDone, "reactor", "gate-passed"); err != nil {
		return
	}
	b.subtaskDone(ctx, t)
}

// handleGateRejection mirrors the reviewer/QA retry logic: below the
// retry budget, walk the task REJECTED → PLANNED and dispatch again; otherwise
// raise a checkpoint with the gate's findings.
func (b *Bus) handleGateRejection(ctx context.Context, t *task.Task, gate, feedback string) {
	retryKey := gate + "_retry_count"
	feedbackKey := gate + "_feedback"
	count := t.RetryCount(retryKey)

	if count < b.gates.MaxRetries {
		t = t.Clone()
		t.AgentOutputs[retryKey] = strconv.Itoa(count + 1)
		t.AgentOutputs[feedbackKey] = feedback
		if err := b.store.UpdateTask(ctx, t); err != nil {
			return
		}
		rejected, err := b.store.UpdateStatus(ctx, t.ID, task.StateRejected, "reactor", gate+"-reject")
		if err != nil {
			return
		}
		replanned, err := b.store.UpdateStatus(ctx, rejected.ID, task.StatePlanned, "reactor", "retry")
		if err != nil {
			return
		}
		_ = b.dispatch.DispatchSingle(ctx, replanned)
		return
	}

	var source checkpoint.SourceRole = checkpoint.SourceReviewer
	if gate == "qa" {
		source = checkpoint.SourceQA
	}
	_, _ = b.ckpt.Create(ctx, t.ID, gate+" rejected after max retries", feedback, source)
}

// subtaskDone implements the subtask-done path (spec §4.6): merge the
// branch if any, then check for campaign completion.
func (b *Bus) subtaskDone(ctx context.Context, t *task.Task) {
	if t.ParentID == "" {
		b.finalizeCampaign(ctx, t)
		return
	}
	if t.BranchName != "" {
		b.mergeAndCleanup(ctx, t)
	}

	parent, err := b.store.GetTask(ctx, t.ParentID)
	if err != nil {
		return
	}
	mode := dispatcherModeOf(parent)
	result, err := b.dispatch.OnSubtaskComplete(ctx, parent.ID, mode)
	if err != nil {
		b.logger.Warn("on_subtask_complete failed", "parent", parent.ID, "error", err)
		return
	}
	if result == dispatcher.ResultAllDone {
		reloaded, err := b.store.GetTask(ctx, parent.ID)
		if err == nil {
			b.finalizeCampaign(ctx, reloaded)
		}
	}
}

func (b *Bus) onTaskFailed(ctx context.Context, msg pubsub.Message) {
	t, err := b.store.GetTask(ctx, msg.TaskID)
	if err != nil || t.Status.IsTerminal() {
		return
	}

	cur := t.Status
	if cur == task.StateActive {
		if reviewed, err := b.store.UpdateStatus(ctx, t.ID, task.StateReview, "reactor", "task-failed"); err == nil {
			cur = reviewed.Status
		}
	}
	if _, err := b.store.UpdateStatus(ctx, t.ID, task.StateRejected, "reactor", "task-failed"); err != nil {
		b.logger.Warn("could not reject failed task", "task", t.ID, "error", err)
	}

	if t.BranchName != "" {
		worktree := b.workRoot + "/" + t.ID
		_ = b.git.RemoveWorktree(ctx, worktree)
		_ = b.git.DeleteBranch(ctx, t.BranchName)
	}

	if t.ParentID == "" {
		return
	}
	if _, err := b.ckpt.Create(ctx, t.ParentID, "Agent failed", "task "+t.ID+" failed: "+t.Title, checkpoint.SourceAgentFailed); err != nil {
		b.logger.Error("agent_failed checkpoint creation failed, cascading parent failure", "parent", t.ParentID, "error", err)
		b.cascadeFailParent(ctx, t.ParentID)
	}
}

// cascadeFailParent walks a parent campaign to REJECTED when a
// downstream failure can't be surfaced as a checkpoint.
func (b *Bus) cascadeFailParent(ctx context.Context, parentID string) {
	parent, err := b.store.GetTask(ctx, parentID)
	if err != nil || parent.Status.IsTerminal() {
		return
	}
	if parent.Status == task.StateActive {
		if _, err := b.store.UpdateStatus(ctx, parentID, task.StateReview, "reactor", "cascade-fail"); err != nil {
			return
		}
	}
	_, _ = b.store.UpdateStatus(ctx, parentID, task.StateRejected, "reactor", "cascade-fail")
}
