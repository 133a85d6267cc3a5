// Package dispatcher turns "this parent has planned sub-tasks" into "dev
// agents are running in the right number of worktrees" (spec §4.5). It
// owns no git or store state itself; it drives the narrow interfaces
// below so it can be tested against fakes the way the teacher tests
// task.Service against task.InMemoryService.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"

	"legatus/pkg/agentrec"
	"legatus/pkg/parser"
	"legatus/pkg/spawner"
	"legatus/pkg/task"
)

// Mode selects sequential or parallel dispatch.
type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
)

// Store is the narrow slice of pkg/store.Store the dispatcher needs.
type Store interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error
	UpdateStatus(ctx context.Context, id string, to task.State, actor, detail string) (*task.Task, error)
	GetNextReady(ctx context.Context, parentID string) (*task.Task, error)
	SaveAgent(ctx context.Context, a *agentrec.AgentRecord) error
	DeleteAgent(ctx context.Context, id string) error
	AgentForTask(ctx context.Context, taskID string) (*agentrec.AgentRecord, error)
	IsPaused(ctx context.Context) (bool, error)
}

// GitOperator is the narrow slice of pkg/gitops.Operator the dispatcher
// needs for worktree-per-subtask parallel mode.
type GitOperator interface {
	CreateWorktree(ctx context.Context, path, branch string) error
	RemoveWorktree(ctx context.Context, path string) error
	DeleteBranch(ctx context.Context, branch string) error
}

// Result is the outcome of on_subtask_complete.
type Result string

const (
	ResultNone    Result = ""
	ResultAllDone Result = "all_done"
	ResultFailed  Result = "failed"
)

// Dispatcher drives DEV-agent spawning for a campaign's subtasks.
type Dispatcher struct {
	store    Store
	git      GitOperator
	spawn    spawner.Spawner
	logger   *slog.Logger
	workRoot string // parent dir worktrees are created under
	image    string // agent runtime image/binary passed to the spawner
}

// New builds a Dispatcher.
func New(store Store, git GitOperator, sp spawner.Spawner, workRoot, image string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, git: git, spawn: sp, workRoot: workRoot, image: image, logger: logger}
}

func worktreePath(workRoot string, t *task.Task) string {
	return workRoot + "/" + t.ID
}

func branchName(project, taskID string) string {
	return project + "/task-" + taskID
}

// applyArchitectGuidance appends the architect's design appendix to the
// child's description exactly once (idempotent per spec §4.5 step 1).
func applyArchitectGuidance(parent, child *task.Task) *task.Task {
	raw, ok := parent.AgentOutputs["architect"]
	if !ok {
		return child
	}
	text, ok := raw.(string)
	if !ok {
		return child
	}
	design, ok := parser.ParseArchitect(text)
	if !ok {
		return child
	}
	appendix := design.Appendix()
	if strings.Contains(child.Description, parser.ArchitectureGuidanceMarker) {
		return child
	}
	clone := child.Clone()
	clone.Description += appendix
	return clone
}

// spawnDev spawns a DEV agent for child, persisting an AgentRecord and
// transitioning child PLANNED → ACTIVE. On spawn failure it walks the
// child to REJECTED per spec §4.5 step 3 and, in parallel mode, tears
// down the worktree/branch it had just created.
func (d *Dispatcher) spawnDev(ctx context.Context, parent, child *task.Task, worktree string) error {
	child = applyArchitectGuidance(parent, child)
	if err := d.store.UpdateTask(ctx, child); err != nil {
		return err
	}

	rec := agentrec.New(agentrec.RoleDev, child.ID, "")
	workDir := d.workRoot
	if worktree != "" {
		workDir = worktree
	}
	handle, err := d.spawn.Spawn(ctx, spawner.Spec{
		AgentID: rec.ID,
		TaskID:  child.ID,
		Role:    string(agentrec.RoleDev),
		Image:   d.image,
		WorkDir: workDir,
	})
	if err != nil {
		d.logger.Warn("dev spawn failed", "task", child.ID, "error", err)
		if _, ferr := d.store.UpdateStatus(ctx, child.ID, task.StateActive, "dispatcher", "spawn-failure"); ferr != nil {
			return ferr
		}
		if _, ferr := d.store.UpdateStatus(ctx, child.ID, task.StateReview, "dispatcher", "spawn-failure"); ferr != nil {
			return ferr
		}
		if _, ferr := d.store.UpdateStatus(ctx, child.ID, task.StateRejected, "dispatcher", "spawn-failure"); ferr != nil {
			return ferr
		}
		if worktree != "" {
			_ = d.git.RemoveWorktree(ctx, worktree)
			_ = d.git.DeleteBranch(ctx, child.BranchName)
		}
		return err
	}

	rec.Handle = handle.AgentID
	if err := d.store.SaveAgent(ctx, rec); err != nil {
		return err
	}
	updated, err := d.store.UpdateStatus(ctx, child.ID, task.StateActive, "dispatcher", "agent="+rec.ID)
	if err != nil {
		return err
	}
	updated.AssignedTo = rec.ID
	return d.store.UpdateTask(ctx, updated)
}

func depsSatisfied(ctx context.Context, store Store, child *task.Task) bool {
	for _, depID := range child.DependsOn {
		dep, err := store.GetTask(ctx, depID)
		if err != nil || dep.Status != task.StateDone {
			return false
		}
	}
	return true
}

// DispatchNext implements sequential-mode dispatch_next: the first
// PLANNED child in subtask order with satisfied dependencies. A no-op
// while the system-wide pause flag is set (spec §5): running agents
// continue, but no new ones are spawned.
func (d *Dispatcher) DispatchNext(ctx context.Context, parentID string) error {
	if paused, err := d.store.IsPaused(ctx); err == nil && paused {
		return nil
	}
	parent, err := d.store.GetTask(ctx, parentID)
	if err != nil {
		return err
	}
	for _, childID := range parent.SubtaskIDs {
		child, err := d.store.GetTask(ctx, childID)
		if err != nil || child.Status != task.StatePlanned {
			continue
		}
		if !depsSatisfied(ctx, d.store, child) {
			continue
		}
		return d.spawnDev(ctx, parent, child, "")
	}
	return nil
}

// DispatchAllReady implements parallel-mode dispatch_all_ready: every
// PLANNED child with satisfied dependencies, each in its own worktree. A
// no-op while the system-wide pause flag is set (spec §5).
func (d *Dispatcher) DispatchAllReady(ctx context.Context, parentID string) error {
	if paused, err := d.store.IsPaused(ctx); err == nil && paused {
		return nil
	}
	parent, err := d.store.GetTask(ctx, parentID)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, childID := range parent.SubtaskIDs {
		child, err := d.store.GetTask(ctx, childID)
		if err != nil || child.Status != task.StatePlanned {
			continue
		}
		if !depsSatisfied(ctx, d.store, child) {
			continue
		}
		branch := branchName(child.Project, child.ID)
		path := worktreePath(d.workRoot, child)
		if err := d.git.CreateWorktree(ctx, path, branch); err != nil {
			result = multierror.Append(result, fmt.Errorf("create worktree for %s: %w", child.ID, err))
			continue
		}
		child.BranchName = branch
		if err := d.spawnDev(ctx, parent, child, path); err != nil {
			result = multierror.Append(result, fmt.Errorf("dispatch %s: %w", child.ID, err))
		}
	}
	return result.ErrorOrNil()
}

// DispatchSingle re-spawns DEV against an existing task (reviewer/QA
// retries). Transitions PLANNED → ACTIVE with a "retry" detail.
func (d *Dispatcher) DispatchSingle(ctx context.Context, t *task.Task) error {
	parent := t
	if t.ParentID != "" {
		p, err := d.store.GetTask(ctx, t.ParentID)
		if err == nil {
			parent = p
		}
	}
	path := ""
	if t.BranchName != "" {
		path = worktreePath(d.workRoot, t)
	}
	t = applyArchitectGuidance(parent, t)
	if err := d.store.UpdateTask(ctx, t); err != nil {
		return err
	}

	rec := agentrec.New(agentrec.RoleDev, t.ID, "")
	workDir := d.workRoot
	if path != "" {
		workDir = path
	}
	handle, err := d.spawn.Spawn(ctx, spawner.Spec{AgentID: rec.ID, TaskID: t.ID, Role: string(agentrec.RoleDev), Image: d.image, WorkDir: workDir})
	if err != nil {
		return err
	}
	rec.Handle = handle.AgentID
	if err := d.store.SaveAgent(ctx, rec); err != nil {
		return err
	}
	updated, err := d.store.UpdateStatus(ctx, t.ID, task.StateActive, "dispatcher", "retry")
	if err != nil {
		return err
	}
	updated.AssignedTo = rec.ID
	return d.store.UpdateTask(ctx, updated)
}

// OnSubtaskComplete classifies parent's children and either drives the
// next dispatch or reports the terminal state (spec §4.5).
func (d *Dispatcher) OnSubtaskComplete(ctx context.Context, parentID string, mode Mode) (Result, error) {
	parent, err := d.store.GetTask(ctx, parentID)
	if err != nil {
		return ResultNone, err
	}
	if parent.Status == task.StateBlocked {
		return ResultNone, nil
	}

	var done, failed, running int
	for _, childID := range parent.SubtaskIDs {
		child, err := d.store.GetTask(ctx, childID)
		if err != nil {
			continue
		}
		switch child.Status {
		case task.StateDone:
			done++
		case task.StateRejected:
			failed++
		case task.StateActive, task.StateReview, task.StateTesting:
			running++
		}
	}

	if done == len(parent.SubtaskIDs) && len(parent.SubtaskIDs) > 0 {
		return ResultAllDone, nil
	}
	if running == 0 && failed > 0 {
		if _, err := d.store.UpdateStatus(ctx, parentID, task.StateReview, "dispatcher", "subtask-failed"); err != nil {
			return ResultNone, err
		}
		if _, err := d.store.UpdateStatus(ctx, parentID, task.StateRejected, "dispatcher", "subtask-failed"); err != nil {
			return ResultNone, err
		}
		return ResultFailed, nil
	}

	if mode == Parallel {
		return ResultNone, d.DispatchAllReady(ctx, parentID)
	}
	return ResultNone, d.DispatchNext(ctx, parentID)
}

// CleanupSubtasks walks every CREATED/PLANNED child of parentID through
// the valid transitions to REJECTED — used when a plan checkpoint is
// rejected (spec §4.5).
func (d *Dispatcher) CleanupSubtasks(ctx context.Context, parentID string) error {
	parent, err := d.store.GetTask(ctx, parentID)
	if err != nil {
		return err
	}
	for _, childID := range parent.SubtaskIDs {
		child, err := d.store.GetTask(ctx, childID)
		if err != nil {
			continue
		}
		switch child.Status {
		case task.StateCreated:
			if _, err := d.store.UpdateStatus(ctx, childID, task.StatePlanned, "dispatcher", "cleanup"); err != nil {
				return err
			}
			fallthrough
		case task.StatePlanned:
			if _, err := d.store.UpdateStatus(ctx, childID, task.StateActive, "dispatcher", "cleanup"); err != nil {
				return err
			}
			if _, err := d.store.UpdateStatus(ctx, childID, task.StateReview, "dispatcher", "cleanup"); err != nil {
				return err
			}
			if _, err := d.store.UpdateStatus(ctx, childID, task.StateRejected, "dispatcher", "cleanup"); err != nil {
				return err
			}
		}
	}
	return nil
}
