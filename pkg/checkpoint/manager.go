// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"legatus/pkg/errs"
	"legatus/pkg/task"
)

// Repository is the narrow persistence surface the Manager needs. A
// pkg/store.Store satisfies it structurally; defining the interface here
// (rather than importing pkg/store) keeps checkpoint free of a dependency
// on the concrete store package.
type Repository interface {
	SaveCheckpoint(ctx context.Context, c *Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error)
	PendingCheckpoints(ctx context.Context) ([]*Checkpoint, error)
}

// TaskTransitioner is the subset of the task store the Manager needs to
// block/unblock the referenced task.
type TaskTransitioner interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	UpdateStatus(ctx context.Context, id string, to task.State, actor, detail string) (*task.Task, error)
}

// ApprovedHook is invoked after a checkpoint transitions to APPROVED, once
// the referenced task has been unblocked. It never decides what happens
// next for the task — that's the event bus's job.
type ApprovedHook func(ctx context.Context, taskID string, source SourceRole)

// RejectedHook mirrors ApprovedHook for rejection, carrying the reason.
type RejectedHook func(ctx context.Context, taskID string, source SourceRole, reason string)

// Manager creates, approves and rejects checkpoints.
type Manager struct {
	repo   Repository
	tasks  TaskTransitioner
	logger *slog.Logger

	onApproved ApprovedHook
	onRejected RejectedHook
}

// NewManager builds a Manager over the given repository and task store.
func NewManager(repo Repository, tasks TaskTransitioner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: repo, tasks: tasks, logger: logger}
}

// SetHooks wires the event bus's approve/reject handlers. Must be called
// before Approve/Reject are invoked.
func (m *Manager) SetHooks(onApproved ApprovedHook, onRejected RejectedHook) {
	m.onApproved = onApproved
	m.onRejected = onRejected
}

// Create mints a checkpoint, persists it, and forces the task ACTIVE ->
// BLOCKED. Per spec §4.2 this is used only after handlers that leave the
// task ACTIVE; if the task isn't ACTIVE the transition is refused and the
// caller is responsible for not calling Create in that state.
func (m *Manager) Create(ctx context.Context, taskID, title, description string, source SourceRole) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		Title:       title,
		Description: description,
		Status:      StatusPending,
		SourceRole:  source,
		CreatedAt:   time.Now(),
	}

	if _, err := m.tasks.UpdateStatus(ctx, taskID, task.StateBlocked, "checkpoint", "blocked on checkpoint "+cp.ID); err != nil {
		return nil, errs.Wrap("checkpoint", "Create", errs.ErrPreconditionFail, "could not block task", err)
	}

	if err := m.repo.SaveCheckpoint(ctx, cp); err != nil {
		return nil, errs.Wrap("checkpoint", "Create", errs.ErrUnavailable, "could not persist checkpoint", err)
	}

	m.logger.Info("checkpoint created", "checkpoint_id", cp.ID, "task_id", taskID, "source_role", source)
	return cp, nil
}

// Get retrieves a checkpoint by id.
func (m *Manager) Get(ctx context.Context, id string) (*Checkpoint, error) {
	return m.repo.GetCheckpoint(ctx, id)
}

// GetPending returns every PENDING checkpoint, ordered by creation time.
func (m *Manager) GetPending(ctx context.Context) ([]*Checkpoint, error) {
	return m.repo.PendingCheckpoints(ctx)
}

// Approve marks a checkpoint APPROVED, unblocks its task, and fires the
// approved hook. Returns the resolved checkpoint.
func (m *Manager) Approve(ctx context.Context, id, resolvedBy string) (*Checkpoint, error) {
	cp, err := m.repo.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.Status != StatusPending {
		return cp, nil
	}

	resolved := cp.WithApproved(resolvedBy)
	if err := m.repo.SaveCheckpoint(ctx, resolved); err != nil {
		return nil, errs.Wrap("checkpoint", "Approve", errs.ErrUnavailable, "could not persist resolution", err)
	}

	if _, err := m.tasks.UpdateStatus(ctx, cp.TaskID, task.StateActive, resolvedBy, "unblocked by checkpoint "+cp.ID); err != nil {
		m.logger.Warn("checkpoint approved but task unblock failed", "checkpoint_id", id, "error", err)
	}

	m.logger.Info("checkpoint approved", "checkpoint_id", id, "task_id", cp.TaskID, "source_role", cp.SourceRole)
	if m.onApproved != nil {
		m.onApproved(ctx, cp.TaskID, cp.SourceRole)
	}
	return resolved, nil
}

// Reject marks a checkpoint REJECTED, unblocks its task (so callers can
// further transition it), and fires the rejected hook.
func (m *Manager) Reject(ctx context.Context, id, resolvedBy, reason string) (*Checkpoint, error) {
	cp, err := m.repo.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.Status != StatusPending {
		return cp, nil
	}

	resolved := cp.WithRejected(resolvedBy, reason)
	if err := m.repo.SaveCheckpoint(ctx, resolved); err != nil {
		return nil, errs.Wrap("checkpoint", "Reject", errs.ErrUnavailable, "could not persist resolution", err)
	}

	if _, err := m.tasks.UpdateStatus(ctx, cp.TaskID, task.StateActive, resolvedBy, "unblocked (rejected) by checkpoint "+cp.ID); err != nil {
		m.logger.Warn("checkpoint rejected but task unblock failed", "checkpoint_id", id, "error", err)
	}

	m.logger.Info("checkpoint rejected", "checkpoint_id", id, "task_id", cp.TaskID, "source_role", cp.SourceRole, "reason", reason)
	if m.onRejected != nil {
		m.onRejected(ctx, cp.TaskID, cp.SourceRole, reason)
	}
	return resolved, nil
}
