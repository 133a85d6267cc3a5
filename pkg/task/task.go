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

// Package task defines the Task entity and its state machine. A Task is
// either a campaign (parent_id == "" with non-empty SubtaskIDs) or a
// sub-task (parent_id set). The task store is the only component allowed
// to mutate Status directly; everyone else goes through it.
package task

import (
	"time"

	"github.com/google/uuid"

	"legatus/pkg/errs"
)

// State is a task's position in the lifecycle state machine.
type State string

const (
	StateCreated  State = "created"
	StatePlanned  State = "planned"
	StateActive   State = "active"
	StateReview   State = "review"
	StateBlocked  State = "blocked"
	StateTesting  State = "testing"
	StateDone     State = "done"
	StateRejected State = "rejected"
)

// IsTerminal reports whether a task in this state can undergo no further
// transitions without an explicit retry path (rejected -> planned).
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateRejected
}

// validTransitions is the exhaustive table from spec §3.2. Any pair not
// listed here is refused by Store.UpdateStatus.
var validTransitions = map[State]map[State]bool{
	StateCreated:  {StatePlanned: true},
	StatePlanned:  {StateActive: true},
	StateActive:   {StateReview: true, StateBlocked: true, StateTesting: true},
	StateBlocked:  {StateActive: true},
	StateReview:   {StateDone: true, StateRejected: true, StateTesting: true},
	StateTesting:  {StateDone: true, StateRejected: true},
	StateRejected: {StatePlanned: true},
}

// ValidTransition reports whether from -> to is allowed by the state machine.
func ValidTransition(from, to State) bool {
	return validTransitions[from][to]
}

// HistoryEvent records one accepted status transition.
type HistoryEvent struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	Detail string    `json:"detail"`
}

// Task is the unit of scheduled work: either a campaign (ParentID == "")
// or a sub-task (ParentID set). Description is mutable — architect
// guidance is appended to it. AgentOutputs carries raw per-role agent
// output plus retry counters and the saved original branch, all as
// string-keyed free-form data per spec §9 (retry counters are decimal
// strings, not typed fields, to preserve the wire representation).
type Task struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Type               string         `json:"type"`
	Status             State          `json:"status"`
	Priority           int            `json:"priority"`
	ParentID           string         `json:"parent_id,omitempty"`
	SubtaskIDs         []string       `json:"subtask_ids,omitempty"`
	DependsOn          []string       `json:"depends_on,omitempty"`
	AcceptanceCriteria []string       `json:"acceptance_criteria,omitempty"`
	AgentOutputs       map[string]any `json:"agent_outputs,omitempty"`
	BranchName         string         `json:"branch_name,omitempty"`
	Project            string         `json:"project,omitempty"`
	AssignedTo         string         `json:"assigned_to,omitempty"`
	History            []HistoryEvent `json:"history"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// New creates a campaign or sub-task in StateCreated. Priority is clamped
// to [1,5] per spec §3.1.
func New(title, description, project string, priority int) *Task {
	now := time.Now()
	if priority < 1 {
		priority = 1
	}
	if priority > 5 {
		priority = 5
	}
	return &Task{
		ID:           uuid.New().String(),
		Title:        title,
		Description:  description,
		Project:      project,
		Priority:     priority,
		Status:       StateCreated,
		AgentOutputs: make(map[string]any),
		History:      make([]HistoryEvent, 0, 4),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsCampaign reports whether t is a root task delegating work to sub-tasks.
func (t *Task) IsCampaign() bool {
	return t.ParentID == "" && len(t.SubtaskIDs) > 0
}

// Clone returns a deep-enough copy safe for a caller to mutate and hand
// back to Store.Update without aliasing the stored value's slices/maps.
func (t *Task) Clone() *Task {
	c := *t
	c.SubtaskIDs = append([]string(nil), t.SubtaskIDs...)
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)
	c.History = append([]HistoryEvent(nil), t.History...)
	c.AgentOutputs = make(map[string]any, len(t.AgentOutputs))
	for k, v := range t.AgentOutputs {
		c.AgentOutputs[k] = v
	}
	return &c
}

// WithStatus is a fluent builder applying a validated transition. It does
// not persist the change — callers go through Store.UpdateStatus for that
// — but it is used by tests and by code assembling an update in memory.
func (t *Task) WithStatus(to State, actor, detail string) (*Task, error) {
	if !ValidTransition(t.Status, to) {
		return nil, errs.InvalidTransition("task", "WithStatus",
			string(t.Status)+" -> "+string(to)+" is not a valid transition")
	}
	c := t.Clone()
	now := time.Now()
	c.History = append(c.History, HistoryEvent{At: now, Actor: actor, From: t.Status, To: to, Detail: detail})
	c.Status = to
	c.UpdatedAt = now
	return c, nil
}

// WithHistoryEvent appends a free-standing history entry without changing
// Status — used when the event bus wants to annotate a task (e.g.
// "agent=<id>") without itself performing the transition.
func (t *Task) WithHistoryEvent(actor, detail string) *Task {
	c := t.Clone()
	c.History = append(c.History, HistoryEvent{At: time.Now(), Actor: actor, From: t.Status, To: t.Status, Detail: detail})
	c.UpdatedAt = time.Now()
	return c
}

// RetryCount reads a decimal-string retry counter from AgentOutputs,
// returning 0 if absent or unparseable.
func (t *Task) RetryCount(key string) int {
	v, ok := t.AgentOutputs[key]
	if !ok {
		return 0
	}
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// OriginalBranchKey is the AgentOutputs key under which the campaign's
// starting branch is saved before a parallel campaign branch is created.
const OriginalBranchKey = "_original_branch"
