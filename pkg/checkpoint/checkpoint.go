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

// Package checkpoint implements the human-in-the-loop approval gate: a
// Checkpoint blocks its referenced task until an operator approves or
// rejects it. The Manager is the only component that creates, approves or
// rejects checkpoints; approve/reject never decide what happens next —
// they fire a hook that the event bus reactor interprets per source_role.
package checkpoint

import "time"

// Status is a checkpoint's resolution state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// SourceRole identifies what produced the checkpoint and therefore what its
// resolution means to the event bus router (spec §4.9).
type SourceRole string

const (
	SourcePM            SourceRole = "pm"
	SourceArchitect     SourceRole = "architect"
	SourceReviewer      SourceRole = "reviewer"
	SourceQA            SourceRole = "qa"
	SourceMergeConflict SourceRole = "merge_conflict"
	SourceAgentFailed   SourceRole = "agent_failed"
	SourcePMAcceptance  SourceRole = "pm_acceptance"
)

// Checkpoint is a pending human decision bound to one task.
type Checkpoint struct {
	ID              string     `json:"id"`
	TaskID          string     `json:"task_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Status          Status     `json:"status"`
	SourceRole      SourceRole `json:"source_role"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
}

// WithApproved returns a copy of c marked APPROVED by who.
func (c *Checkpoint) WithApproved(who string) *Checkpoint {
	n := *c
	now := time.Now()
	n.Status = StatusApproved
	n.ResolvedAt = &now
	n.ResolvedBy = who
	return &n
}

// WithRejected returns a copy of c marked REJECTED by who, with reason.
func (c *Checkpoint) WithRejected(who, reason string) *Checkpoint {
	n := *c
	now := time.Now()
	n.Status = StatusRejected
	n.ResolvedAt = &now
	n.ResolvedBy = who
	n.RejectionReason = reason
	return &n
}

// IsExpired reports whether a still-PENDING checkpoint has sat longer than
// timeout. It is never auto-resolved; expiry only flags the checkpoint
// stale in API responses so an operator dashboard can surface it.
func (c *Checkpoint) IsExpired(timeout time.Duration) bool {
	if c.Status != StatusPending || timeout <= 0 {
		return false
	}
	return time.Since(c.CreatedAt) > timeout
}
