// Package agentrec defines AgentRecord, the store's handle onto a running
// agent process. Exactly one AgentRecord may reference a given task at a
// time (invariant I1 of the orchestration core).
package agentrec

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which prompt/contract an agent process was spawned with.
type Role string

const (
	RoleDev       Role = "DEV"
	RolePM        Role = "PM"
	RoleArchitect Role = "ARCHITECT"
	RoleReviewer  Role = "REVIEWER"
	RoleQA        Role = "QA"
	RoleDocs      Role = "DOCS"
)

// Status tracks the agent process's lifecycle as observed by the reactor.
type Status string

const (
	StatusIdle     Status = "IDLE"
	StatusStarting Status = "STARTING"
	StatusActive   Status = "ACTIVE"
	StatusStopping Status = "STOPPING"
	StatusFailed   Status = "FAILED"
)

// AgentRecord is the store's bookkeeping entry for one spawned agent.
type AgentRecord struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	Handle    string    `json:"handle"` // opaque container/process handle
	TaskID    string    `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
	Error     string    `json:"error,omitempty"`
}

// New creates an AgentRecord in STARTING state.
func New(role Role, taskID, handle string) *AgentRecord {
	return &AgentRecord{
		ID:        uuid.New().String(),
		Role:      role,
		Status:    StatusStarting,
		Handle:    handle,
		TaskID:    taskID,
		StartedAt: time.Now(),
	}
}
