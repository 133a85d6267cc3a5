// Package store defines the persistent Store interface: tasks, agent
// records, checkpoints, the capped activity log, the cost ledger and the
// process-wide paused flag. All global mutable state used by the core
// lives behind this interface — no component relies on process-local
// singletons (spec §9).
//
// pkg/store/memstore provides the in-memory backend used by tests and the
// single-process default deployment; pkg/store/sqlstore and
// pkg/store/consulstore provide durable alternatives for multi-process or
// restart-surviving deployments.
package store

import (
	"context"
	"time"

	"legatus/pkg/agentrec"
	"legatus/pkg/checkpoint"
	"legatus/pkg/pubsub"
	"legatus/pkg/task"
)

// CostEntry is one append-only ledger row (spec §3.1). The ledger is kept
// per project (store key layout `costs:{project}`), so Project is part of
// the entry even though spec §3.1's attribute list omits it — every entry
// must land in exactly one project bucket.
type CostEntry struct {
	TaskID    string    `json:"task_id"`
	Project   string    `json:"project"`
	AgentRole string    `json:"agent_role"`
	Cost      float64   `json:"cost"`
	Timestamp time.Time `json:"timestamp"`
}

// CostSummary is the response shape for GET /costs.
type CostSummary struct {
	Total   float64            `json:"total"`
	ByRole  map[string]float64 `json:"by_role"`
	Entries []CostEntry        `json:"entries"`
}

// Store is the full persistence surface consumed by every other component.
// checkpoint.Repository and checkpoint.TaskTransitioner are satisfied
// structurally by any Store implementation.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListAllTasks(ctx context.Context) ([]*task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error
	UpdateStatus(ctx context.Context, id string, to task.State, actor, detail string) (*task.Task, error)
	GetByStatus(ctx context.Context, s task.State) ([]*task.Task, error)
	GetNextReady(ctx context.Context, parentID string) (*task.Task, error)

	// Agent records
	SaveAgent(ctx context.Context, a *agentrec.AgentRecord) error
	GetAgent(ctx context.Context, id string) (*agentrec.AgentRecord, error)
	ListAgents(ctx context.Context) ([]*agentrec.AgentRecord, error)
	DeleteAgent(ctx context.Context, id string) error
	AgentForTask(ctx context.Context, taskID string) (*agentrec.AgentRecord, error)

	// Checkpoints (also satisfies checkpoint.Repository)
	SaveCheckpoint(ctx context.Context, c *checkpoint.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*checkpoint.Checkpoint, error)
	PendingCheckpoints(ctx context.Context) ([]*checkpoint.Checkpoint, error)

	// Activity log
	AppendActivity(ctx context.Context, msg pubsub.Message) error
	ListActivity(ctx context.Context, limit int) ([]pubsub.Message, error)

	// Cost ledger
	AddCost(ctx context.Context, e CostEntry) error
	CostSummary(ctx context.Context, project string) (CostSummary, error)

	// Paused flag
	SetPaused(ctx context.Context, paused bool) error
	IsPaused(ctx context.Context) (bool, error)

	// Close releases any held resources (connections, files).
	Close() error
}
