// Package memstore implements legatus/pkg/store.Store entirely in memory,
// grounded on the teacher's pkg/task.InMemoryService (mutex-guarded maps,
// no external dependency). It is the default backend for a single-process
// deployment and the backend used by every component's unit tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"legatus/pkg/agentrec"
	"legatus/pkg/checkpoint"
	"legatus/pkg/errs"
	"legatus/pkg/pubsub"
	"legatus/pkg/store"
	"legatus/pkg/task"
)

const activityLogCap = 1000

// Store is the in-memory legatus/pkg/store.Store implementation.
type Store struct {
	mu sync.RWMutex

	tasks      map[string]*task.Task
	taskOrder  []string // insertion order, for ListAllTasks
	agents     map[string]*agentrec.AgentRecord
	checkpoints map[string]*checkpoint.Checkpoint
	pendingSeq []string // checkpoint ids, creation order

	activity    *lru.Cache[uint64, pubsub.Message]
	activitySeq uint64

	costs       map[string][]store.CostEntry
	costTotals  map[string]float64

	paused bool
}

// New constructs an empty in-memory Store.
func New() *Store {
	cache, err := lru.New[uint64, pubsub.Message](activityLogCap)
	if err != nil {
		// Only returns an error for a non-positive size, which activityLogCap never is.
		panic(err)
	}
	return &Store{
		tasks:       make(map[string]*task.Task),
		agents:      make(map[string]*agentrec.AgentRecord),
		checkpoints: make(map[string]*checkpoint.Checkpoint),
		activity:    cache,
		costs:       make(map[string][]store.CostEntry),
		costTotals:  make(map[string]float64),
	}
}

var _ store.Store = (*Store)(nil)

// --- Tasks ---

func (s *Store) CreateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return errs.New("store", "CreateTask", errs.ErrAlreadyExists, "task "+t.ID+" already exists")
	}
	s.tasks[t.ID] = t.Clone()
	s.taskOrder = append(s.taskOrder, t.ID)
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, errs.NotFound("store", "GetTask", "task "+id+" not found")
	}
	return t.Clone(), nil
}

func (s *Store) ListAllTasks(_ context.Context) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*task.Task, 0, len(s.taskOrder))
	for _, id := range s.taskOrder {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *Store) UpdateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; !ok {
		return errs.NotFound("store", "UpdateTask", "task "+t.ID+" not found")
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

// UpdateStatus is the only path by which Status changes (spec §4.1). It
// refuses invalid transitions and appends a history event on success.
func (s *Store) UpdateStatus(_ context.Context, id string, to task.State, actor, detail string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, errs.NotFound("store", "UpdateStatus", "task "+id+" not found")
	}

	next, err := t.WithStatus(to, actor, detail)
	if err != nil {
		return nil, err
	}
	s.tasks[id] = next
	return next.Clone(), nil
}

func (s *Store) GetByStatus(_ context.Context, state task.State) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*task.Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.Status == state {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// GetNextReady returns the highest-priority PLANNED child of parentID whose
// DependsOn siblings are all DONE, or nil if none qualifies.
func (s *Store) GetNextReady(_ context.Context, parentID string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parent, ok := s.tasks[parentID]
	if !ok {
		return nil, errs.NotFound("store", "GetNextReady", "parent "+parentID+" not found")
	}

	var candidates []*task.Task
	for _, childID := range parent.SubtaskIDs {
		child, ok := s.tasks[childID]
		if !ok || child.Status != task.StatePlanned {
			continue
		}
		if s.depsSatisfiedLocked(child) {
			candidates = append(candidates, child)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})
	return candidates[0].Clone(), nil
}

func (s *Store) depsSatisfiedLocked(t *task.Task) bool {
	for _, depID := range t.DependsOn {
		dep, ok := s.tasks[depID]
		if !ok || dep.Status != task.StateDone {
			return false
		}
	}
	return true
}

// --- Agent records ---

func (s *Store) SaveAgent(_ context.Context, a *agentrec.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*agentrec.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, errs.NotFound("store", "GetAgent", "agent "+id+" not found")
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAgents(_ context.Context) ([]*agentrec.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*agentrec.AgentRecord, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

// AgentForTask enforces invariant I1 by construction: callers use this to
// check no other AgentRecord already references the task before spawning.
func (s *Store) AgentForTask(_ context.Context, taskID string) (*agentrec.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.TaskID == taskID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

// --- Checkpoints ---

func (s *Store) SaveCheckpoint(_ context.Context, c *checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.checkpoints[c.ID]
	cp := *c
	s.checkpoints[c.ID] = &cp

	if c.Status == checkpoint.StatusPending {
		if !existed {
			s.pendingSeq = append(s.pendingSeq, c.ID)
		}
	} else {
		for i, id := range s.pendingSeq {
			if id == c.ID {
				s.pendingSeq = append(s.pendingSeq[:i], s.pendingSeq[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *Store) GetCheckpoint(_ context.Context, id string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkpoints[id]
	if !ok {
		return nil, errs.NotFound("store", "GetCheckpoint", "checkpoint "+id+" not found")
	}
	cp := *c
	return &cp, nil
}

func (s *Store) PendingCheckpoints(_ context.Context) ([]*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*checkpoint.Checkpoint, 0, len(s.pendingSeq))
	for _, id := range s.pendingSeq {
		if c, ok := s.checkpoints[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Activity log ---

// AppendActivity records msg in the capped activity log. The log never
// exceeds activityLogCap entries (invariant I5): once full, adding a new
// entry evicts the oldest via the underlying LRU cache's FIFO-like
// eviction (entries are never re-accessed, so LRU order equals insertion
// order).
func (s *Store) AppendActivity(_ context.Context, msg pubsub.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activitySeq++
	s.activity.Add(s.activitySeq, msg)
	return nil
}

func (s *Store) ListActivity(_ context.Context, limit int) ([]pubsub.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.activity.Keys() // oldest to newest
	out := make([]pubsub.Message, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if msg, ok := s.activity.Peek(keys[i]); ok {
			out = append(out, msg)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- Cost ledger ---

// AddCost appends a cost entry to its project's ledger bucket (store key
// layout `costs:{project}` / `costs:{project}:total`).
func (s *Store) AddCost(_ context.Context, e store.CostEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs[e.Project] = append(s.costs[e.Project], e)
	s.costTotals[e.Project] += e.Cost
	return nil
}

func (s *Store) CostSummary(_ context.Context, project string) (store.CostSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.costs[project]
	byRole := make(map[string]float64)
	for _, e := range entries {
		byRole[e.AgentRole] += e.Cost
	}
	return store.CostSummary{
		Total:   s.costTotals[project],
		ByRole:  byRole,
		Entries: append([]store.CostEntry(nil), entries...),
	}, nil
}

// --- Paused flag ---

func (s *Store) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}

func (s *Store) IsPaused(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused, nil
}

func (s *Store) Close() error { return nil }
