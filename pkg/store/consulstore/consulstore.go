// Package consulstore implements legatus/pkg/store.Store over Consul's KV
// store, using the exact key layout spec §6.4 prescribes for the persisted
// store: `task:{id}`, `tasks:all`, `agent:{id}`, `agents:all`,
// `checkpoint:{id}`, `checkpoints:pending`, `logs:activity`,
// `costs:{project}` and `costs:{project}:total`. It is the multi-process
// alternative to memstore: any number of legatusd instances pointed at the
// same Consul cluster share one orchestrator's state.
package consulstore

import (
	"context"
	"encoding/json"
	"strconv"

	capi "github.com/hashicorp/consul/api"

	"legatus/pkg/agentrec"
	"legatus/pkg/checkpoint"
	"legatus/pkg/errs"
	"legatus/pkg/pubsub"
	"legatus/pkg/store"
	"legatus/pkg/task"
)

const activityLogCap = 1000

// Store is a Consul-KV-backed legatus/pkg/store.Store.
type Store struct {
	kv     *capi.KV
	prefix string
}

// New builds a Store over an existing Consul client, namespacing every key
// under prefix (e.g. "legatus/").
func New(client *capi.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "legatus/"
	}
	return &Store{kv: client.KV(), prefix: prefix}
}

var _ store.Store = (*Store)(nil)

func (s *Store) key(parts ...string) string {
	out := s.prefix
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}

func (s *Store) putJSON(key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap("consulstore", "putJSON", errs.ErrPreconditionFail, "marshal", err)
	}
	_, err = s.kv.Put(&capi.KVPair{Key: key, Value: body}, nil)
	if err != nil {
		return errs.Wrap("consulstore", "putJSON", errs.ErrUnavailable, "put "+key, err)
	}
	return nil
}

func (s *Store) getJSON(key string, v any) (bool, error) {
	pair, _, err := s.kv.Get(key, nil)
	if err != nil {
		return false, errs.Wrap("consulstore", "getJSON", errs.ErrUnavailable, "get "+key, err)
	}
	if pair == nil {
		return false, nil
	}
	if err := json.Unmarshal(pair.Value, v); err != nil {
		return false, errs.Wrap("consulstore", "getJSON", errs.ErrPreconditionFail, "unmarshal "+key, err)
	}
	return true, nil
}

// stringSet reads/writes an ordered id set stored as JSON array.
func (s *Store) stringSet(key string) ([]string, error) {
	var ids []string
	if _, err := s.getJSON(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) appendToSet(key, id string) error {
	ids, err := s.stringSet(key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	return s.putJSON(key, ids)
}

func (s *Store) removeFromSet(key, id string) error {
	ids, err := s.stringSet(key)
	if err != nil {
		return err
	}
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i], ids[i+1:]...)
			return s.putJSON(key, ids)
		}
	}
	return nil
}

// --- Tasks ---

func (s *Store) CreateTask(_ context.Context, t *task.Task) error {
	if err := s.putJSON(s.key("task", t.ID), t); err != nil {
		return err
	}
	return s.appendToSet(s.key("tasks", "all"), t.ID)
}

func (s *Store) GetTask(_ context.Context, id string) (*task.Task, error) {
	var t task.Task
	ok, err := s.getJSON(s.key("task", id), &t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFound("consulstore", "GetTask", "task "+id+" not found")
	}
	return &t, nil
}

func (s *Store) ListAllTasks(ctx context.Context) ([]*task.Task, error) {
	ids, err := s.stringSet(s.key("tasks", "all"))
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) UpdateTask(_ context.Context, t *task.Task) error {
	return s.putJSON(s.key("task", t.ID), t)
}

func (s *Store) UpdateStatus(ctx context.Context, id string, to task.State, actor, detail string) (*task.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := t.WithStatus(to, actor, detail)
	if err != nil {
		return nil, err
	}
	if err := s.UpdateTask(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) GetByStatus(ctx context.Context, state task.State) ([]*task.Task, error) {
	all, err := s.ListAllTasks(ctx)
	if err != nil {
		return nil, err
	}
	var out []*task.Task
	for _, t := range all {
		if t.Status == state {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GetNextReady(ctx context.Context, parentID string) (*task.Task, error) {
	parent, err := s.GetTask(ctx, parentID)
	if err != nil {
		return nil, err
	}
	var best *task.Task
	for _, childID := range parent.SubtaskIDs {
		child, err := s.GetTask(ctx, childID)
		if err != nil || child.Status != task.StatePlanned {
			continue
		}
		satisfied := true
		for _, depID := range child.DependsOn {
			dep, err := s.GetTask(ctx, depID)
			if err != nil || dep.Status != task.StateDone {
				satisfied = false
				break
			}
		}
		if satisfied && (best == nil || child.Priority > best.Priority) {
			best = child
		}
	}
	return best, nil
}

// --- Agents ---

func (s *Store) SaveAgent(_ context.Context, a *agentrec.AgentRecord) error {
	if err := s.putJSON(s.key("agent", a.ID), a); err != nil {
		return err
	}
	return s.appendToSet(s.key("agents", "all"), a.ID)
}

func (s *Store) GetAgent(_ context.Context, id string) (*agentrec.AgentRecord, error) {
	var a agentrec.AgentRecord
	ok, err := s.getJSON(s.key("agent", id), &a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFound("consulstore", "GetAgent", "agent "+id+" not found")
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]*agentrec.AgentRecord, error) {
	ids, err := s.stringSet(s.key("agents", "all"))
	if err != nil {
		return nil, err
	}
	out := make([]*agentrec.AgentRecord, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAgent(ctx, id)
		if err == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) DeleteAgent(_ context.Context, id string) error {
	if _, err := s.kv.Delete(s.key("agent", id), nil); err != nil {
		return errs.Wrap("consulstore", "DeleteAgent", errs.ErrUnavailable, "delete", err)
	}
	return s.removeFromSet(s.key("agents", "all"), id)
}

func (s *Store) AgentForTask(ctx context.Context, taskID string) (*agentrec.AgentRecord, error) {
	agents, err := s.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.TaskID == taskID {
			return a, nil
		}
	}
	return nil, nil
}

// --- Checkpoints ---

func (s *Store) SaveCheckpoint(_ context.Context, c *checkpoint.Checkpoint) error {
	if err := s.putJSON(s.key("checkpoint", c.ID), c); err != nil {
		return err
	}
	if c.Status == checkpoint.StatusPending {
		return s.appendToSet(s.key("checkpoints", "pending"), c.ID)
	}
	return s.removeFromSet(s.key("checkpoints", "pending"), c.ID)
}

func (s *Store) GetCheckpoint(_ context.Context, id string) (*checkpoint.Checkpoint, error) {
	var c checkpoint.Checkpoint
	ok, err := s.getJSON(s.key("checkpoint", id), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFound("consulstore", "GetCheckpoint", "checkpoint "+id+" not found")
	}
	return &c, nil
}

func (s *Store) PendingCheckpoints(ctx context.Context) ([]*checkpoint.Checkpoint, error) {
	ids, err := s.stringSet(s.key("checkpoints", "pending"))
	if err != nil {
		return nil, err
	}
	out := make([]*checkpoint.Checkpoint, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCheckpoint(ctx, id)
		if err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- Activity log ---

func (s *Store) AppendActivity(_ context.Context, msg pubsub.Message) error {
	var log []pubsub.Message
	if _, err := s.getJSON(s.key("logs", "activity"), &log); err != nil {
		return err
	}
	log = append([]pubsub.Message{msg}, log...) // newest-first
	if len(log) > activityLogCap {
		log = log[:activityLogCap]
	}
	return s.putJSON(s.key("logs", "activity"), log)
}

func (s *Store) ListActivity(_ context.Context, limit int) ([]pubsub.Message, error) {
	var log []pubsub.Message
	if _, err := s.getJSON(s.key("logs", "activity"), &log); err != nil {
		return nil, err
	}
	if limit > 0 && len(log) > limit {
		log = log[:limit]
	}
	return log, nil
}

// --- Cost ledger ---

func (s *Store) AddCost(_ context.Context, e store.CostEntry) error {
	var entries []store.CostEntry
	if _, err := s.getJSON(s.key("costs", e.Project), &entries); err != nil {
		return err
	}
	entries = append(entries, e)
	if err := s.putJSON(s.key("costs", e.Project), entries); err != nil {
		return err
	}

	var total float64
	if _, err := s.getJSON(s.key("costs", e.Project, "total"), &total); err != nil {
		return err
	}
	total += e.Cost
	return s.putJSON(s.key("costs", e.Project, "total"), total)
}

func (s *Store) CostSummary(_ context.Context, project string) (store.CostSummary, error) {
	var entries []store.CostEntry
	if _, err := s.getJSON(s.key("costs", project), &entries); err != nil {
		return store.CostSummary{}, err
	}
	var total float64
	if _, err := s.getJSON(s.key("costs", project, "total"), &total); err != nil {
		return store.CostSummary{}, err
	}
	byRole := make(map[string]float64)
	for _, e := range entries {
		byRole[e.AgentRole] += e.Cost
	}
	return store.CostSummary{Total: total, ByRole: byRole, Entries: entries}, nil
}

// --- Paused flag ---

func (s *Store) SetPaused(_ context.Context, paused bool) error {
	_, err := s.kv.Put(&capi.KVPair{Key: s.key("system", "paused"), Value: []byte(strconv.FormatBool(paused))}, nil)
	if err != nil {
		return errs.Wrap("consulstore", "SetPaused", errs.ErrUnavailable, "put", err)
	}
	return nil
}

func (s *Store) IsPaused(_ context.Context) (bool, error) {
	pair, _, err := s.kv.Get(s.key("system", "paused"), nil)
	if err != nil {
		return false, errs.Wrap("consulstore", "IsPaused", errs.ErrUnavailable, "get", err)
	}
	if pair == nil {
		return false, nil
	}
	return strconv.ParseBool(string(pair.Value))
}

func (s *Store) Close() error { return nil }
