package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legatus/pkg/agentrec"
	"legatus/pkg/spawner"
	"legatus/pkg/task"
)

type fakeStore struct {
	tasks  map[string]*task.Task
	agents map[string]*agentrec.AgentRecord
	paused bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*task.Task), agents: make(map[string]*agentrec.AgentRecord)}
}

func (f *fakeStore) put(t *task.Task) { f.tasks[t.ID] = t }

func (f *fakeStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, assert.AnError
	}
	return t, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, t *task.Task) error {
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, to task.State, actor, detail string) (*task.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, assert.AnError
	}
	next, err := t.WithStatus(to, actor, detail)
	if err != nil {
		return nil, err
	}
	f.tasks[id] = next
	return next, nil
}

func (f *fakeStore) GetNextReady(context.Context, string) (*task.Task, error) { return nil, nil }

func (f *fakeStore) SaveAgent(_ context.Context, a *agentrec.AgentRecord) error {
	f.agents[a.ID] = a
	return nil
}

func (f *fakeStore) DeleteAgent(_ context.Context, id string) error {
	delete(f.agents, id)
	return nil
}

func (f *fakeStore) AgentForTask(_ context.Context, taskID string) (*agentrec.AgentRecord, error) {
	for _, a := range f.agents {
		if a.TaskID == taskID {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) IsPaused(context.Context) (bool, error) { return f.paused, nil }

type fakeGit struct {
	worktreesCreated []string
	worktreesRemoved []string
	branchesDeleted  []string
	failCreate       bool
}

func (g *fakeGit) CreateWorktree(_ context.Context, path, branch string) error {
	if g.failCreate {
		return assert.AnError
	}
	g.worktreesCreated = append(g.worktreesCreated, path+"@"+branch)
	return nil
}

func (g *fakeGit) RemoveWorktree(_ context.Context, path string) error {
	g.worktreesRemoved = append(g.worktreesRemoved, path)
	return nil
}

func (g *fakeGit) DeleteBranch(_ context.Context, branch string) error {
	g.branchesDeleted = append(g.branchesDeleted, branch)
	return nil
}

type fakeSpawnerAdapter struct {
	fail bool
}

func (s *fakeSpawnerAdapter) Spawn(_ context.Context, spec spawner.Spec) (spawner.Handle, error) {
	if s.fail {
		return spawner.Handle{}, assert.AnError
	}
	return spawner.Handle{AgentID: spec.AgentID, Backend: "fake"}, nil
}
func (s *fakeSpawnerAdapter) Stop(context.Context, spawner.Handle, time.Duration) error { return nil }
func (s *fakeSpawnerAdapter) Logs(context.Context, spawner.Handle, int) (string, error) {
	return "", nil
}
func (s *fakeSpawnerAdapter) Running(context.Context, spawner.Handle) (bool, error) {
	return true, nil
}

func setupCampaign(t *testing.T, store *fakeStore) (*task.Task, *task.Task) {
	t.Helper()
	parent := task.New("campaign", "desc", "proj", 3)
	parent.SubtaskIDs = nil
	child := task.New("child", "desc", "proj", 3)
	child.ParentID = parent.ID
	var err error
	child, err = child.WithStatus(task.StatePlanned, "pm", "planned")
	require.NoError(t, err)
	parent.SubtaskIDs = []string{child.ID}
	store.put(parent)
	store.put(child)
	return parent, child
}

func TestDispatchNextSpawnsFirstReadyChild(t *testing.T) {
	store := newFakeStore()
	parent, child := setupCampaign(t, store)
	d := New(store, &fakeGit{}, &fakeSpawnerAdapter{}, "/tmp/work", "agent:dev", nil)

	require.NoError(t, d.DispatchNext(context.Background(), parent.ID))

	got, err := store.GetTask(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateActive, got.Status)
	assert.NotEmpty(t, got.AssignedTo)
}

func TestDispatchNextNoopsWhilePaused(t *testing.T) {
	store := newFakeStore()
	parent, child := setupCampaign(t, store)
	store.paused = true
	d := New(store, &fakeGit{}, &fakeSpawnerAdapter{}, "/tmp/work", "agent:dev", nil)

	require.NoError(t, d.DispatchNext(context.Background(), parent.ID))

	got, err := store.GetTask(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatePlanned, got.Status)
}

func TestSpawnFailureWalksChildToRejected(t *testing.T) {
	store := newFakeStore()
	parent, child := setupCampaign(t, store)
	d := New(store, &fakeGit{}, &fakeSpawnerAdapter{fail: true}, "/tmp/work", "agent:dev", nil)

	_ = d.DispatchNext(context.Background(), parent.ID)

	got, err := store.GetTask(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateRejected, got.Status)
}

func TestOnSubtaskCompleteAllDone(t *testing.T) {
	store := newFakeStore()
	parent, child := setupCampaign(t, store)
	child, err := child.WithStatus(task.StateActive, "dispatcher", "agent=x")
	require.NoError(t, err)
	child, err = child.WithStatus(task.StateReview, "dev", "done")
	require.NoError(t, err)
	child, err = child.WithStatus(task.StateDone, "reviewer", "approved")
	require.NoError(t, err)
	store.put(child)

	d := New(store, &fakeGit{}, &fakeSpawnerAdapter{}, "/tmp/work", "agent:dev", nil)
	result, err := d.OnSubtaskComplete(context.Background(), parent.ID, Sequential)
	require.NoError(t, err)
	assert.Equal(t, ResultAllDone, result)
}

func TestCleanupSubtasksRejectsAll(t *testing.T) {
	store := newFakeStore()
	parent, child := setupCampaign(t, store)
	d := New(store, &fakeGit{}, &fakeSpawnerAdapter{}, "/tmp/work", "agent:dev", nil)

	require.NoError(t, d.CleanupSubtasks(context.Background(), parent.ID))
	got, err := store.GetTask(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateRejected, got.Status)
}
