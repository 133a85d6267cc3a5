package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legatus/pkg/task"
)

type fakeRepo struct {
	byID map[string]*Checkpoint
}

func newFakeRepo() *fakeRepo { return &fakeRepo{byID: make(map[string]*Checkpoint)} }

func (f *fakeRepo) SaveCheckpoint(_ context.Context, c *Checkpoint) error {
	f.byID[c.ID] = c
	return nil
}
func (f *fakeRepo) GetCheckpoint(_ context.Context, id string) (*Checkpoint, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, assert.AnError
	}
	return c, nil
}
func (f *fakeRepo) PendingCheckpoints(_ context.Context) ([]*Checkpoint, error) {
	var out []*Checkpoint
	for _, c := range f.byID {
		if c.Status == StatusPending {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeTasks struct {
	byID map[string]*task.Task
}

func newFakeTasks(t *task.Task) *fakeTasks {
	return &fakeTasks{byID: map[string]*task.Task{t.ID: t}}
}

func (f *fakeTasks) GetTask(_ context.Context, id string) (*task.Task, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, assert.AnError
	}
	return t, nil
}

func (f *fakeTasks) UpdateStatus(_ context.Context, id string, to task.State, actor, detail string) (*task.Task, error) {
	t := f.byID[id]
	next, err := t.WithStatus(to, actor, detail)
	if err != nil {
		return nil, err
	}
	f.byID[id] = next
	return next, nil
}

func TestManagerCreateBlocksTask(t *testing.T) {
	tsk := task.New("t", "d", "p", 1)
	tsk.Status = task.StateActive
	tasks := newFakeTasks(tsk)
	repo := newFakeRepo()
	mgr := NewManager(repo, tasks, nil)

	cp, err := mgr.Create(context.Background(), tsk.ID, "title", "desc", SourcePM)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cp.Status)

	blocked, _ := tasks.GetTask(context.Background(), tsk.ID)
	assert.Equal(t, task.StateBlocked, blocked.Status)
}

func TestManagerApproveUnblocksAndFiresHook(t *testing.T) {
	tsk := task.New("t", "d", "p", 1)
	tsk.Status = task.StateActive
	tasks := newFakeTasks(tsk)
	repo := newFakeRepo()
	mgr := NewManager(repo, tasks, nil)

	cp, err := mgr.Create(context.Background(), tsk.ID, "title", "desc", SourcePM)
	require.NoError(t, err)

	var hookSource SourceRole
	var hookCalled bool
	mgr.SetHooks(func(_ context.Context, taskID string, source SourceRole) {
		hookCalled = true
		hookSource = source
	}, nil)

	resolved, err := mgr.Approve(context.Background(), cp.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, resolved.Status)
	assert.True(t, hookCalled)
	assert.Equal(t, SourcePM, hookSource)

	unblocked, _ := tasks.GetTask(context.Background(), tsk.ID)
	assert.Equal(t, task.StateActive, unblocked.Status)
}

func TestManagerRejectRecordsReason(t *testing.T) {
	tsk := task.New("t", "d", "p", 1)
	tsk.Status = task.StateActive
	tasks := newFakeTasks(tsk)
	repo := newFakeRepo()
	mgr := NewManager(repo, tasks, nil)

	cp, err := mgr.Create(context.Background(), tsk.ID, "title", "desc", SourceReviewer)
	require.NoError(t, err)

	var reason string
	mgr.SetHooks(nil, func(_ context.Context, taskID string, source SourceRole, r string) {
		reason = r
	})

	resolved, err := mgr.Reject(context.Background(), cp.ID, "operator", "not good enough")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, resolved.Status)
	assert.Equal(t, "not good enough", resolved.RejectionReason)
	assert.Equal(t, "not good enough", reason)
}

func TestManagerResolveIsIdempotent(t *testing.T) {
	tsk := task.New("t", "d", "p", 1)
	tsk.Status = task.StateActive
	tasks := newFakeTasks(tsk)
	repo := newFakeRepo()
	mgr := NewManager(repo, tasks, nil)

	cp, err := mgr.Create(context.Background(), tsk.ID, "title", "desc", SourcePM)
	require.NoError(t, err)

	calls := 0
	mgr.SetHooks(func(context.Context, string, SourceRole) { calls++ }, nil)

	_, err = mgr.Approve(context.Background(), cp.ID, "operator")
	require.NoError(t, err)
	_, err = mgr.Approve(context.Background(), cp.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
