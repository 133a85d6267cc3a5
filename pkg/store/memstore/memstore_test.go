package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legatus/pkg/checkpoint"
	"legatus/pkg/pubsub"
	"legatus/pkg/store"
	"legatus/pkg/task"
)

func TestCreateGetListTasks(t *testing.T) {
	ctx := context.Background()
	s := New()

	t1 := task.New("a", "d", "proj", 3)
	t2 := task.New("b", "d", "proj", 3)
	require.NoError(t, s.CreateTask(ctx, t1))
	require.NoError(t, s.CreateTask(ctx, t2))

	got, err := s.GetTask(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, t1.Title, got.Title)

	all, err := s.ListAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, t1.ID, all[0].ID)
	assert.Equal(t, t2.ID, all[1].ID)
}

func TestUpdateStatusRefusesInvalidAndAppendsHistory(t *testing.T) {
	ctx := context.Background()
	s := New()
	tsk := task.New("a", "d", "proj", 3)
	require.NoError(t, s.CreateTask(ctx, tsk))

	_, err := s.UpdateStatus(ctx, tsk.ID, task.StateActive, "x", "skip")
	assert.Error(t, err)

	updated, err := s.UpdateStatus(ctx, tsk.ID, task.StatePlanned, "pm", "planned")
	require.NoError(t, err)
	assert.Equal(t, task.StatePlanned, updated.Status)
	require.Len(t, updated.History, 1)
}

func TestGetNextReadyRespectsDependsOnAndPriority(t *testing.T) {
	ctx := context.Background()
	s := New()

	parent := task.New("campaign", "d", "proj", 3)
	dep := task.New("dep", "d", "proj", 3)
	dep.ParentID = parent.ID
	dep.Status = task.StateDone

	low := task.New("low", "d", "proj", 1)
	low.ParentID = parent.ID
	low.Status = task.StatePlanned

	high := task.New("high", "d", "proj", 5)
	high.ParentID = parent.ID
	high.Status = task.StatePlanned
	high.DependsOn = []string{dep.ID}

	blocked := task.New("blocked-by-dep", "d", "proj", 4)
	blocked.ParentID = parent.ID
	blocked.Status = task.StatePlanned
	unfinishedDep := task.New("unfinished", "d", "proj", 1)
	blocked.DependsOn = []string{unfinishedDep.ID}

	parent.SubtaskIDs = []string{dep.ID, low.ID, high.ID, blocked.ID}

	for _, tk := range []*task.Task{parent, dep, low, high, blocked, unfinishedDep} {
		require.NoError(t, s.CreateTask(ctx, tk))
	}

	ready, err := s.GetNextReady(ctx, parent.ID)
	require.NoError(t, err)
	require.NotNil(t, ready)
	assert.Equal(t, high.ID, ready.ID)
}

func TestActivityLogCapsAt1000(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 1200; i++ {
		require.NoError(t, s.AppendActivity(ctx, pubsub.New(pubsub.LogEntry, "", "", nil)))
	}
	all, err := s.ListActivity(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1000)
}

func TestActivityLogNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AppendActivity(ctx, pubsub.New(pubsub.LogEntry, "1", "", nil)))
	require.NoError(t, s.AppendActivity(ctx, pubsub.New(pubsub.LogEntry, "2", "", nil)))
	require.NoError(t, s.AppendActivity(ctx, pubsub.New(pubsub.LogEntry, "3", "", nil)))

	all, err := s.ListActivity(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].TaskID)
	assert.Equal(t, "1", all[2].TaskID)
}

func TestCostSummary(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AddCost(ctx, store.CostEntry{TaskID: "t1", Project: "proj", AgentRole: "DEV", Cost: 1.5}))
	require.NoError(t, s.AddCost(ctx, store.CostEntry{TaskID: "t2", Project: "proj", AgentRole: "QA", Cost: 2.5}))

	summary, err := s.CostSummary(ctx, "proj")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, summary.Total, 0.0001)
	assert.InDelta(t, 1.5, summary.ByRole["DEV"], 0.0001)
	assert.Len(t, summary.Entries, 2)
}

func TestCheckpointPendingIndex(t *testing.T) {
	ctx := context.Background()
	s := New()
	cp := &checkpoint.Checkpoint{ID: "c1", TaskID: "t1", Status: checkpoint.StatusPending}
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	pending, err := s.PendingCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	resolved := cp.WithApproved("operator")
	require.NoError(t, s.SaveCheckpoint(ctx, resolved))

	pending, err = s.PendingCheckpoints(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 0)
}

func TestPausedFlag(t *testing.T) {
	ctx := context.Background()
	s := New()
	paused, err := s.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, s.SetPaused(ctx, true))
	paused, err = s.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)
}
