package sqlstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legatus/pkg/store"
	"legatus/pkg/task"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, "sqlite3", nil)
	require.NoError(t, err)
	return s
}

func TestSQLStoreCreateAndGetTask(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tsk := task.New("title", "desc", "proj", 3)
	require.NoError(t, s.CreateTask(ctx, tsk))

	got, err := s.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, tsk.Title, got.Title)
	assert.Equal(t, task.StateCreated, got.Status)
}

func TestSQLStoreUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tsk := task.New("title", "desc", "proj", 3)
	require.NoError(t, s.CreateTask(ctx, tsk))

	updated, err := s.UpdateStatus(ctx, tsk.ID, task.StatePlanned, "pm", "planned")
	require.NoError(t, err)
	assert.Equal(t, task.StatePlanned, updated.Status)

	_, err = s.UpdateStatus(ctx, tsk.ID, task.StateDone, "pm", "skip")
	assert.Error(t, err)
}

func TestSQLStoreCostSummary(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AddCost(ctx, store.CostEntry{TaskID: "t1", Project: "proj", AgentRole: "DEV", Cost: 1.0}))
	require.NoError(t, s.AddCost(ctx, store.CostEntry{TaskID: "t2", Project: "proj", AgentRole: "DEV", Cost: 2.0}))

	summary, err := s.CostSummary(ctx, "proj")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, summary.Total, 0.0001)
}

func TestSQLStorePausedFlag(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	paused, err := s.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, s.SetPaused(ctx, true))
	paused, err = s.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)
}
