package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legatus/pkg/task"
)

func TestRescanDispatchesPlannedChildrenOfEveryCampaign(t *testing.T) {
	store := newFakeStore()
	parent := task.New("campaign", "desc", "proj", 3)
	parent, err := parent.WithStatus(task.StatePlanned, "pm", "planned")
	require.NoError(t, err)
	parent, err = parent.WithStatus(task.StateActive, "api", "pm dispatch")
	require.NoError(t, err)

	child := task.New("child", "d", "proj", 3)
	child.ParentID = parent.ID
	child, err = child.WithStatus(task.StatePlanned, "pm", "planned")
	require.NoError(t, err)

	parent.SubtaskIDs = []string{child.ID}
	store.put(parent)
	store.put(child)

	bus := newBus(store, &fakeGit{}, &fakeSpawner{}, &fakeCheckpoints{}, Gates{})
	bus.Rescan(context.Background())

	got, err := store.GetTask(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateActive, got.Status)
	assert.NotEmpty(t, got.AssignedTo)
}

func TestRescanIgnoresRootPlannedTasksWithoutAParent(t *testing.T) {
	store := newFakeStore()
	solo := task.New("solo", "d", "proj", 3)
	solo, err := solo.WithStatus(task.StatePlanned, "pm", "planned")
	require.NoError(t, err)
	store.put(solo)

	bus := newBus(store, &fakeGit{}, &fakeSpawner{}, &fakeCheckpoints{}, Gates{})
	assert.NotPanics(t, func() { bus.Rescan(context.Background()) })
}
