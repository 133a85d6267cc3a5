package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legatus/pkg/task"
)

func TestFinalizeCampaignAggregatesChildDevOutputs(t *testing.T) {
	store := newFakeStore()
	parent := task.New("campaign", "desc", "proj", 3)
	parent, err := parent.WithStatus(task.StatePlanned, "pm", "planned")
	require.NoError(t, err)
	parent, err = parent.WithStatus(task.StateActive, "api", "pm dispatch")
	require.NoError(t, err)

	first := task.New("first", "d", "proj", 3)
	first.ParentID = parent.ID
	first.AgentOutputs["dev"] = "implemented the thing"

	second := task.New("second", "d", "proj", 3)
	second.ParentID = parent.ID
	second.AgentOutputs["dev"] = "implemented the other thing"

	parent.SubtaskIDs = []string{first.ID, second.ID}
	store.put(parent)
	store.put(first)
	store.put(second)

	bus := newBus(store, &fakeGit{}, &fakeSpawner{}, &fakeCheckpoints{}, Gates{})
	bus.finalizeCampaign(context.Background(), parent)

	got, err := store.GetTask(context.Background(), parent.ID)
	require.NoError(t, err)
	combined, _ := got.AgentOutputs["dev"].(string)
	assert.Contains(t, combined, "implemented the thing")
	assert.Contains(t, combined, "implemented the other thing")
}

func TestFinalizeCampaignSkipsChildrenWithoutDevOutput(t *testing.T) {
	store := newFakeStore()
	parent := task.New("campaign", "desc", "proj", 3)
	parent, err := parent.WithStatus(task.StatePlanned, "pm", "planned")
	require.NoError(t, err)
	parent, err = parent.WithStatus(task.StateActive, "api", "pm dispatch")
	require.NoError(t, err)

	child := task.New("first", "d", "proj", 3)
	child.ParentID = parent.ID

	parent.SubtaskIDs = []string{child.ID}
	store.put(parent)
	store.put(child)

	bus := newBus(store, &fakeGit{}, &fakeSpawner{}, &fakeCheckpoints{}, Gates{})
	bus.aggregateDevOutputs(context.Background(), parent)

	combined, _ := parent.AgentOutputs["dev"].(string)
	assert.Empty(t, combined)
}
