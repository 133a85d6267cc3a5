package spawner

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDockerSpawnerRequiresImage(t *testing.T) {
	d := NewDockerSpawner()
	_, err := d.Spawn(context.Background(), Spec{AgentID: "a1"})
	require.Error(t, err)
}

func TestContainerNameIsStable(t *testing.T) {
	assert.Equal(t, "legatus-agent-a1", containerName("a1"))
	assert.Equal(t, containerName("a1"), containerName("a1"))
}

func TestDockerSpawnerLifecycle(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker binary not available")
	}
	d := NewDockerSpawner()
	ctx := context.Background()

	h, err := d.Spawn(ctx, Spec{AgentID: "spawner-test-1", Image: "alpine:latest", Env: map[string]string{"FOO": "bar"}})
	require.NoError(t, err)
	defer d.Stop(ctx, h, 0)

	running, err := d.Running(ctx, h)
	require.NoError(t, err)
	_ = running
}
