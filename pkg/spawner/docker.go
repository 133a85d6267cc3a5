package spawner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"legatus/pkg/errs"
)

// DockerSpawner runs each agent as a detached container, shelling out to
// the docker CLI in the same subprocess-wrapper idiom cklxx-elephant.ai's
// internal/devops/docker.CLIClient uses for its own container lifecycle —
// no docker SDK dependency is in the example pack, and the CLI surface is
// sufficient for run/stop/logs.
type DockerSpawner struct {
	dockerBin string
}

// NewDockerSpawner builds a DockerSpawner, resolving the docker binary
// from PATH.
func NewDockerSpawner() *DockerSpawner {
	bin := "docker"
	if p, err := exec.LookPath("docker"); err == nil {
		bin = p
	}
	return &DockerSpawner{dockerBin: bin}
}

var _ Spawner = (*DockerSpawner)(nil)

func (d *DockerSpawner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.dockerBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func containerName(agentID string) string {
	return "legatus-agent-" + agentID
}

// Spawn starts spec as a detached, named container.
func (d *DockerSpawner) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	name := containerName(spec.AgentID)
	args := []string{"run", "-d", "--name", name}
	for k, v := range spec.Env {
		args = append(args, "-e", k+"="+v)
	}
	if spec.WorkDir != "" {
		args = append(args, "-v", spec.WorkDir+":/workspace", "-w", "/workspace")
	}
	if spec.Image == "" {
		return Handle{}, errs.New("spawner", "Spawn", errs.ErrPreconditionFail, "spec.Image is required for DockerSpawner")
	}
	args = append(args, spec.Image)

	if _, err := d.run(ctx, args...); err != nil {
		return Handle{}, errs.Wrap("spawner", "Spawn", errs.ErrUnavailable, "docker run failed", err)
	}
	return Handle{AgentID: spec.AgentID, Backend: "docker"}, nil
}

// Stop stops and removes the named container.
func (d *DockerSpawner) Stop(ctx context.Context, h Handle, timeout time.Duration) error {
	name := containerName(h.AgentID)
	args := []string{"stop"}
	if timeout > 0 {
		args = append(args, "-t", strconv.Itoa(int(timeout.Seconds())))
	}
	args = append(args, name)
	if _, err := d.run(ctx, args...); err != nil {
		return errs.Wrap("spawner", "Stop", errs.ErrUnavailable, "docker stop failed", err)
	}
	if _, err := d.run(ctx, "rm", name); err != nil {
		return errs.Wrap("spawner", "Stop", errs.ErrUnavailable, "docker rm failed", err)
	}
	return nil
}

// Logs returns the container's trailing log output, truncated to
// approximately maxBytes.
func (d *DockerSpawner) Logs(ctx context.Context, h Handle, maxBytes int) (string, error) {
	name := containerName(h.AgentID)
	out, err := d.run(ctx, "logs", "--tail", "500", name)
	if err != nil {
		return "", errs.Wrap("spawner", "Logs", errs.ErrUnavailable, "docker logs failed", err)
	}
	if maxBytes > 0 && len(out) > maxBytes {
		out = out[len(out)-maxBytes:]
	}
	return out, nil
}

// Running reports whether the container is currently running.
func (d *DockerSpawner) Running(ctx context.Context, h Handle) (bool, error) {
	out, err := d.run(ctx, "ps", "--format", "{{.Names}}")
	if err != nil {
		return false, errs.Wrap("spawner", "Running", errs.ErrUnavailable, "docker ps failed", err)
	}
	name := containerName(h.AgentID)
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}
