// Package spawner starts and stops the ephemeral agent runtimes the
// dispatcher and event bus drive: one process (container or subprocess)
// per active task, identified by AgentRecord.ID. Two backends are
// provided: a Docker CLI backend for the common case, and a go-plugin
// subprocess backend for environments without a container runtime.
package spawner

import (
	"context"
	"time"
)

// Spec describes one agent invocation.
type Spec struct {
	AgentID string
	TaskID  string
	Role    string // matches agentrec.Role
	Image   string // backend-specific: docker image ref, or subprocess binary path
	WorkDir string // host path mounted/passed as the agent's working directory
	Env     map[string]string
}

// Handle identifies a running agent instance to later Stop/Logs calls.
type Handle struct {
	AgentID string
	Backend string
}

// Spawner starts and stops ephemeral agent runtimes. Implementations must
// be safe for concurrent use — the dispatcher may spawn several DEV
// agents in parallel mode.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Handle, error)
	Stop(ctx context.Context, h Handle, timeout time.Duration) error
	// Logs returns up to maxBytes of the agent's most recent output, for
	// debug-only inclusion in cleanup per spec §4.6.
	Logs(ctx context.Context, h Handle, maxBytes int) (string, error)
	Running(ctx context.Context, h Handle) (bool, error)
}
