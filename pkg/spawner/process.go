package spawner

import (
	"context"
	"net/rpc"
	"os/exec"
	"sync"
	"time"

	plugin "github.com/hashicorp/go-plugin"

	"legatus/pkg/errs"
)

// agentHandshake identifies the subprocess contract the spawned agent
// binary must speak: a single env-var cookie so a process started outside
// legatusd can't be mistaken for a managed agent. The agent itself talks
// to the orchestrator over pubsub, not RPC; go-plugin here is used purely
// for its handshake-based liveness probe and managed-process lifecycle,
// not for an RPC-driven plugin interface.
var agentHandshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "LEGATUS_AGENT",
	MagicCookieValue: "legatus-agent-v1",
}

// noopAgentPlugin satisfies plugin.Plugin without exposing any RPC
// surface; the orchestrator only needs go-plugin's handshake/health loop.
type noopAgentPlugin struct{}

func (noopAgentPlugin) Server(*plugin.MuxBroker) (interface{}, error) { return nil, nil }
func (noopAgentPlugin) Client(*plugin.MuxBroker, *rpc.Client) (interface{}, error) {
	return nil, nil
}

// ProcessSpawner runs each agent as a local subprocess managed through
// hashicorp/go-plugin's handshake and process-supervision machinery —
// the fallback runtime for environments without Docker, per the domain
// stack's "replaces container runtime when Docker is unavailable" wiring.
type ProcessSpawner struct {
	mu      sync.Mutex
	clients map[string]*plugin.Client
}

// NewProcessSpawner builds an empty ProcessSpawner.
func NewProcessSpawner() *ProcessSpawner {
	return &ProcessSpawner{clients: make(map[string]*plugin.Client)}
}

var _ Spawner = (*ProcessSpawner)(nil)

// Spawn launches spec.Image (a local binary path) as a managed subprocess.
func (p *ProcessSpawner) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	if spec.Image == "" {
		return Handle{}, errs.New("spawner", "Spawn", errs.ErrPreconditionFail, "spec.Image (binary path) is required for ProcessSpawner")
	}
	cmd := exec.CommandContext(context.Background(), spec.Image)
	cmd.Dir = spec.WorkDir
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: agentHandshake,
		Plugins:         map[string]plugin.Plugin{"agent": &noopAgentPlugin{}},
		Cmd:             cmd,
		AllowedProtocols: []plugin.Protocol{
			plugin.ProtocolNetRPC,
		},
	})

	p.mu.Lock()
	p.clients[spec.AgentID] = client
	p.mu.Unlock()

	// NewClient only constructs the client; the subprocess is launched and
	// the handshake performed on the first Client() call.
	if _, err := client.Client(); err != nil {
		p.mu.Lock()
		delete(p.clients, spec.AgentID)
		p.mu.Unlock()
		client.Kill()
		return Handle{}, errs.Wrap("spawner", "Spawn", errs.ErrUnavailable, "launch agent process", err)
	}

	return Handle{AgentID: spec.AgentID, Backend: "process"}, nil
}

// Stop terminates the managed subprocess.
func (p *ProcessSpawner) Stop(ctx context.Context, h Handle, timeout time.Duration) error {
	p.mu.Lock()
	client, ok := p.clients[h.AgentID]
	delete(p.clients, h.AgentID)
	p.mu.Unlock()
	if !ok {
		return errs.NotFound("spawner", "Stop", "no managed process for agent "+h.AgentID)
	}
	client.Kill()
	return nil
}

// Logs is unsupported for subprocess agents beyond what the process
// itself writes to a file the caller configured via spec.Env; the
// orchestrator does not capture subprocess stdout separately.
func (p *ProcessSpawner) Logs(ctx context.Context, h Handle, maxBytes int) (string, error) {
	return "", nil
}

// Running reports whether the handshake reports the subprocess alive.
func (p *ProcessSpawner) Running(ctx context.Context, h Handle) (bool, error) {
	p.mu.Lock()
	client, ok := p.clients[h.AgentID]
	p.mu.Unlock()
	if !ok {
		return false, nil
	}
	return !client.Exited(), nil
}
