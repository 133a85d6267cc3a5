// Package devtools backs legatusctl's `dev up|down|status` commands: it
// starts and supervises the orchestrator's own supporting services (the
// CLI registers one: a local memory-service stub) during development, the way
// cklxx-elephant.ai's internal/devops package brings up its web/backend/ACP
// trio. This is developer tooling; it never runs as part of legatusd.
package devtools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"legatus/pkg/devtools/health"
	"legatus/pkg/devtools/port"
	"legatus/pkg/devtools/process"
)

// State is a managed service's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Service is one dev-time supporting process.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() State
	Health(ctx context.Context) health.Result
}

// Status summarizes one service for `legatusctl dev status`.
type Status struct {
	Name    string
	State   State
	PID     int
	Healthy bool
	Message string
}

// Orchestrator coordinates startup, shutdown and health reporting for the
// registered dev services.
type Orchestrator struct {
	services []Service
	health   *health.Checker
	ports    *port.Allocator
	procs    *process.Manager
	logger   *slog.Logger
}

// NewOrchestrator builds an Orchestrator rooted at pidDir/logDir.
func NewOrchestrator(pidDir, logDir string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		health: health.NewChecker(),
		ports:  port.NewAllocator(),
		procs:  process.NewManager(pidDir, logDir),
		logger: logger,
	}
}

// Health returns the orchestrator's probe registry, for services to
// register against during construction.
func (o *Orchestrator) Health() *health.Checker { return o.health }

// Ports returns the port allocator services reserve listen ports from.
func (o *Orchestrator) Ports() *port.Allocator { return o.ports }

// Processes returns the subprocess manager backing process-based services.
func (o *Orchestrator) Processes() *process.Manager { return o.procs }

// Register adds services to the managed set, in start order.
func (o *Orchestrator) Register(services ...Service) {
	o.services = append(o.services, services...)
}

// Up starts every registered service in order, stopping at the first
// failure so a broken service never masks the ones after it.
func (o *Orchestrator) Up(ctx context.Context) error {
	for _, svc := range o.services {
		o.logger.Info("starting dev service", "service", svc.Name())
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// Down stops every registered service in reverse start order, collecting
// but not aborting on individual failures.
func (o *Orchestrator) Down(ctx context.Context) error {
	var lastErr error
	for i := len(o.services) - 1; i >= 0; i-- {
		svc := o.services[i]
		o.logger.Info("stopping dev service", "service", svc.Name())
		if err := svc.Stop(ctx); err != nil {
			o.logger.Warn("stop failed", "service", svc.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Status reports the current state and health of every registered service.
func (o *Orchestrator) Status(ctx context.Context) []Status {
	statuses := make([]Status, 0, len(o.services))
	for _, svc := range o.services {
		hr := svc.Health(ctx)
		_, pid := o.procs.IsRunning(svc.Name())
		statuses = append(statuses, Status{
			Name:    svc.Name(),
			State:   svc.State(),
			PID:     pid,
			Healthy: hr.Healthy,
			Message: hr.Message,
		})
	}
	return statuses
}

// WaitHealthy blocks until name's registered probe reports healthy.
func (o *Orchestrator) WaitHealthy(ctx context.Context, name string, timeout time.Duration) error {
	return o.health.WaitHealthy(ctx, name, timeout)
}
