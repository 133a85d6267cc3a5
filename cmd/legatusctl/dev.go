package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"legatus/pkg/devtools"
)

// DevCmd groups the developer-time service orchestration verbs: bring up
// a local memory-service stub (and any other registered dev services)
// without needing a real external deployment.
type DevCmd struct {
	Up     DevUpCmd     `cmd:"" help:"Start local support services."`
	Down   DevDownCmd   `cmd:"" help:"Stop local support services."`
	Status DevStatusCmd `cmd:"" help:"Show local support service health."`
}

func buildOrchestrator() *devtools.Orchestrator {
	orch := devtools.NewOrchestrator(".legatus/run", ".legatus/log", nil)
	orch.Register(devtools.NewMemoryStub("memory", orch.Ports(), orch.Health(), 7070))
	return orch
}

// DevUpCmd starts every registered dev service.
type DevUpCmd struct{}

func (c *DevUpCmd) Run(cli *CLI) error {
	orch := buildOrchestrator()
	if err := orch.Up(context.Background()); err != nil {
		return err
	}
	fmt.Println(color.GreenString("dev services up"))
	return nil
}

// DevDownCmd stops every registered dev service.
type DevDownCmd struct{}

func (c *DevDownCmd) Run(cli *CLI) error {
	orch := buildOrchestrator()
	if err := orch.Down(context.Background()); err != nil {
		return err
	}
	fmt.Println("dev services down")
	return nil
}

// DevStatusCmd reports dev service health.
type DevStatusCmd struct{}

func (c *DevStatusCmd) Run(cli *CLI) error {
	orch := buildOrchestrator()
	for _, s := range orch.Status(context.Background()) {
		healthy := color.GreenString("healthy")
		if !s.Healthy {
			healthy = color.RedString("unhealthy")
		}
		fmt.Printf("%-10s %-10s %s\n", s.Name, s.State, healthy)
	}
	return nil
}
