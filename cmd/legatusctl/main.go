// Command legatusctl is the operator CLI for a running legatusd instance
// (spec §6.5): task/checkpoint/memory verbs over orchclient's HTTP API,
// plus a `dev` subcommand that brings up supporting services locally via
// pkg/devtools.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
)

// CLI defines legatusctl's command tree.
type CLI struct {
	OrchestratorURL string `name:"orchestrator-url" help:"legatusd base URL. Defaults to $LEGATUS_ORCHESTRATOR_URL, then the discovered local config's server address."`
	Token           string `help:"Bearer token for authenticated requests." env:"LEGATUS_TOKEN"`

	Init     InitCmd     `cmd:"" help:"Write a starter config.yaml."`
	Start    StartCmd    `cmd:"" help:"Start a new campaign."`
	Status   StatusCmd   `cmd:"" help:"Show reactor pause state and pending checkpoint count."`
	Approve  ApproveCmd  `cmd:"" help:"Approve a pending checkpoint."`
	Reject   RejectCmd   `cmd:"" help:"Reject a pending checkpoint."`
	Logs     LogsCmd     `cmd:"" help:"Show recent activity log entries."`
	Cost     CostCmd     `cmd:"" help:"Show the cost summary."`
	History  HistoryCmd  `cmd:"" help:"Show recent terminal tasks."`
	Pause    PauseCmd    `cmd:"" help:"Pause the reactor; no new dispatches are started."`
	Resume   ResumeCmd   `cmd:"" help:"Resume the reactor."`
	Memory   MemoryCmd   `cmd:"" help:"Inspect or edit the memory service."`
	Dev      DevCmd      `cmd:"" help:"Run orchestrator support services locally for development."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("legatusctl"),
		kong.Description("legatusctl - control a running legatus orchestrator"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

func fail(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
