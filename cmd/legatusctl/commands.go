package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"legatus/pkg/config"
	"legatus/pkg/orchclient"
)

// InitCmd writes a starter config.yaml under ./.legatus/config.yaml
// (spec §6.5's discovery order's preferred new-project location).
type InitCmd struct {
	Path string `help:"Path to write the config to." default:".legatus/config.yaml" type:"path"`
}

func (c *InitCmd) Run(cli *CLI) error {
	if _, err := os.Stat(c.Path); err == nil {
		return fail("%s already exists", c.Path)
	}
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Git.WorkspaceRoot = "."
	cfg.Agent.Image = "legatus/agent:latest"

	if dir := dirOf(c.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(c.Path, raw, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("Wrote %s\n", c.Path)
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}

// StartCmd creates a new campaign.
type StartCmd struct {
	Prompt  string `arg:"" help:"Task prompt."`
	Title   string `help:"Campaign title. Defaults to the prompt."`
	Project string `help:"Project this campaign belongs to."`
	Direct  bool   `help:"Spawn a DEV agent directly, skipping PM planning."`
}

func (c *StartCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	t, err := client.StartCampaign(context.Background(), orchclient.CreateTaskRequest{
		Prompt:  c.Prompt,
		Title:   c.Title,
		Project: c.Project,
		Direct:  c.Direct,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Started campaign %s (%s)\n", t.ID, t.Status)
	return nil
}

// StatusCmd shows the reactor's pause state and checkpoint backlog.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	s, err := client.Status(context.Background())
	if err != nil {
		return err
	}
	state := color.GreenString("running")
	if s.Paused {
		state = color.YellowString("paused")
	}
	fmt.Printf("Reactor: %s\n", state)
	fmt.Printf("Pending checkpoints: %d\n", s.PendingCheckpoints)
	return nil
}

// ApproveCmd approves a pending checkpoint.
type ApproveCmd struct {
	ID string `arg:"" help:"Checkpoint id."`
}

func (c *ApproveCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	if err := client.Approve(context.Background(), c.ID); err != nil {
		return err
	}
	fmt.Println(color.GreenString("approved %s", c.ID))
	return nil
}

// RejectCmd rejects a pending checkpoint.
type RejectCmd struct {
	ID     string `arg:"" help:"Checkpoint id."`
	Reason string `help:"Why the checkpoint is being rejected."`
}

func (c *RejectCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	if err := client.Reject(context.Background(), c.ID, c.Reason); err != nil {
		return err
	}
	fmt.Println(color.RedString("rejected %s", c.ID))
	return nil
}

// LogsCmd shows recent activity log entries.
type LogsCmd struct {
	Limit int `help:"Max entries to show." default:"100"`
}

func (c *LogsCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	msgs, err := client.Logs(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Printf("%s  %-24s task=%s agent=%s\n", m.Timestamp.Format("15:04:05"), m.Type, m.TaskID, m.AgentID)
	}
	return nil
}

// CostCmd shows the cost summary, optionally scoped to one project.
type CostCmd struct {
	Project string `help:"Project to scope the summary to."`
}

func (c *CostCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	summary, err := client.Costs(context.Background(), c.Project)
	if err != nil {
		return err
	}
	fmt.Printf("Total: $%.4f\n", summary.Total)
	for role, cost := range summary.ByRole {
		fmt.Printf("  %-12s $%.4f\n", role, cost)
	}
	return nil
}

// HistoryCmd shows recent terminal tasks.
type HistoryCmd struct {
	Limit int `help:"Max tasks to show." default:"50"`
}

func (c *HistoryCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	tasks, err := client.History(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Printf("%s  %-10s %s\n", t.ID, t.Status, t.Title)
	}
	return nil
}

// PauseCmd pauses the reactor.
type PauseCmd struct{}

func (c *PauseCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	if err := client.Pause(context.Background()); err != nil {
		return err
	}
	fmt.Println("paused")
	return nil
}

// ResumeCmd resumes the reactor.
type ResumeCmd struct{}

func (c *ResumeCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	if err := client.Resume(context.Background()); err != nil {
		return err
	}
	fmt.Println("resumed")
	return nil
}
