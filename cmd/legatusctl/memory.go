package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// MemoryCmd groups the memory-service pass-through verbs (spec §6.5).
type MemoryCmd struct {
	Show   MemoryShowCmd   `cmd:"" help:"List every stored memory entry."`
	Search MemorySearchCmd `cmd:"" help:"Semantically search memory entries."`
	Forget MemoryForgetCmd `cmd:"" help:"Delete a memory entry by id."`
	Export MemoryExportCmd `cmd:"" help:"Dump every memory entry as JSON."`
}

// MemoryShowCmd lists every memory entry.
type MemoryShowCmd struct{}

func (c *MemoryShowCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	entries, err := client.MemoryList(context.Background())
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %s\n", e.ID, e.Content)
	}
	return nil
}

// MemorySearchCmd searches memory entries.
type MemorySearchCmd struct {
	Query string `arg:"" help:"Search query."`
	Limit int    `help:"Max results." default:"10"`
}

func (c *MemorySearchCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	entries, err := client.MemorySearch(context.Background(), c.Query, c.Limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%.3f  %s  %s\n", e.Score, e.ID, e.Content)
	}
	return nil
}

// MemoryForgetCmd deletes one memory entry.
type MemoryForgetCmd struct {
	ID string `arg:"" help:"Memory entry id."`
}

func (c *MemoryForgetCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	if err := client.MemoryForget(context.Background(), c.ID); err != nil {
		return err
	}
	fmt.Printf("forgot %s\n", c.ID)
	return nil
}

// MemoryExportCmd dumps every memory entry as JSON, for backup or migration.
type MemoryExportCmd struct {
	Output string `help:"File to write to. Defaults to stdout." type:"path"`
}

func (c *MemoryExportCmd) Run(cli *CLI) error {
	client, err := newClient(cli)
	if err != nil {
		return err
	}
	entries, err := client.MemoryList(context.Background())
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory export: %w", err)
	}
	if c.Output == "" {
		_, err = os.Stdout.Write(append(raw, '\n'))
		return err
	}
	return os.WriteFile(c.Output, raw, 0644)
}
