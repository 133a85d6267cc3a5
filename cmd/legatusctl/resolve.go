package main

import (
	"context"
	"fmt"
	"os"

	"legatus/pkg/config"
	"legatus/pkg/orchclient"
)

// resolveOrchestratorURL implements spec §6.5's discovery order: an
// explicit --orchestrator-url flag wins, then $LEGATUS_ORCHESTRATOR_URL,
// then the server address from a discovered local config file, finally
// falling back to the default listen address a freshly `init`ed config
// would use.
func resolveOrchestratorURL(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("LEGATUS_ORCHESTRATOR_URL"); env != "" {
		return env, nil
	}
	if path, err := config.Discover(); err == nil {
		cfg, _, err := config.LoadConfigFile(context.Background(), path)
		if err == nil && cfg.Server.Address != "" {
			return addressToURL(cfg.Server.Address), nil
		}
	}
	return "http://127.0.0.1:8080", nil
}

// addressToURL turns a listen address like ":8080" or "0.0.0.0:8080" into
// a URL a client on the same host can dial.
func addressToURL(address string) string {
	if len(address) > 0 && address[0] == ':' {
		return "http://127.0.0.1" + address
	}
	return "http://" + address
}

func newClient(cli *CLI) (*orchclient.Client, error) {
	url, err := resolveOrchestratorURL(cli.OrchestratorURL)
	if err != nil {
		return nil, fmt.Errorf("resolve orchestrator url: %w", err)
	}
	return orchclient.New(url, cli.Token), nil
}
