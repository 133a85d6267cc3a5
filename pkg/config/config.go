// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and watches legatus's orchestrator configuration.
//
// legatus is config-first for the gates that govern a campaign: the
// dispatcher mode, which checkpoints are required, and how agents are
// spawned are all declared in YAML rather than code.
//
// Example config:
//
//	store:
//	  backend: sqlite
//	  dsn: ./legatus.db
//
//	git:
//	  workspace_root: ./work
//
//	agent:
//	  backend: docker
//	  image: legatus/agent:latest
//
//	gates:
//	  architect: false
//	  reviewer_per_subtask: true
//	  qa_per_subtask: true
//	  max_retries: 2
//
//	server:
//	  address: ":8080"
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root orchestrator configuration.
type Config struct {
	// Store selects and configures the persistence backend (spec §9).
	Store StoreConfig `yaml:"store,omitempty"`

	// Git configures the workspace git operations run against.
	Git GitConfig `yaml:"git,omitempty"`

	// Agent configures how ephemeral agent runtimes are spawned.
	Agent AgentRuntimeConfig `yaml:"agent,omitempty"`

	// Gates configures which checkpoint gates the reactor enforces
	// (spec §4.9) and the dispatcher mode default.
	Gates GatesConfig `yaml:"gates,omitempty"`

	// CheckpointTimeout is how long a pending checkpoint may sit before
	// IsExpired reports it stale. Default: 24h.
	CheckpointTimeout time.Duration `yaml:"checkpoint_timeout,omitempty"`

	// Server configures the HTTP/WebSocket API (spec §6).
	Server ServerConfig `yaml:"server,omitempty"`

	// Auth configures JWT authentication for the server. Disabled by
	// default; legatusd passes it to pkg/auth.NewValidatorFromSettings.
	Auth AuthConfig `yaml:"auth,omitempty"`

	// Logger configures the process-wide structured logger.
	Logger LoggerConfig `yaml:"logger,omitempty"`

	// MemoryServiceURL is the base URL of the external semantic memory
	// service pkg/memoryclient forwards GET/DELETE calls to (spec.md §1's
	// non-goal: the core never embeds or searches vectors itself).
	MemoryServiceURL string `yaml:"memory_service_url,omitempty"`
}

// StoreConfig selects the Store backend (spec §9's pluggable-backend
// requirement): memory for tests and single-process defaults, sqlite/
// postgres/mysql via pkg/store/sqlstore, or consul for a KV-backed store
// shared across orchestrator processes.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "postgres", "mysql", "consul".
	Backend string `yaml:"backend,omitempty"`

	// DSN is the driver-specific connection string for sql backends, or
	// the file path for sqlite.
	DSN string `yaml:"dsn,omitempty"`

	// ConsulAddress is the consul agent address, used when Backend is
	// "consul".
	ConsulAddress string `yaml:"consul_address,omitempty"`

	// ConsulKeyPrefix namespaces this orchestrator's keys in consul's KV
	// store, so several legatus deployments can share one consul cluster.
	ConsulKeyPrefix string `yaml:"consul_key_prefix,omitempty"`
}

// SetDefaults applies default values to StoreConfig.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "consul" && c.ConsulKeyPrefix == "" {
		c.ConsulKeyPrefix = "legatus"
	}
}

// Validate checks StoreConfig for errors.
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "sqlite", "postgres", "mysql":
		if c.DSN == "" {
			return fmt.Errorf("store.dsn is required for backend %q", c.Backend)
		}
	case "consul":
		if c.ConsulAddress == "" {
			return fmt.Errorf("store.consul_address is required for backend \"consul\"")
		}
	default:
		return fmt.Errorf("unknown store.backend: %s (valid: memory, sqlite, postgres, mysql, consul)", c.Backend)
	}
	return nil
}

// GitConfig configures the workspace git operations run against.
type GitConfig struct {
	// WorkspaceRoot is the repository root gitops.Operator shells out in,
	// and the parent directory worktrees are created under.
	WorkspaceRoot string `yaml:"workspace_root,omitempty"`
}

// SetDefaults applies default values to GitConfig.
func (c *GitConfig) SetDefaults() {
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "."
	}
}

// Validate checks GitConfig for errors.
func (c *GitConfig) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("git.workspace_root is required")
	}
	return nil
}

// AgentRuntimeConfig configures how ephemeral agent runtimes are spawned
// (spec §4, pkg/spawner).
type AgentRuntimeConfig struct {
	// Backend is "docker" or "process".
	Backend string `yaml:"backend,omitempty"`

	// Image is the docker image reference (docker backend) or the
	// executable path (process backend).
	Image string `yaml:"image,omitempty"`

	// StopTimeout bounds how long Spawner.Stop waits for graceful exit
	// before the runtime is killed.
	StopTimeout time.Duration `yaml:"stop_timeout,omitempty"`
}

// SetDefaults applies default values to AgentRuntimeConfig.
func (c *AgentRuntimeConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "docker"
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 30 * time.Second
	}
}

// Validate checks AgentRuntimeConfig for errors.
func (c *AgentRuntimeConfig) Validate() error {
	switch c.Backend {
	case "docker", "process":
	default:
		return fmt.Errorf("unknown agent.backend: %s (valid: docker, process)", c.Backend)
	}
	if c.Image == "" {
		return fmt.Errorf("agent.image is required")
	}
	return nil
}

// GatesConfig mirrors pkg/eventbus.Gates in yaml-tagged form, plus a
// dispatcher-mode default. DefaultMode is defaulted and validated but not
// applied: the reactor reads a campaign's mode from the task's
// agent_outputs["_dispatch_mode"], which nothing sets, so every campaign
// dispatches in sequential mode.
type GatesConfig struct {
	ArchitectEnabled    bool   `yaml:"architect,omitempty"`
	ReviewerPerSubtask  bool   `yaml:"reviewer_per_subtask,omitempty"`
	QAPerSubtask        bool   `yaml:"qa_per_subtask,omitempty"`
	ReviewerPerCampaign bool   `yaml:"reviewer_per_campaign,omitempty"`
	QAPerCampaign       bool   `yaml:"qa_per_campaign,omitempty"`
	MaxRetries          int    `yaml:"max_retries,omitempty"`
	DefaultMode         string `yaml:"default_mode,omitempty"`
}

// SetDefaults applies default values to GatesConfig.
func (c *GatesConfig) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.DefaultMode == "" {
		c.DefaultMode = "sequential"
	}
}

// Validate checks GatesConfig for errors.
func (c *GatesConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("gates.max_retries must be >= 0")
	}
	switch c.DefaultMode {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("unknown gates.default_mode: %s (valid: sequential, parallel)", c.DefaultMode)
	}
	return nil
}

// ServerConfig configures the HTTP/WebSocket API.
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080".
	Address string `yaml:"address,omitempty"`

	// ReadTimeout/WriteTimeout bound request handling.
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// SetDefaults applies default values to ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
}

// Validate checks ServerConfig for errors.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	return nil
}

// LoggerConfig configures the process-wide structured logger
// (pkg/logger).
type LoggerConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level,omitempty"`

	// Format is "text" (colored, human-readable) or "json".
	Format string `yaml:"format,omitempty"`
}

// SetDefaults applies default values to LoggerConfig.
func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate checks LoggerConfig for errors.
func (c *LoggerConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logger.level: %s (valid: debug, info, warn, error)", c.Level)
	}
	return nil
}

// SetDefaults applies default values across the whole config tree.
func (c *Config) SetDefaults() {
	c.Store.SetDefaults()
	c.Git.SetDefaults()
	c.Agent.SetDefaults()
	c.Gates.SetDefaults()
	c.Server.SetDefaults()
	c.Auth.SetDefaults()
	c.Logger.SetDefaults()
	if c.CheckpointTimeout == 0 {
		c.CheckpointTimeout = 24 * time.Hour
	}
	if c.MemoryServiceURL == "" {
		c.MemoryServiceURL = "http://127.0.0.1:7070"
	}
}

// Validate checks the whole config tree for errors.
func (c *Config) Validate() error {
	var errs []string

	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("store: %v", err))
	}
	if err := c.Git.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("git: %v", err))
	}
	if err := c.Agent.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("agent: %v", err))
	}
	if err := c.Gates.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gates: %v", err))
	}
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server: %v", err))
	}
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("auth: %v", err))
	}
	if err := c.Logger.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logger: %v", err))
	}
	if c.CheckpointTimeout < 0 {
		errs = append(errs, "checkpoint_timeout must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
