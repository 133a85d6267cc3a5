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

// Package metrics provides Prometheus metrics collection for the
// orchestrator: campaign/task lifecycle, agent spawns, checkpoint
// resolution, gate retries, dispatcher dispatches, and the HTTP API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures metrics collection.
type Config struct {
	// Enabled turns on metrics collection and the /metrics endpoint.
	Enabled bool `yaml:"enabled,omitempty"`

	// Namespace prefixes every metric name, e.g. "legatus_task_created_total".
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults applies default values to Config.
func (c *Config) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "legatus"
	}
}

// Metrics holds every Prometheus collector the orchestrator registers.
type Metrics struct {
	config   *Config
	registry *prometheus.Registry

	// Campaign/task lifecycle.
	tasksCreated     *prometheus.CounterVec
	taskTransitions  *prometheus.CounterVec
	tasksActive      *prometheus.GaugeVec
	campaignDuration *prometheus.HistogramVec

	// Agent spawns (pkg/spawner).
	agentSpawns       *prometheus.CounterVec
	agentSpawnErrors  *prometheus.CounterVec
	agentSpawnLatency *prometheus.HistogramVec
	agentsRunning     *prometheus.GaugeVec

	// Checkpoints (pkg/checkpoint).
	checkpointsCreated  *prometheus.CounterVec
	checkpointsResolved *prometheus.CounterVec
	checkpointsExpired  *prometheus.CounterVec
	checkpointsPending  *prometheus.GaugeVec

	// Gate retries (pkg/eventbus).
	gateRetries   *prometheus.CounterVec
	gateRejects   *prometheus.CounterVec
	mergeConflict *prometheus.CounterVec

	// Dispatcher dispatches (pkg/dispatcher).
	dispatches *prometheus.CounterVec

	// HTTP API (pkg/httpapi).
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Cost ledger (pkg/store).
	costRecorded *prometheus.CounterVec
}

// New creates a Metrics instance from configuration. Returns nil if cfg is
// nil or disabled, so callers can always pass the result to a constructor
// without a nil-check branch at every call site (a nil *Metrics exposes no
// methods that panic on a nil receiver; every recorder below guards on it).
func New(cfg *Config) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}
	m.initTaskMetrics()
	m.initAgentMetrics()
	m.initCheckpointMetrics()
	m.initGateMetrics()
	m.initDispatcherMetrics()
	m.initHTTPMetrics()
	m.initCostMetrics()
	return m, nil
}

func (m *Metrics) initTaskMetrics() {
	m.tasksCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "task",
			Name:      "created_total",
			Help:      "Total number of tasks created, by kind (campaign, subtask).",
		},
		[]string{"kind"},
	)
	m.taskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "task",
			Name:      "transitions_total",
			Help:      "Total number of task state transitions.",
		},
		[]string{"from", "to"},
	)
	m.tasksActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "task",
			Name:      "active",
			Help:      "Number of tasks currently in a non-terminal state, by state.",
		},
		[]string{"state"},
	)
	m.campaignDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "campaign",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration from campaign creation to DONE or REJECTED.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~18h
		},
		[]string{"outcome"},
	)
	m.registry.MustRegister(m.tasksCreated, m.taskTransitions, m.tasksActive, m.campaignDuration)
}

func (m *Metrics) initAgentMetrics() {
	m.agentSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "agent",
			Name:      "spawns_total",
			Help:      "Total number of agent spawn attempts, by role and backend.",
		},
		[]string{"role", "backend"},
	)
	m.agentSpawnErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "agent",
			Name:      "spawn_errors_total",
			Help:      "Total number of agent spawn failures, by role and backend.",
		},
		[]string{"role", "backend"},
	)
	m.agentSpawnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "agent",
			Name:      "spawn_latency_seconds",
			Help:      "Time to spawn an agent runtime.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "backend"},
	)
	m.agentsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "agent",
			Name:      "running",
			Help:      "Number of agent runtimes currently running, by role.",
		},
		[]string{"role"},
	)
	m.registry.MustRegister(m.agentSpawns, m.agentSpawnErrors, m.agentSpawnLatency, m.agentsRunning)
}

func (m *Metrics) initCheckpointMetrics() {
	m.checkpointsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "created_total",
			Help:      "Total number of checkpoints raised, by source.",
		},
		[]string{"source"},
	)
	m.checkpointsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "resolved_total",
			Help:      "Total number of checkpoints resolved, by source and decision.",
		},
		[]string{"source", "decision"},
	)
	m.checkpointsExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "expired_total",
			Help:      "Total number of checkpoints that hit the configured timeout unresolved.",
		},
		[]string{"source"},
	)
	m.checkpointsPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "pending",
			Help:      "Number of checkpoints currently awaiting a decision, by source.",
		},
		[]string{"source"},
	)
	m.registry.MustRegister(m.checkpointsCreated, m.checkpointsResolved, m.checkpointsExpired, m.checkpointsPending)
}

func (m *Metrics) initGateMetrics() {
	m.gateRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "gate",
			Name:      "retries_total",
			Help:      "Total number of gate retries, by gate (reviewer, qa).",
		},
		[]string{"gate"},
	)
	m.gateRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "gate",
			Name:      "rejects_total",
			Help:      "Total number of tasks walked to REJECTED after exhausting retries, by gate.",
		},
		[]string{"gate"},
	)
	m.mergeConflict = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "merge",
			Name:      "conflicts_total",
			Help:      "Total number of subtask merges that hit a git conflict.",
		},
		[]string{},
	)
	m.registry.MustRegister(m.gateRetries, m.gateRejects, m.mergeConflict)
}

func (m *Metrics) initDispatcherMetrics() {
	m.dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "dispatcher",
			Name:      "dispatches_total",
			Help:      "Total number of subtask batches dispatched, by mode.",
		},
		[]string{"mode"},
	)
	m.registry.MustRegister(m.dispatches)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests, by method, route, and status code.",
		},
		[]string{"method", "route", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request handling duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

func (m *Metrics) initCostMetrics() {
	m.costRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "cost",
			Name:      "recorded_total",
			Help:      "Total cost entries recorded, by agent role.",
		},
		[]string{"role"},
	)
	m.registry.MustRegister(m.costRecorded)
}

// Handler returns the promhttp handler serving this registry's metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordTaskCreated records a task (or campaign) creation.
func (m *Metrics) RecordTaskCreated(kind string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(kind).Inc()
}

// RecordTransition records a task state transition and adjusts the active
// gauge for the source and destination states.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.taskTransitions.WithLabelValues(from, to).Inc()
	if from != "" {
		m.tasksActive.WithLabelValues(from).Dec()
	}
	m.tasksActive.WithLabelValues(to).Inc()
}

// RecordCampaignDone records a completed campaign's total duration.
func (m *Metrics) RecordCampaignDone(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.campaignDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordSpawn records an agent spawn attempt and its outcome.
func (m *Metrics) RecordSpawn(role, backend string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.agentSpawns.WithLabelValues(role, backend).Inc()
	m.agentSpawnLatency.WithLabelValues(role, backend).Observe(seconds)
	if err != nil {
		m.agentSpawnErrors.WithLabelValues(role, backend).Inc()
		return
	}
	m.agentsRunning.WithLabelValues(role).Inc()
}

// RecordAgentStopped decrements the running-agent gauge for role.
func (m *Metrics) RecordAgentStopped(role string) {
	if m == nil {
		return
	}
	m.agentsRunning.WithLabelValues(role).Dec()
}

// RecordCheckpointCreated records a checkpoint raised by source.
func (m *Metrics) RecordCheckpointCreated(source string) {
	if m == nil {
		return
	}
	m.checkpointsCreated.WithLabelValues(source).Inc()
	m.checkpointsPending.WithLabelValues(source).Inc()
}

// RecordCheckpointResolved records a checkpoint's decision.
func (m *Metrics) RecordCheckpointResolved(source, decision string) {
	if m == nil {
		return
	}
	m.checkpointsResolved.WithLabelValues(source, decision).Inc()
	m.checkpointsPending.WithLabelValues(source).Dec()
}

// RecordCheckpointExpired records a checkpoint that timed out unresolved.
func (m *Metrics) RecordCheckpointExpired(source string) {
	if m == nil {
		return
	}
	m.checkpointsExpired.WithLabelValues(source).Inc()
	m.checkpointsPending.WithLabelValues(source).Dec()
}

// RecordGateRetry records a gate retry (reviewer or qa rejection with
// retries remaining).
func (m *Metrics) RecordGateRetry(gate string) {
	if m == nil {
		return
	}
	m.gateRetries.WithLabelValues(gate).Inc()
}

// RecordGateReject records a task walked to REJECTED after exhausting a
// gate's retries.
func (m *Metrics) RecordGateReject(gate string) {
	if m == nil {
		return
	}
	m.gateRejects.WithLabelValues(gate).Inc()
}

// RecordMergeConflict records a subtask merge that hit a conflict.
func (m *Metrics) RecordMergeConflict() {
	if m == nil {
		return
	}
	m.mergeConflict.WithLabelValues().Inc()
}

// RecordDispatch records a batch dispatch under the given mode.
func (m *Metrics) RecordDispatch(mode string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(mode).Inc()
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordCost records a cost-ledger entry for role.
func (m *Metrics) RecordCost(role string) {
	if m == nil {
		return
	}
	m.costRecorded.WithLabelValues(role).Inc()
}

// Registry exposes the underlying Prometheus registry, e.g. for tests that
// want to scrape and assert on specific series.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
