// Package tracing wires OpenTelemetry distributed tracing for the
// orchestrator: campaign/task lifecycle spans and HTTP request spans.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures tracing.
type Config struct {
	// Enabled turns on span export. When false, Init installs a no-op
	// TracerProvider so every Start call stays cheap.
	Enabled bool `yaml:"enabled,omitempty"`

	// SamplingRate controls what fraction of traces are sampled, 0.0 to
	// 1.0. Default: 1.0.
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName identifies this process in exported spans.
	ServiceName string `yaml:"service_name,omitempty"`
}

// SetDefaults applies default values to Config.
func (c *Config) SetDefaults() {
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.ServiceName == "" {
		c.ServiceName = "legatus"
	}
}

// Init installs a TracerProvider as the global OpenTelemetry provider and
// returns it so the caller can Shutdown it on process exit. The stdout
// exporter writes spans as newline-delimited JSON to os.Stdout, its default
// writer (Init passes no writer option); that's the only exporter the example
// pack wires without a network-facing collector dependency, matching the
// HTTP-only transport surface legatus otherwise commits to.
func Init(ctx context.Context, cfg Config) (trace.TracerProvider, func(context.Context) error, error) {
	cfg.SetDefaults()

	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}

// Tracer returns the named tracer from the global provider. Call after
// Init.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Span names used across the orchestrator's instrumented operations.
const (
	SpanCampaignDispatch  = "campaign.dispatch"
	SpanTaskTransition    = "task.transition"
	SpanAgentSpawn        = "agent.spawn"
	SpanCheckpointResolve = "checkpoint.resolve"
	SpanMerge             = "merge.subtask"
	SpanHTTPRequest       = "http.request"
)

// Span attribute keys, mirroring the semconv keys the HTTP middleware and
// task-transition spans attach.
const (
	AttrTaskID    = "legatus.task.id"
	AttrCampaign  = "legatus.campaign.id"
	AttrAgentRole = "legatus.agent.role"
	AttrGate      = "legatus.gate"
	AttrHTTPPath  = "http.path"
)
