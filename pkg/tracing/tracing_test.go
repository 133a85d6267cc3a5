package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	tp, shutdown, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp)
	require.NoError(t, shutdown(context.Background()))

	tracer := Tracer("test")
	_, span := tracer.Start(context.Background(), SpanTaskTransition)
	span.End()
}

func TestInitEnabledStdout(t *testing.T) {
	tp, shutdown, err := Init(context.Background(), Config{Enabled: true, ServiceName: "legatus-test"})
	require.NoError(t, err)
	require.NotNil(t, tp)
	defer shutdown(context.Background())

	tracer := Tracer("test")
	_, span := tracer.Start(context.Background(), SpanAgentSpawn)
	span.End()
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	require.Equal(t, 1.0, cfg.SamplingRate)
	require.Equal(t, "legatus", cfg.ServiceName)
}
