package devtools

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"legatus/pkg/devtools/health"
	"legatus/pkg/devtools/port"
)

func TestMemoryStubLifecycle(t *testing.T) {
	pa := port.NewAllocator()
	hc := health.NewChecker()
	stub := NewMemoryStub("memory", pa, hc, 0)

	ctx := context.Background()
	require.NoError(t, stub.Start(ctx))
	defer stub.Stop(ctx)

	require.Eventually(t, func() bool {
		resp, err := http.Get(stub.Addr() + "/memory")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, StateRunning, stub.State())
	require.NoError(t, stub.Stop(ctx))
	require.Equal(t, StateStopped, stub.State())
}

func TestOrchestratorUpDownStatus(t *testing.T) {
	pa := port.NewAllocator()
	hc := health.NewChecker()
	orch := NewOrchestrator(t.TempDir(), t.TempDir(), nil)
	stub := NewMemoryStub("memory", pa, hc, 0)
	orch.Register(stub)

	ctx := context.Background()
	require.NoError(t, orch.Up(ctx))

	statuses := orch.Status(ctx)
	require.Len(t, statuses, 1)
	require.Equal(t, "memory", statuses[0].Name)

	require.NoError(t, orch.Down(ctx))
}

func TestPortAllocatorReserveRelease(t *testing.T) {
	pa := port.NewAllocator()
	p, err := pa.Reserve("svc", 0)
	require.NoError(t, err)
	require.False(t, pa.IsAvailable(p))
	pa.Release("svc")
	require.True(t, pa.IsAvailable(p))
}
