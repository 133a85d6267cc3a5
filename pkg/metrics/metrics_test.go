package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDisabled(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	require.Nil(t, m)

	m, err = New(&Config{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestNilMetricsRecordersDontPanic(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.RecordTaskCreated("campaign")
		m.RecordTransition("pending", "dispatching")
		m.RecordCampaignDone("done", 12.5)
		m.RecordSpawn("architect", "docker", 0.5, nil)
		m.RecordAgentStopped("architect")
		m.RecordCheckpointCreated("reviewer")
		m.RecordCheckpointResolved("reviewer", "approved")
		m.RecordCheckpointExpired("qa")
		m.RecordGateRetry("reviewer")
		m.RecordGateReject("qa")
		m.RecordMergeConflict()
		m.RecordDispatch("sequential")
		m.RecordHTTPRequest("GET", "/v1/tasks", "200", 0.01)
		m.RecordCost("reviewer")
	})
}

func TestRecordingUpdatesCollectors(t *testing.T) {
	m, err := New(&Config{Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, m)

	m.RecordTaskCreated("campaign")
	m.RecordTransition("", "pending")
	m.RecordTransition("pending", "dispatching")
	m.RecordSpawn("reviewer", "docker", 1.2, nil)
	m.RecordCheckpointCreated("reviewer")
	m.RecordCheckpointResolved("reviewer", "approved")
	m.RecordGateRetry("reviewer")
	m.RecordDispatch("sequential")
	m.RecordHTTPRequest("GET", "/v1/tasks", "200", 0.02)
	m.RecordCost("reviewer")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	handler := m.Handler()
	require.NotNil(t, handler)
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	require.Equal(t, "legatus", cfg.Namespace)
}
