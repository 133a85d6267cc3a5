package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressToURL(t *testing.T) {
	require.Equal(t, "http://127.0.0.1:8080", addressToURL(":8080"))
	require.Equal(t, "http://0.0.0.0:9090", addressToURL("0.0.0.0:9090"))
}

func TestResolveOrchestratorURLPrefersFlag(t *testing.T) {
	url, err := resolveOrchestratorURL("http://example.test:1234")
	require.NoError(t, err)
	require.Equal(t, "http://example.test:1234", url)
}
