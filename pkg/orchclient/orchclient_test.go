package orchclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartCampaignAndGetTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/tasks":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"t1","title":"do the thing","status":"created"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/tasks/t1":
			w.Write([]byte(`{"id":"t1","title":"do the thing","status":"active"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")

	created, err := c.StartCampaign(context.Background(), CreateTaskRequest{Prompt: "do the thing"})
	require.NoError(t, err)
	require.Equal(t, "t1", created.ID)

	got, err := c.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "active", string(got.Status))
}

func TestApproveSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret-token")
	require.NoError(t, c.Approve(context.Background(), "ckpt-1"))
	require.Equal(t, "Bearer secret-token", gotAuth)
}

func TestStatusParsesPauseState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"paused":true,"pending_checkpoints":3}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	s, err := c.Status(context.Background())
	require.NoError(t, err)
	require.True(t, s.Paused)
	require.Equal(t, 3, s.PendingCheckpoints)
}

func TestErrorResponseSurfacesStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.ListTasks(context.Background())
	require.Error(t, err)
}
