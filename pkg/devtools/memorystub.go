package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"legatus/pkg/devtools/health"
	"legatus/pkg/devtools/port"
	"legatus/pkg/memoryclient"
)

// MemoryStub is an in-process stand-in for the external memory service
// (spec.md §1's black-box HTTP collaborator) that `legatusctl dev up` can
// bring up locally so the rest of the orchestrator has something to talk
// to without a real memory deployment.
type MemoryStub struct {
	name string
	pa   *port.Allocator
	hc   *health.Checker

	mu      sync.Mutex
	state   State
	entries []memoryclient.Entry
	srv     *http.Server
	ln      net.Listener
	port    int
}

// NewMemoryStub builds a MemoryStub registered with hc under name, claiming
// a port from pa (0 lets pa pick one).
func NewMemoryStub(name string, pa *port.Allocator, hc *health.Checker, preferredPort int) *MemoryStub {
	m := &MemoryStub{name: name, pa: pa, hc: hc, state: StateStopped, port: preferredPort}
	return m
}

func (m *MemoryStub) Name() string { return m.name }

func (m *MemoryStub) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Addr returns the stub's base URL once started, e.g. for wiring into
// legatusd's MemoryServiceURL config.
func (m *MemoryStub) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("http://127.0.0.1:%d", m.port)
}

func (m *MemoryStub) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning {
		return nil
	}
	m.state = StateStarting

	p, err := m.pa.Reserve(m.name, m.port)
	if err != nil {
		m.state = StateFailed
		return fmt.Errorf("reserve port: %w", err)
	}
	m.port = p

	mux := http.NewServeMux()
	mux.HandleFunc("/memory", m.handleList)
	mux.HandleFunc("/memory/search", m.handleSearch)
	mux.HandleFunc("/memory/", m.handleForget)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", m.port))
	if err != nil {
		m.state = StateFailed
		return fmt.Errorf("listen: %w", err)
	}
	m.ln = ln
	m.srv = &http.Server{Handler: mux}
	go func() { _ = m.srv.Serve(ln) }()

	m.hc.Register(m.name, health.Probe{Type: health.ProbeHTTP, Target: m.Addr() + "/memory"})
	m.state = StateRunning
	return nil
}

func (m *MemoryStub) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.srv == nil {
		m.state = StateStopped
		return nil
	}
	err := m.srv.Shutdown(ctx)
	m.srv = nil
	m.ln = nil
	m.pa.Release(m.name)
	m.state = StateStopped
	return err
}

func (m *MemoryStub) Health(ctx context.Context) health.Result {
	if m.State() != StateRunning {
		return health.Result{Healthy: false, Message: "not running"}
	}
	return m.hc.Check(ctx, m.name)
}

func (m *MemoryStub) handleList(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = json.NewEncoder(w).Encode(m.entries)
}

func (m *MemoryStub) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []memoryclient.Entry
	for _, e := range m.entries {
		if query == "" || strings.Contains(strings.ToLower(e.Content), strings.ToLower(query)) {
			matched = append(matched, e)
		}
	}
	_ = json.NewEncoder(w).Encode(matched)
}

func (m *MemoryStub) handleForget(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/memory/"):]
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
