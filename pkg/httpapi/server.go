// Package httpapi implements the orchestrator's HTTP/WebSocket facade
// (spec §6.1): task/checkpoint/agent CRUD, the activity log, cost
// summaries, a memory-service pass-through, system pause/resume, and a
// WebSocket endpoint that streams every agent message for the lifetime of
// the connection.
package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"legatus/pkg/auth"
	"legatus/pkg/checkpoint"
	"legatus/pkg/eventbus"
	"legatus/pkg/memoryclient"
	"legatus/pkg/metrics"
	"legatus/pkg/pubsub"
	"legatus/pkg/store"
	"legatus/pkg/tracing"
)

// Server is the HTTP facade over the orchestrator core. It never mutates
// task state directly except via Bus.StartCampaign and Manager.Approve/
// Reject — everything else is a Store read, matching spec §9's "HTTP
// issues store writes directly from handlers only for reads and for
// pushing into the reactor's work queue" design note.
type Server struct {
	store   store.Store
	bus     *eventbus.Bus
	ckpt    *checkpoint.Manager
	pub     *pubsub.Bus
	memory  *memoryclient.Client
	metrics *metrics.Metrics
	tracer  trace.Tracer
	authv   *auth.JWTValidator

	checkpointTimeout time.Duration
	logger            *slog.Logger

	router chi.Router
}

// Config configures a Server.
type Config struct {
	CheckpointTimeout time.Duration
	MemoryServiceURL  string
}

// New builds a Server and wires its routes. authv may be nil, meaning
// authentication is disabled (pkg/auth.NewValidatorFromSettings already
// returns nil in that case).
func New(st store.Store, bus *eventbus.Bus, ckpt *checkpoint.Manager, pub *pubsub.Bus, authv *auth.JWTValidator, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:             st,
		bus:               bus,
		ckpt:              ckpt,
		pub:               pub,
		memory:            memoryclient.New(cfg.MemoryServiceURL),
		metrics:           m,
		tracer:            tracing.Tracer("legatus/httpapi"),
		authv:             authv,
		checkpointTimeout: cfg.CheckpointTimeout,
		logger:            logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)
	if s.authv != nil {
		r.Use(s.authv.HTTPMiddleware)
	}

	r.Post("/tasks", s.handleCreateTask)
	r.Get("/tasks", s.handleListTasks)
	r.Get("/tasks/history", s.handleTaskHistory)
	r.Get("/tasks/{id}", s.handleGetTask)

	r.Get("/agents", s.handleListAgents)

	r.Get("/checkpoints", s.handleListCheckpoints)
	r.Get("/checkpoints/{id}", s.handleGetCheckpoint)
	r.Post("/checkpoints/{id}/approve", s.handleApproveCheckpoint)
	r.Post("/checkpoints/{id}/reject", s.handleRejectCheckpoint)

	r.Get("/logs", s.handleLogs)
	r.Get("/costs", s.handleCosts)

	r.Get("/memory", s.handleMemoryList)
	r.Get("/memory/search", s.handleMemorySearch)
	r.Delete("/memory/{id}", s.handleMemoryForget)

	r.Post("/system/pause", s.handleSystemPause)
	r.Post("/system/resume", s.handleSystemResume)
	r.Get("/system/status", s.handleSystemStatus)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/metrics", s.handleMetrics)

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.Handler().ServeHTTP(w, r)
}

// loggingMiddleware logs every request at debug, matching the ambient
// logging policy's "debug for routine events" level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

// metricsMiddleware records pkg/metrics' HTTP counters/histogram. Route
// pattern (not the raw path) is used as the label so path params don't
// explode cardinality.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx, span := s.tracer.Start(r.Context(), tracing.SpanHTTPRequest)
		defer span.End()
		r = r.WithContext(ctx)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(ww.Status()), time.Since(start).Seconds())
	})
}
