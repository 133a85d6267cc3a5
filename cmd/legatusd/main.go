// Command legatusd is the orchestrator daemon: it wires the store,
// git operator, spawner, checkpoint manager, dispatcher and event bus
// reactor together behind pkg/httpapi's HTTP/WebSocket facade (spec §6).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	capi "github.com/hashicorp/consul/api"

	"legatus/pkg/checkpoint"
	"legatus/pkg/config"
	"legatus/pkg/dispatcher"
	"legatus/pkg/eventbus"
	"legatus/pkg/gitops"
	"legatus/pkg/httpapi"
	"legatus/pkg/logger"
	"legatus/pkg/metrics"
	"legatus/pkg/pubsub"
	"legatus/pkg/spawner"
	"legatus/pkg/store"
	"legatus/pkg/store/consulstore"
	"legatus/pkg/store/memstore"
	"legatus/pkg/store/sqlstore"
	"legatus/pkg/tracing"

	"legatus/pkg/auth"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: discover per spec §6.5)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "legatusd:", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "legatusd:", err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, cfg.Logger.Format)
	log := logger.Get()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("legatusd exited with error", "error", err)
		os.Exit(1)
	}
}

func loadConfig(ctx context.Context, explicit string) (*config.Config, error) {
	path := explicit
	if path == "" {
		var err error
		path, err = config.Discover()
		if err != nil {
			cfg := &config.Config{}
			cfg.SetDefaults()
			return cfg, nil
		}
	}
	cfg, _, err := config.LoadConfigFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	st, err := newStore(cfg, log)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer st.Close()

	git := gitops.New(cfg.Git.WorkspaceRoot, log)

	sp, err := newSpawner(cfg)
	if err != nil {
		return fmt.Errorf("build spawner: %w", err)
	}

	pub := pubsub.NewBus()
	defer pub.Close()

	ckpt := checkpoint.NewManager(st, st, log)

	dp := dispatcher.New(st, git, sp, cfg.Git.WorkspaceRoot, cfg.Agent.Image, log)

	gates := eventbus.Gates{
		ArchitectEnabled:    cfg.Gates.ArchitectEnabled,
		ReviewerPerSubtask:  cfg.Gates.ReviewerPerSubtask,
		QAPerSubtask:        cfg.Gates.QAPerSubtask,
		ReviewerPerCampaign: cfg.Gates.ReviewerPerCampaign,
		QAPerCampaign:       cfg.Gates.QAPerCampaign,
		MaxRetries:          cfg.Gates.MaxRetries,
	}
	bus := eventbus.New(st, git, dp, sp, ckpt, pub, gates, cfg.Git.WorkspaceRoot, cfg.Agent.Image, log)
	bus.WireCheckpointHooks(ckpt)

	reactorSub, sub := pub.Subscribe(pubsub.Channel, 1024)
	defer sub.Unsubscribe()
	go runReactor(ctx, bus, reactorSub, log)

	m, err := metrics.New(&metrics.Config{Enabled: true, Namespace: "legatus"})
	if err != nil {
		return fmt.Errorf("build metrics: %w", err)
	}

	_, shutdownTracing, err := tracing.Init(ctx, tracing.Config{Enabled: true, ServiceName: "legatusd"})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	authv, err := auth.NewValidatorFromSettings(cfg.Auth.Enabled, cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return fmt.Errorf("build auth validator: %w", err)
	}

	api := httpapi.New(st, bus, ckpt, pub, authv, m, httpapi.Config{
		CheckpointTimeout: cfg.CheckpointTimeout,
		MemoryServiceURL:  cfg.MemoryServiceURL,
	}, log)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("legatusd listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runReactor is the single goroutine that consumes pubsub.Channel and
// drives task transitions through the event bus (spec §5's single-writer
// discipline for task state).
func runReactor(ctx context.Context, bus *eventbus.Bus, msgs <-chan pubsub.Message, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error("reactor panic recovered", "panic", r)
					}
				}()
				bus.Handle(ctx, msg)
			}()
		}
	}
}

func newStore(cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory", "":
		return memstore.New(), nil
	case "sqlite", "postgres", "mysql":
		driver := cfg.Store.Backend
		if driver == "sqlite" {
			driver = "sqlite3"
		}
		db, err := sql.Open(driver, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Store.Backend, err)
		}
		return sqlstore.New(db, cfg.Store.Backend, log)
	case "consul":
		client, err := capi.NewClient(&capi.Config{Address: cfg.Store.ConsulAddress})
		if err != nil {
			return nil, fmt.Errorf("connect to consul: %w", err)
		}
		return consulstore.New(client, cfg.Store.ConsulKeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown store.backend: %s", cfg.Store.Backend)
	}
}

func newSpawner(cfg *config.Config) (spawner.Spawner, error) {
	switch cfg.Agent.Backend {
	case "docker", "":
		return spawner.NewDockerSpawner(), nil
	case "process":
		return spawner.NewProcessSpawner(), nil
	default:
		return nil, fmt.Errorf("unknown agent.backend: %s", cfg.Agent.Backend)
	}
}
