// Package app provides application-level wiring and dependency injection
// for the fieldsync client following hexagonal architecture.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/db/repository"
	"fieldsync/internal/domain"
	"fieldsync/internal/engine"
	"fieldsync/internal/netmon"
	"fieldsync/internal/remote"
	"fieldsync/internal/service"
	"fieldsync/internal/syncq"
)

// Deps holds the external dependencies that main() must provide: database
// handles, config and the logger.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// Services groups the service pointers the API handler and CLI need.
type Services struct {
	Sync      *service.SyncService
	Analytics *service.AnalyticsService
}

// App holds the fully wired client: queue manager, scheduler, reachability
// monitor, engine bridge and the HTTP handler.
type App struct {
	Services  Services
	Handler   http.Handler
	Manager   *syncq.Manager
	Scheduler *syncq.Scheduler
	Monitor   *netmon.Monitor
	Bridge    *engine.Bridge
	Remote    *remote.Client

	cfg    *config.Config
	logger *slog.Logger
}

// New wires repositories, the sync machinery and services from the provided
// deps. The process starts offline; the first health probe or successful
// delivery flips it online.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	queueRepo := repository.NewQueueRepo(deps.WriteDB)
	cacheRepo := repository.NewCacheRepo(deps.WriteDB)

	monitor := netmon.New(domain.Offline, logger.With("component", "netmon"))

	client := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteTimeout)
	if cfg.RemoteToken != "" {
		client.SetToken(cfg.RemoteToken)
	}

	mgr := syncq.NewManager(queueRepo, cacheRepo, client, monitor,
		logger.With("component", "syncq"),
		syncq.Options{
			DeliveriesPerSecond: cfg.DeliveriesPerSecond,
			Signal:              monitor.SetState,
		})

	sched, err := syncq.NewScheduler(mgr, monitor, cfg.FlushSchedule,
		logger.With("component", "scheduler"))
	if err != nil {
		return nil, fmt.Errorf("build flush scheduler: %w", err)
	}

	bridge := engine.New(engine.DefaultVariants(), logger.With("component", "engine"))

	syncSvc := service.NewSyncService(queueRepo, cacheRepo, mgr, monitor, client, logger)
	analyticsSvc := service.NewAnalyticsService(cacheRepo, bridge, client,
		logger.With("component", "analytics"))

	handler := api.NewHandler(syncSvc, analyticsSvc, logger.With("component", "api"))

	return &App{
		Services:  Services{Sync: syncSvc, Analytics: analyticsSvc},
		Handler:   handler.Routes(),
		Manager:   mgr,
		Scheduler: sched,
		Monitor:   monitor,
		Bridge:    bridge,
		Remote:    client,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Start launches the background loops: the reachability-edge flusher, the
// periodic flush schedule and the health probe. They stop when ctx ends.
func (a *App) Start(ctx context.Context) {
	go a.Manager.Run(ctx)
	a.Scheduler.Start()
	go a.probeLoop(ctx)
}

// Stop tears down the background loops and the engine bridge.
func (a *App) Stop() {
	a.Scheduler.Stop()
	if err := a.Bridge.Close(); err != nil {
		a.logger.Warn("closing engine bridge", "error", err)
	}
}

// probeLoop polls the remote health endpoint to drive reachability while no
// deliveries are happening. Delivery outcomes update the monitor too, so the
// probe is a floor on detection latency, not the only signal.
func (a *App) probeLoop(ctx context.Context) {
	a.probe(ctx)

	ticker := time.NewTicker(a.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.probe(ctx)
		}
	}
}

func (a *App) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.RemoteTimeout)
	defer cancel()

	if err := a.Remote.Health(probeCtx); err != nil {
		a.Monitor.SetState(domain.Offline)
		return
	}
	a.Monitor.SetState(domain.Online)
}
