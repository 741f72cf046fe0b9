package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/barberdeskapp/barberdesk-backend/api/routes"
	"github.com/barberdeskapp/barberdesk-backend/internal/assignment"
	"github.com/barberdeskapp/barberdesk-backend/internal/gate"
	"github.com/barberdeskapp/barberdesk-backend/internal/realtime"
	"github.com/barberdeskapp/barberdesk-backend/internal/staff"
	"github.com/barberdeskapp/barberdesk-backend/internal/tickets"
	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/config"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/metrics"
	"github.com/barberdeskapp/barberdesk-backend/pkg/migrate"
	"github.com/barberdeskapp/barberdesk-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	promReg := prometheus.NewRegistry()
	realtimeMetrics := metrics.NewRealtimeMetrics(promReg)
	assignmentMetrics := metrics.NewAssignmentMetrics(promReg)

	publisher, err := bus.NewPublisher(bus.PublisherParams{
		Transport: redisClient,
		Logger:    logg,
		Metrics:   realtimeMetrics,
		Config:    cfg.Bus,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create bus publisher", err)
		os.Exit(1)
	}

	staffRepo := staff.NewRepository(dbClient.DB(), cfg.DB.QueryTimeout)
	staffService, err := staff.NewService(staff.ServiceParams{
		Repo:       staffRepo,
		Cache:      redisClient,
		Publisher:  publisher,
		Logger:     logg,
		OfflineTTL: cfg.Assignment.WorkerOfflineTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create staff service", err)
		os.Exit(1)
	}

	ticketRepo := tickets.NewRepository(dbClient.DB(), cfg.DB.QueryTimeout)

	engine, err := assignment.NewEngine(assignment.EngineParams{
		Tickets:       ticketRepo,
		Workers:       staffService,
		Publisher:     publisher,
		Logger:        logg,
		Metrics:       assignmentMetrics,
		MaxRetries:    cfg.Assignment.MaxCASRetries,
		SweepInterval: cfg.Assignment.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment engine", err)
		os.Exit(1)
	}

	ticketService, err := tickets.NewService(tickets.ServiceParams{
		Repo:      ticketRepo,
		Tx:        dbClient,
		Publisher: publisher,
		Assigner:  engine,
		Workers:   staffService,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ticket service", err)
		os.Exit(1)
	}

	registry, err := realtime.NewRegistry(realtime.RegistryParams{
		Logger:              logg,
		Metrics:             realtimeMetrics,
		HeartbeatTimeout:    cfg.Realtime.HeartbeatTimeout,
		EvictionInterval:    cfg.Realtime.EvictionInterval,
		MaxDeliveryFailures: cfg.Realtime.MaxDeliveryFailures,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create connection registry", err)
		os.Exit(1)
	}

	fanout, err := realtime.NewFanout(realtime.FanoutParams{
		Registry:        registry,
		Logger:          logg,
		Metrics:         realtimeMetrics,
		DeliveryTimeout: cfg.Realtime.DeliveryTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fan-out engine", err)
		os.Exit(1)
	}

	snapshots, err := realtime.NewStoreSnapshot(ticketRepo, staffService)
	if err != nil {
		logg.Error(context.Background(), "failed to create snapshot source", err)
		os.Exit(1)
	}

	opener, err := realtime.NewRedisStreamOpener(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create stream opener", err)
		os.Exit(1)
	}

	bridge, err := realtime.NewBridge(realtime.BridgeParams{
		Opener:      opener,
		Fanout:      fanout,
		Snapshots:   snapshots,
		Logger:      logg,
		Metrics:     realtimeMetrics,
		BackoffBase: cfg.Bus.BackoffBase,
		BackoffCap:  cfg.Bus.BackoffCap,
		ResyncGap:   cfg.Bus.ResyncGap,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pubsub bridge", err)
		os.Exit(1)
	}

	sweeper, err := staff.NewOfflineSweeper(staff.OfflineSweeperParams{
		Repo:             staffRepo,
		Service:          staffService,
		Tickets:          ticketRepo,
		Publisher:        publisher,
		Lock:             redisClient,
		Logger:           logg,
		Interval:         cfg.Assignment.SweepInterval,
		HeartbeatTimeout: cfg.Realtime.HeartbeatTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create offline sweeper", err)
		os.Exit(1)
	}

	ingressGate, err := gate.New(gate.Params{JWT: cfg.JWT})
	if err != nil {
		logg.Error(context.Background(), "failed to create ingress gate", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for name, run := range map[string]func(context.Context) error{
		"bus publisher":       publisher.Run,
		"connection registry": registry.Run,
		"pubsub bridge":       bridge.Run,
		"assignment engine":   engine.Run,
		"offline sweeper":     sweeper.Run,
	} {
		name, run := name, run
		go func() {
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, name+" stopped unexpectedly", err)
				stop()
			}
		}()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Gate:          ingressGate,
			Registry:      registry,
			TicketService: ticketService,
			StaffService:  staffService,
			Assignment:    engine,
			Metrics:       promReg,
		}),
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	startCtx := logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": addr})
	logg.Info(startCtx, "starting api server")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	}

	if err := shutdown(server, registry, cfg.Realtime.DrainGrace); err != nil {
		logg.Error(context.Background(), "shutdown finished with errors", err)
	}
	logg.Info(context.Background(), "api server shutting down gracefully")
}

// shutdown drains in-flight HTTP requests for the grace period, then closes
// every live websocket so clients reconnect against a healthy instance.
func shutdown(server *http.Server, registry *realtime.Registry, grace time.Duration) error {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	err := server.Shutdown(ctx)
	registry.CloseAll()
	if errors.Is(err, context.DeadlineExceeded) {
		return multierr.Append(err, server.Close())
	}
	return err
}
