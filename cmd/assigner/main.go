package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/barberdeskapp/barberdesk-backend/internal/assignment"
	"github.com/barberdeskapp/barberdesk-backend/internal/staff"
	"github.com/barberdeskapp/barberdesk-backend/internal/tickets"
	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/config"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db"
	"github.com/barberdeskapp/barberdesk-backend/pkg/instance"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/metrics"
	"github.com/barberdeskapp/barberdesk-backend/pkg/migrate"
	"github.com/barberdeskapp/barberdesk-backend/pkg/redis"
)

// The assigner runs the assignment engine and the offline sweeper without the
// HTTP surface, for deployments that scale ticket intake separately from
// assignment work.
func main() {
	logg := logger.New(logger.Options{ServiceName: "assigner"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "assigner"

	logg = logger.New(logger.Options{
		ServiceName: "assigner",
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "assigner",
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting assigner")

	var wg sync.WaitGroup
	for name, run := range map[string]func(context.Context) error{
		"bus publisher":     publisher.Run,
		"assignment engine": engine.Run,
		"offline sweeper":   sweeper.Run,
	} {
		name, run := name, run
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, name+" stopped unexpectedly", err)
				stop()
			}
		}()
	}

	wg.Wait()
	logg.Info(ctx, "assigner shutting down gracefully")
}
