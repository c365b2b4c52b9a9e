package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/config"
	"github.com/jackzampolin/bindery/internal/delivery"
	"github.com/jackzampolin/bindery/internal/home"
	"github.com/jackzampolin/bindery/internal/postgres"
	"github.com/jackzampolin/bindery/internal/queue"
	"github.com/jackzampolin/bindery/internal/service"
	"github.com/jackzampolin/bindery/internal/source"
	"github.com/jackzampolin/bindery/internal/statuscache"
	"github.com/jackzampolin/bindery/internal/svcctx"
)

// app holds the wired service graph plus the raw handles serve needs to
// build its workers on top.
type app struct {
	services      *svcctx.Services
	cfg           *config.Config
	pgPool        *pgxpool.Pool
	rdb           *redis.Client
	deliveryStore delivery.Store
	registry      *source.Registry
}

// newApp connects to Postgres and Redis and wires the core services.
func newApp(ctx context.Context) (*app, error) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	pgPool, err := postgres.Connect(ctx, config.ResolveEnvVars(cfg.Postgres.DSN))
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := postgres.Migrate(ctx, pgPool); err != nil {
		pgPool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: config.ResolveEnvVars(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		pgPool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	jobStore := postgres.NewJobStore(pgPool)
	deliveryStore := postgres.NewDeliveryStore(pgPool)

	cache := statuscache.New(statuscache.Config{
		Client: rdb,
		TTL:    cfg.Cache.TTL,
		Logger: logger,
	})
	q := queue.New(queue.Config{Client: rdb, Logger: logger})

	registry := source.NewRegistry(
		source.NewNovelFull(cfg.Sources.NovelFullBaseURL, nil),
		source.NewRoyalRoad(cfg.Sources.RoyalRoadBaseURL, nil),
	)

	svc := service.New(service.Config{
		Store:         jobStore,
		DeliveryStore: deliveryStore,
		Cache:         cache,
		Queue:         q,
		Registry:      registry,
		Convert: service.RetryPolicy{
			MaxAttempts:  cfg.Queue.MaxAttempts,
			Backoff:      queue.BackoffKind(cfg.Queue.Backoff),
			BackoffDelay: cfg.Queue.BackoffDelay,
			Timeout:      cfg.Queue.TaskTimeout,
		},
		Delivery: service.RetryPolicy{
			MaxAttempts: cfg.Queue.DeliveryAttempts,
		},
		StaleAfter: cfg.Cache.StaleAfter,
		Logger:     logger,
	})

	return &app{
		services: &svcctx.Services{
			Service:  svc,
			JobStore: jobStore,
			Cache:    cache,
			Queue:    q,
			Config:   mgr,
			Logger:   logger,
			Home:     h,
		},
		cfg:           cfg,
		pgPool:        pgPool,
		rdb:           rdb,
		deliveryStore: deliveryStore,
		registry:      registry,
	}, nil
}

// Close releases the database and Redis connections.
func (a *app) Close() {
	a.pgPool.Close()
	_ = a.rdb.Close()
}

// withApp wraps a command body with the wired service graph attached to its
// context.
func withApp(run func(ctx context.Context, s *svcctx.Services, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := svcctx.WithServices(cmd.Context(), a.services)
		return run(ctx, svcctx.ServicesFrom(ctx), args)
	}
}
