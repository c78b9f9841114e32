package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/internal/scheduler"
	"github.com/marcelsud/webhook-dispatch/metrics"
	"github.com/marcelsud/webhook-dispatch/monitor"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/memory"
	"github.com/marcelsud/webhook-dispatch/webhook/postgres"
	whredis "github.com/marcelsud/webhook-dispatch/webhook/redis"
	"github.com/marcelsud/webhook-dispatch/webhook/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// app holds the wired components shared by the commands
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	repo     webhook.Repository
	db       *postgres.Repository
	coord    *whredis.Coordinator
	registry *webhook.Registry
	engine   *webhook.Engine
	monitor  *monitor.Monitor

	promRegistry *prometheus.Registry
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, promRegistry: prometheus.NewRegistry()}

	defaults, err := policyDefaults(cfg.Delivery)
	if err != nil {
		return nil, err
	}

	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Postgres.MigrateOnStart {
			version, err := postgres.MigrateUp(cfg.Postgres.DSN)
			if err != nil {
				return nil, err
			}
			logger.Info().Uint("version", version).Msg("database schema up to date")
		}
		a.db, err = postgres.NewRepositoryWithPoolConfig(cfg.Postgres.DSN, postgres.PoolConfig{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			PingTimeout:     cfg.Postgres.PingTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.repo = a.db
	default:
		logger.Warn().Msg("using in-memory storage; data is lost on exit")
		a.repo = memory.NewRepository()
	}

	var locker webhook.Locker = webhook.NewLocalLocker()
	if cfg.Redis.Enabled {
		a.coord, err = whredis.NewCoordinator(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		locker = a.coord
	}

	observer := metrics.NewDeliveryMetrics()
	observer.MustRegister(a.promRegistry)

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	a.engine = webhook.NewEngine(a.repo, logger,
		webhook.WithHTTPClient(client),
		webhook.WithLocker(locker),
		webhook.WithObserver(observer),
		webhook.WithEngineConfig(webhook.EngineConfig{
			Concurrency:      cfg.Delivery.Concurrency,
			BatchSize:        cfg.Delivery.BatchSize,
			UserAgent:        cfg.Delivery.UserAgent,
			MaxResponseBytes: cfg.Delivery.MaxResponseBytes,
			Jitter:           retry.Jitter{Fraction: cfg.Delivery.JitterFraction},
			LockTTL:          cfg.Redis.LockTTL,
		}),
	)
	a.registry = webhook.NewRegistry(a.repo, logger, webhook.WithDefaultPolicy(defaults))

	monCfg := monitor.Config{
		HealthyThreshold:  cfg.Monitor.HealthyThreshold,
		DegradedThreshold: cfg.Monitor.DegradedThreshold,
		Window:            cfg.Monitor.Window,
		CacheTTL:          cfg.Monitor.CacheTTL,
		CacheSize:         cfg.Monitor.CacheSize,
	}
	if err := monCfg.Validate(); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("invalid monitor config: %w", err)
	}
	a.monitor = monitor.New(a.repo, logger, monitor.WithConfig(monCfg))

	return a, nil
}

// heartbeats is nil when Redis is disabled
func (a *app) heartbeats() metrics.HeartbeatSource {
	if a.coord == nil {
		return nil
	}
	return a.coord
}

func (a *app) heartbeatWriter() scheduler.HeartbeatWriter {
	if a.coord == nil {
		return nil
	}
	return a.coord
}

func (a *app) ping(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		if err := a.db.DB.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.coord != nil {
		if err := a.coord.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) Close(ctx context.Context) {
	if a.coord != nil {
		if err := a.coord.Close(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("closing redis")
		}
	}
	if a.db != nil {
		if err := a.db.Close(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("closing postgres")
		}
	}
}

// policyDefaults turns the delivery section into the registration defaults
func policyDefaults(cfg config.DeliveryConfig) (webhook.Policy, error) {
	p := webhook.Policy{
		Strategy:         retry.NewStrategy(cfg.Strategy),
		MaxRetries:       cfg.MaxRetries,
		BaseDelaySeconds: cfg.BaseDelaySeconds,
		TimeoutSeconds:   cfg.TimeoutSeconds,
	}
	if err := p.Validate(); err != nil {
		return webhook.Policy{}, fmt.Errorf("invalid delivery policy defaults: %w", err)
	}
	return p, nil
}
