// Package app assembles an engine and its backends from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rbaliyan/mailroute"
	"github.com/rbaliyan/mailroute/internal/config"
	"github.com/rbaliyan/mailroute/internal/metrics"
	"github.com/rbaliyan/mailroute/store"
	archiveotel "github.com/rbaliyan/mailroute/store/archive/otel"
	"github.com/rbaliyan/mailroute/store/archive/gcs"
	"github.com/rbaliyan/mailroute/store/archive/s3"
	"github.com/rbaliyan/mailroute/store/memory"
	"github.com/rbaliyan/mailroute/store/mongo"
	"github.com/rbaliyan/mailroute/store/postgres"
	"github.com/rbaliyan/mailroute/store/sqlite"
	"github.com/redis/go-redis/v9"
)

// App is a connected engine plus the resources it was built from.
type App struct {
	Engine  mailroute.Engine
	Metrics *metrics.Plugin
	Config  *config.Config
	Logger  *slog.Logger

	closers []func(ctx context.Context) error
}

// Build creates the store, archiver and event transport named by cfg,
// then connects the engine.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	rules, err := cfg.Routing()
	if err != nil {
		return nil, err
	}

	st, err := a.openStore(cfg.Database)
	if err != nil {
		return nil, err
	}

	opts := []mailroute.Option{
		mailroute.WithStore(st),
		mailroute.WithLogger(logger),
		mailroute.WithRules(rules),
		mailroute.WithReclaimOnRead(cfg.Reclaim.OnRead),
		mailroute.WithTracing(cfg.Telemetry.Tracing),
		mailroute.WithMetrics(cfg.Telemetry.Metrics),
		mailroute.WithServiceName(cfg.Telemetry.ServiceName),
	}

	archiver, err := a.openArchiver(ctx, cfg)
	if err != nil {
		_ = a.closeAll(ctx)
		return nil, err
	}
	if archiver != nil {
		opts = append(opts, mailroute.WithArchiver(archiver))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		opts = append(opts, mailroute.WithRedisClient(client))
	}

	if cfg.Telemetry.Prometheus {
		a.Metrics = metrics.New()
		opts = append(opts, mailroute.WithPlugin(a.Metrics))
	}

	eng, err := mailroute.NewEngine(opts...)
	if err != nil {
		_ = a.closeAll(ctx)
		return nil, err
	}
	if err := eng.Connect(ctx); err != nil {
		_ = a.closeAll(ctx)
		return nil, fmt.Errorf("connect engine: %w", err)
	}
	a.Engine = eng
	if a.Metrics != nil {
		a.Metrics.WatchStaging(func() int { return len(eng.PeekStaged()) })
	}
	return a, nil
}

func (a *App) openStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Type {
	case config.DatabaseMemory:
		return memory.New(), nil

	case config.DatabaseSQLite:
		st, err := sqlite.Open(cfg.Path,
			sqlite.WithLogger(a.Logger),
			sqlite.WithTimeout(cfg.Timeout),
			sqlite.WithTablePrefix(cfg.Prefix),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return st.DB().Close() })
		return st, nil

	case config.DatabasePostgres:
		st, err := postgres.Open(cfg.DSN,
			postgres.WithLogger(a.Logger),
			postgres.WithTimeout(cfg.Timeout),
			postgres.WithTablePrefix(cfg.Prefix),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return st.DB().Close() })
		return st, nil

	case config.DatabaseMongo:
		st, err := mongo.Open(cfg.URI,
			mongo.WithLogger(a.Logger),
			mongo.WithDatabase(cfg.Name),
			mongo.WithTimeout(cfg.Timeout),
			mongo.WithCollectionPrefix(cfg.Prefix),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(ctx context.Context) error { return st.Client().Disconnect(ctx) })
		return st, nil

	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}
}

// openArchiver returns nil when archiving is disabled.
func (a *App) openArchiver(ctx context.Context, cfg *config.Config) (store.Archiver, error) {
	var backend store.Archiver
	switch cfg.Archive.Type {
	case config.ArchiveNone, "":
		return nil, nil

	case config.ArchiveS3:
		opts := []s3.Option{
			s3.WithBucket(cfg.Archive.Bucket),
			s3.WithPrefix(cfg.Archive.Prefix),
			s3.WithLogger(a.Logger),
			s3.WithRegion(cfg.Archive.Region),
		}
		if cfg.Archive.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.Archive.Endpoint, cfg.Archive.PathStyle))
		}
		if cfg.Archive.RoleARN != "" {
			opts = append(opts, s3.WithAssumeRole(cfg.Archive.RoleARN, cfg.Archive.ExternalID))
		}
		arch, err := s3.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		backend = arch

	case config.ArchiveGCS:
		opts := []gcs.Option{
			gcs.WithBucket(cfg.Archive.Bucket),
			gcs.WithPrefix(cfg.Archive.Prefix),
			gcs.WithLogger(a.Logger),
		}
		if cfg.Archive.Endpoint != "" {
			opts = append(opts, gcs.WithEndpoint(cfg.Archive.Endpoint))
		}
		if cfg.Archive.CredentialsFile != "" {
			opts = append(opts, gcs.WithCredentialsFile(cfg.Archive.CredentialsFile))
		}
		arch, err := gcs.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return arch.Close() })
		backend = arch

	default:
		return nil, fmt.Errorf("unknown archive type %q", cfg.Archive.Type)
	}

	if !cfg.Telemetry.Tracing && !cfg.Telemetry.Metrics {
		return backend, nil
	}
	instrumented, err := archiveotel.New(backend,
		archiveotel.WithTracing(cfg.Telemetry.Tracing),
		archiveotel.WithMetrics(cfg.Telemetry.Metrics),
		archiveotel.WithServiceName(cfg.Telemetry.ServiceName),
		archiveotel.WithSlowWriteWarning(cfg.Archive.SlowWrite, a.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("instrument archive: %w", err)
	}
	return instrumented, nil
}

// Close closes the engine, then the backends it was built on, in
// reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Engine != nil {
		if err := a.Engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
	}
	if err := a.closeAll(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
