package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/registry-console/config"
	"github.com/upb/registry-console/interceptor"
	"github.com/upb/registry-console/internal/observability"
	"github.com/upb/registry-console/middleware"
	"github.com/upb/registry-console/repositories"
	"github.com/upb/registry-console/repositories/memory"
	"github.com/upb/registry-console/repositories/postgres"
	"github.com/upb/registry-console/repositories/sqlite"
	"github.com/upb/registry-console/services"
	"github.com/upb/registry-console/services/registry"
	"github.com/upb/registry-console/session"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	KV      repositories.KeyValueRepository
	Metrics *observability.Metrics

	// Session pipeline
	Session     *session.Store
	Identity    *services.IdentityService
	Interceptor *interceptor.Transport
	Registry    *registry.Client
	Guard       *middleware.RouteGuard
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	kv, err := OpenKeyValueStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	deps.KV = kv

	if err := deps.initSession(ctx, cfg); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	if err := deps.initRegistry(cfg); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("failed to initialize registry client: %w", err)
	}

	deps.Guard = middleware.NewRouteGuard(deps.Session, logger, deps.Metrics)

	logger.Info("all dependencies initialized successfully",
		zap.String("session_store", cfg.Session.Store),
		zap.String("profile", cfg.Session.Profile),
		zap.Bool("logged_in", deps.Session.IsLoggedIn()))
	return deps, nil
}

// OpenKeyValueStore opens the backend selected by cfg.Session.Store
func OpenKeyValueStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.KeyValueRepository, error) {
	switch cfg.Session.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory session store, credentials will not survive a restart")
		return memory.NewKeyValueRepository(), nil

	case config.StoreSQLite:
		db, err := sqlite.NewDB(ctx, cfg.Session.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := sqlite.RunMigrations(db.Writer); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("sqlite session store ready", zap.String("path", db.Path()))
		return sqlite.NewKeyValueRepo(db), nil

	case config.StorePostgres:
		db, err := postgres.NewDB(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return postgres.NewKeyValueRepository(db, logger), nil
	}

	return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
}

func (d *Dependencies) initSession(ctx context.Context, cfg *config.Config) error {
	d.Identity = services.NewIdentityService(cfg.Identity, d.Logger)

	store, err := session.Open(ctx, d.KV, cfg.Session.Profile, d.Logger,
		session.WithRefresher(d.Identity),
		session.WithClientID(cfg.Identity.ClientID))
	if err != nil {
		return err
	}
	d.Session = store
	return nil
}

func (d *Dependencies) initRegistry(cfg *config.Config) error {
	d.Interceptor = interceptor.New(d.Session, d.Logger,
		interceptor.WithRecorder(d.Metrics),
		interceptor.WithRefreshTimeout(cfg.Identity.RefreshTimeout))

	client, err := registry.NewClient(cfg.Registry.BaseURL, d.Interceptor.Client(cfg.Registry.Timeout), d.Logger)
	if err != nil {
		return err
	}
	d.Registry = client
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.KV != nil {
		if err := d.KV.Close(); err != nil && !errors.Is(err, repositories.ErrStoreClosed) {
			errs = append(errs, fmt.Errorf("failed to close session store: %w", err))
		} else {
			d.Logger.Info("session store closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
