// Package app assembles stores, leases, the event bus and the engines from
// configuration. It is shared by the API server and the admin CLI.
package app

import (
	"context"
	"fmt"

	"github.com/zatekoja/patientflow/internal/adapters/cache"
	"github.com/zatekoja/patientflow/internal/adapters/database"
	"github.com/zatekoja/patientflow/internal/adapters/events"
	"github.com/zatekoja/patientflow/internal/adapters/memory"
	"github.com/zatekoja/patientflow/internal/application/services"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/providers"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/patientflow/internal/infrastructure/clients/redis"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	"github.com/zatekoja/patientflow/pkg/config"
)

// App holds the wired backends and engines
type App struct {
	Config *config.Config

	Store    repositories.Store
	Leases   providers.LeaseProvider
	EventBus providers.EventBus

	Settings  *services.SettingsService
	Notifier  *services.Notifier
	Locks     *services.LockManager
	Queue     *services.QueueService
	Routing   *services.RoutingService
	Pins      *services.PinService
	Workflow  *services.WorkflowService
	Scheduler *services.SchedulerService

	pg      *postgres.Client
	redis   *redis.Client
	closers []func() error
}

// New connects the configured backends and builds the engines.
// Redis is optional unless it is the lease backend: without it events stay
// in process.
func New(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*App, error) {
	logger := observability.ComponentLogger(ctx, "app")
	a := &App{Config: cfg}

	needPostgres := cfg.Queue.StoreBackend == config.BackendPostgres || cfg.Queue.LeaseBackend == config.BackendPostgres
	if needPostgres {
		pg, err := postgres.NewClient(&cfg.Database)
		if err != nil {
			return nil, err
		}
		a.pg = pg
		a.closers = append(a.closers, pg.Close)
		if err := database.Migrate(ctx, pg.DB()); err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			if cfg.Queue.LeaseBackend == config.BackendRedis {
				a.Close()
				return nil, fmt.Errorf("redis lease backend: %w", err)
			}
			logger.Warn().Err(err).Msg("redis unavailable, events stay in process")
		} else {
			a.redis = rc
			a.closers = append(a.closers, rc.Close)
		}
	}

	switch cfg.Queue.StoreBackend {
	case config.BackendPostgres:
		store := database.NewStore(a.pg)
		store.SetMetrics(metrics)
		a.Store = store
	default:
		a.Store = memory.NewStore()
	}

	switch cfg.Queue.LeaseBackend {
	case config.BackendPostgres:
		a.Leases = database.NewLeaseAdapter(a.pg)
	case config.BackendRedis:
		a.Leases = cache.NewRedisLeaseAdapter(a.redis)
	default:
		a.Leases = memory.NewLeaseTable()
	}

	if a.redis != nil {
		a.EventBus = events.NewRedisEventBus(a.redis)
	} else {
		a.EventBus = events.NewMemoryEventBus()
	}
	// the bus closes before the clients it publishes through
	a.closers = append([]func() error{a.EventBus.Close}, a.closers...)

	if cfg.Queue.SeedFile != "" {
		seed, err := services.LoadSeedFile(cfg.Queue.SeedFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		if _, err := services.ApplySeed(ctx, a.Store, seed); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Settings = services.NewSettingsService(a.Store,
		entities.DefaultSystemConfig(cfg.Queue.Location(), cfg.Queue.EmergencyPin))
	if err := a.Settings.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("using default system settings")
	}

	a.Notifier = services.NewNotifier(a.EventBus, a.Settings)
	a.Locks = services.NewLockManager(a.Leases, cfg.Queue.LeaseTTL)
	a.Queue = services.NewQueueService(a.Store, a.Settings, a.Locks, a.Notifier)
	a.Queue.SetLeaseTTL(cfg.Queue.LeaseTTL)
	a.Routing = services.NewRoutingService(a.Store, a.Settings, a.Notifier)
	a.Pins = services.NewPinService(a.Store, a.Settings)
	a.Workflow = services.NewWorkflowService(a.Store, a.Settings, a.Queue, a.Routing, a.Pins, a.Notifier)
	a.Scheduler = services.NewSchedulerService(a.Store, a.Settings, a.Queue, a.Settings)

	if metrics != nil {
		a.Locks.SetMetrics(metrics)
		a.Queue.SetMetrics(metrics)
		a.Routing.SetMetrics(metrics)
		a.Pins.SetMetrics(metrics)
		a.Workflow.SetMetrics(metrics)
		a.Scheduler.SetMetrics(metrics)
	}

	logger.Info().
		Str("store", cfg.Queue.StoreBackend).
		Str("leases", cfg.Queue.LeaseBackend).
		Bool("redis", a.redis != nil).
		Msg("backends ready")
	return a, nil
}

// Postgres returns the database client, or nil for a memory-only setup
func (a *App) Postgres() *postgres.Client {
	return a.pg
}

// Close releases every backend in reverse dependency order
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
