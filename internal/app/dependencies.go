package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/storage/memory"
	"github.com/vladislavdragonenkov/payflow/internal/storage/postgres"
)

var errPostgresDSNRequired = errors.New("postgres storage requires a DSN")

// runtimeDependencies: репозитории выбранного драйвера хранения.
type runtimeDependencies struct {
	driver string

	orders          domain.OrderRepository
	seats           domain.SeatRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	subscriptions   domain.SubscriptionRepository
	idempotencyRepo domain.IdempotencyRepository

	// store задан только для postgres.
	store *postgres.Store
}

func (d *runtimeDependencies) ping(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	return d.store.Ping(ctx)
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		logger.WithError(err).Warn("failed to close postgres store")
	}
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	switch driver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return memoryDependencies(), nil
	case StorageDriverPostgres:
		deps, err := postgresDependencies(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.WithFields(log.Fields{
			"auto_migrate": cfg.PostgresAutoMigrate,
			"max_conns":    cfg.PostgresMaxConns,
		}).Info("using postgres storage")
		return deps, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func memoryDependencies() *runtimeDependencies {
	return &runtimeDependencies{
		driver:          StorageDriverMemory,
		orders:          memory.NewOrderRepository(),
		seats:           memory.NewSeatRepository(),
		outboxRepo:      memory.NewOutboxRepository(),
		timelineRepo:    memory.NewTimelineRepository(),
		subscriptions:   memory.NewSubscriptionRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
	}
}

func postgresDependencies(ctx context.Context, cfg Config) (*runtimeDependencies, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errPostgresDSNRequired
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN,
		postgres.WithMaxConns(cfg.PostgresMaxConns),
		postgres.WithConnMaxLifetime(cfg.PostgresConnMaxLife),
	)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return &runtimeDependencies{
		driver:          StorageDriverPostgres,
		orders:          postgres.NewOrderRepository(store),
		seats:           postgres.NewSeatRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		subscriptions:   postgres.NewSubscriptionRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		store:           store,
	}, nil
}
