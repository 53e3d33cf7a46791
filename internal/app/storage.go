package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

// runtimeDependencies: репозитории выбранного хранилища.
type runtimeDependencies struct {
	merchants     domain.MerchantRepository
	users         domain.UserRepository
	apiKeys       domain.APIKeyRepository
	requestLogs   domain.APIRequestLogRepository
	notifications domain.NotificationRepository
	products      domain.ProductRepository
	warehouses    domain.WarehouseRepository
	stock         domain.StockRepository
	orders        domain.OrderRepository
	returns       domain.ReturnRepository
	refunds       domain.RefundRepository
	audit         domain.AuditRepository
	outbox        domain.OutboxRepository
	idempotency   domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		store := memory.NewStore()
		logger.Warn("using in-memory storage, data is lost on restart")
		return runtimeDependencies{
			merchants:     memory.NewMerchantRepository(store),
			users:         memory.NewUserRepository(store),
			apiKeys:       memory.NewAPIKeyRepository(store),
			requestLogs:   memory.NewAPIRequestLogRepository(store),
			notifications: memory.NewNotificationRepository(store),
			products:      memory.NewProductRepository(store),
			warehouses:    memory.NewWarehouseRepository(store),
			stock:         memory.NewStockRepository(store),
			orders:        memory.NewOrderRepository(store),
			returns:       memory.NewReturnRepository(store),
			refunds:       memory.NewRefundRepository(store),
			audit:         memory.NewAuditRepository(store),
			outbox:        memory.NewOutboxRepository(store),
			idempotency:   memory.NewIdempotencyRepository(),
		}, nil
	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return runtimeDependencies{}, errors.New("postgres storage requires FULFILLMENT_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		return runtimeDependencies{
			merchants:      postgres.NewMerchantRepository(store),
			users:          postgres.NewUserRepository(store),
			apiKeys:        postgres.NewAPIKeyRepository(store),
			requestLogs:    postgres.NewAPIRequestLogRepository(store),
			notifications:  postgres.NewNotificationRepository(store),
			products:       postgres.NewProductRepository(store),
			warehouses:     postgres.NewWarehouseRepository(store),
			stock:          postgres.NewStockRepository(store),
			orders:         postgres.NewOrderRepository(store),
			returns:        postgres.NewReturnRepository(store),
			refunds:        postgres.NewRefundRepository(store),
			audit:          postgres.NewAuditRepository(store),
			outbox:         postgres.NewOutboxRepository(store),
			idempotency:    postgres.NewIdempotencyRepository(store),
			storageChecker: healthcheck.NewChecker("postgres", store.Ping),
			closeFn:        store.Close,
		}, nil
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
