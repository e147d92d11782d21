package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	mongodrv "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/odyssey-erp/odyssey-trust/internal/glmirror"
	"github.com/odyssey-erp/odyssey-trust/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-trust/internal/platform/db"
	"github.com/odyssey-erp/odyssey-trust/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/store/memory"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/store/mongo"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/store/postgres"
)

// serviceName identifies this process to Postgres and Redis.
const serviceName = "odyssey-trust"

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Backend bundles the ledger store of the configured driver with the read models and job state
// kept next to it.
type Backend struct {
	Store      trust.Store
	Properties trust.PropertyDirectory
	Payments   trust.SalePaymentSource
	Sources    reconcile.PaymentSource
	Leases     reconcile.LeaseStore
	Results    reconcile.ResultStore
	Pool       *pgxpool.Pool
	Health     map[string]Pinger

	closers []func()
}

// OpenBackend connects the store selected by TRUST_STORE_DRIVER and applies migrations when
// enabled.
func OpenBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{Health: map[string]Pinger{}}
	switch cfg.TrustStoreDriver {
	case StoreDriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, serviceName)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		store := postgres.New(pool)
		if cfg.TrustMigrate {
			if err := store.Migrate(ctx); err != nil {
				b.Close()
				return nil, err
			}
		}
		sources := postgres.NewSources(pool)
		b.Store, b.Leases, b.Results = store, store, store
		b.Properties, b.Payments, b.Sources = sources, sources, sources
		b.Pool = pool
		b.Health["postgres"] = store
	case StoreDriverMongo:
		client, err := mongodrv.Connect(options.Client().ApplyURI(cfg.MongoURI).SetAppName(serviceName))
		if err != nil {
			return nil, fmt.Errorf("app: connect mongo: %w", err)
		}
		b.closers = append(b.closers, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Warn("mongo disconnect", slog.Any("error", err))
			}
		})
		store := mongo.New(client, cfg.MongoDB)
		if err := store.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("app: ping mongo: %w", err)
		}
		if cfg.TrustMigrate {
			if err := store.Migrate(ctx); err != nil {
				b.Close()
				return nil, err
			}
		}
		b.Store, b.Leases, b.Results = store, store, store
		b.Properties, b.Payments, b.Sources = store, store, store
		b.Health["mongo"] = store
	case StoreDriverMemory:
		store := memory.New()
		b.Store, b.Leases, b.Results = store, store, store
		b.Properties, b.Payments, b.Sources = store, store, store
		logger.Warn("trust store is in-memory, data is lost on restart")
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.TrustStoreDriver)
	}
	return b, nil
}

// Close releases connections in reverse order of acquisition.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// NewLocker builds the account locker selected by TRUST_LOCK_DRIVER. The returned close func
// is never nil.
func NewLocker(ctx context.Context, cfg *Config, logger *slog.Logger) (trust.Locker, *redis.Client, func(), error) {
	if cfg.TrustLockDriver != LockDriverRedis {
		return trust.NewLocalLocker(), nil, func() {}, nil
	}
	client, err := cache.New(ctx, cfg.RedisAddr, serviceName+"-locker")
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	return lock.NewRedisLocker(client, cfg.TrustLockTTL, logger), client, closeFn, nil
}

// NewTrustService assembles the account service over b, probes the unit-of-work strategy, and
// attaches the GL mirror when enabled.
func NewTrustService(ctx context.Context, cfg *Config, b *Backend, locker trust.Locker, logger *slog.Logger) (*trust.Service, error) {
	rates, err := cfg.TaxRates()
	if err != nil {
		return nil, err
	}
	uow := trust.NewUnitOfWork(b.Store, cfg.TxMode(), logger)
	if err := uow.Probe(ctx); err != nil {
		return nil, fmt.Errorf("app: probe unit of work: %w", err)
	}
	service := trust.NewService(b.Store, uow, locker, b.Properties, b.Payments, audit.NewWriter(), rates, logger)
	if cfg.TrustGLMirror && b.Pool != nil {
		service.AddPostingListener(glmirror.NewMirror(glmirror.NewRepository(b.Pool), logger))
		logger.Info("general ledger mirror enabled")
	}
	return service, nil
}

// NewReconcileJob assembles the reconciliation job over b.
func NewReconcileJob(cfg *Config, b *Backend, service *trust.Service, emitter reconcile.Emitter, deps reconcile.Deps) *reconcile.Job {
	deps.Leases = b.Leases
	deps.Results = b.Results
	deps.Payments = b.Sources
	deps.Ledger = b.Store
	deps.Emitter = emitter
	deps.Realigner = service
	return reconcile.NewJob(deps, cfg.ReconcileConfig())
}
