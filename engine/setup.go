package engine

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"genforge/internal/clock"
	"genforge/internal/events"
	"genforge/internal/lock"
	"genforge/internal/queue"
	"genforge/internal/store"
	"genforge/internal/store/mocks"
	"genforge/internal/store/postgres"
	"genforge/types/config"
)

// Option configures Engine creation. Used for testing and customization.
type Option func(*setup)

type setup struct {
	// Optional: inject connections and components instead of creating
	// them from config
	db      *sql.DB
	redis   *redis.Client
	clk     clock.Clock
	broker  events.Broker
	lockMgr lock.DistributedLockManager
}

// WithDB injects a custom database connection. Useful for testing.
func WithDB(db *sql.DB) Option {
	return func(s *setup) {
		s.db = db
	}
}

// WithRedis injects a custom Redis client. Useful for testing.
func WithRedis(client *redis.Client) Option {
	return func(s *setup) {
		s.redis = client
	}
}

// WithClock injects a clock, letting tests drive periodic loops with a
// virtual clock.
func WithClock(clk clock.Clock) Option {
	return func(s *setup) {
		s.clk = clk
	}
}

// WithBroker injects an event broker in place of the configured one.
func WithBroker(b events.Broker) Option {
	return func(s *setup) {
		s.broker = b
	}
}

// WithLockManager injects a lock manager, e.g. an in-process one for
// single-instance deployments without postgres.
func WithLockManager(lm lock.DistributedLockManager) Option {
	return func(s *setup) {
		s.lockMgr = lm
	}
}

type stores struct {
	jobs      store.JobStore
	history   store.HistoryStore
	recurring store.RecurringJobStore
}

// initStorage opens the configured backends and runs migrations. Memory
// storage wires the in-process store implementations; they serve tests
// and single-instance runs.
func initStorage(cfg *config.EngineConfig, s *setup) (*sql.DB, stores, lock.DistributedLockManager, error) {
	switch cfg.StorageDriver {
	case config.Postgres:
		db := s.db
		if db == nil {
			var err error
			db, err = sql.Open("postgres", cfg.PostgresConfig.ConnectionUrl)
			if err != nil {
				return nil, stores{}, nil, fmt.Errorf("open postgres: %w", err)
			}
			if err := db.Ping(); err != nil {
				return nil, stores{}, nil, fmt.Errorf("ping postgres: %w", err)
			}
		}

		lockMgr := s.lockMgr
		if lockMgr == nil {
			lockMgr = lock.NewPostgresDistributedLockManager(db)
		}
		if err := postgres.Migrate(db, lockMgr); err != nil {
			return nil, stores{}, nil, fmt.Errorf("migrate: %w", err)
		}

		return db, stores{
			jobs:      postgres.NewJobStore(db),
			history:   postgres.NewHistoryStore(db),
			recurring: postgres.NewRecurringJobStore(db),
		}, lockMgr, nil

	case config.Memory:
		lockMgr := s.lockMgr
		if lockMgr == nil {
			lockMgr = lock.NewMockLockManager()
		}
		return nil, stores{
			jobs:      mocks.NewMockJobStore(),
			history:   mocks.NewMockHistoryStore(),
			recurring: mocks.NewMockRecurringJobStore(),
		}, lockMgr, nil

	default:
		return nil, stores{}, nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

func initQueueBackend(cfg *config.EngineConfig, s *setup) (queue.Backend, *redis.Client, error) {
	switch cfg.QueueDriver {
	case config.RedisQueue:
		client := s.redis
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.RedisConfig.Address,
				Password: cfg.RedisConfig.Password,
				DB:       cfg.RedisConfig.DB,
			})
		}
		return queue.NewRedisBackend(client, "genforge:queue"), client, nil

	case config.MemoryQueue:
		return queue.NewMemoryBackend(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported queue driver: %s", cfg.QueueDriver)
	}
}

func initBroker(cfg *config.EngineConfig, s *setup) (events.Broker, error) {
	if s.broker != nil {
		return s.broker, nil
	}
	if cfg.MQDriver != config.RabbitMQ {
		return nil, nil
	}
	broker, err := events.NewRabbitMQ(cfg.RabbitMQConfig.URL, cfg.RabbitMQConfig.Exchange)
	if err != nil {
		return nil, fmt.Errorf("init rabbitmq: %w", err)
	}
	return broker, nil
}
