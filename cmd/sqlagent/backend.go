package sqlagent

import (
	"context"
	"errors"
	"fmt"

	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"github.com/igorsilveira/sqlagent/pkg/audit"
	"github.com/igorsilveira/sqlagent/pkg/config"
	"github.com/igorsilveira/sqlagent/pkg/gateway"
	"github.com/igorsilveira/sqlagent/pkg/store"
	redisstore "github.com/igorsilveira/sqlagent/pkg/store/redis"
	"gorm.io/gorm"
)

// backend is the task store selected by [store].driver plus what travels
// with it. The audit log only exists on the sqlite driver.
type backend struct {
	tasks  a2a.TaskStore
	sql    *store.TaskStore
	audit  *audit.Logger
	ready  map[string]gateway.ReadyCheck
	closer func() error
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (*backend, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return &backend{tasks: a2a.NewMemoryTaskStore(), closer: func() error { return nil }}, nil

	case config.StoreRedis:
		rs, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL.Duration)
		if err != nil {
			return nil, fmt.Errorf("opening redis store: %w", err)
		}
		return &backend{
			tasks:  rs,
			ready:  map[string]gateway.ReadyCheck{"redis": rs.Ping},
			closer: rs.Close,
		}, nil

	case config.StoreSQLite, "":
		if err := config.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		db, err := store.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		ts, err := store.NewTaskStore(db)
		if err != nil {
			_ = store.Close(db)
			return nil, fmt.Errorf("initializing task store: %w", err)
		}
		auditLog, err := audit.New(db)
		if err != nil {
			_ = store.Close(db)
			return nil, fmt.Errorf("initializing audit logger: %w", err)
		}
		return &backend{
			tasks:  ts,
			sql:    ts,
			audit:  auditLog,
			ready:  map[string]gateway.ReadyCheck{"sqlite": pingDB(db)},
			closer: func() error { return store.Close(db) },
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func (b *backend) Close() error {
	return b.closer()
}

func pingDB(db *gorm.DB) gateway.ReadyCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

var errNoAuditLog = errors.New("the audit log needs the sqlite store driver")
