package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scopezero/internal/factors"
	"github.com/sells-group/scopezero/internal/lock"
	"github.com/sells-group/scopezero/internal/pipeline"
	"github.com/sells-group/scopezero/internal/store"
)

// appEnv holds the store, lock and pipeline shared by the serve, ingest and
// report commands.
type appEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	redis    *redis.Client // nil with the local lock
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens and migrates the store, loads the
// factor catalog and builds the Pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	catalog, err := factors.Load(cfg.Factors.File)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var locker lock.Locker
	if mode != "report" {
		locker, env.redis, err = initLocker(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
	}

	p, err := pipeline.New(cfg, st, locker, catalog)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pipeline = p
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "scopezero.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initLocker returns the ingest lock. The redis client is returned so the
// caller can close it.
func initLocker(ctx context.Context) (lock.Locker, *redis.Client, error) {
	switch cfg.Lock.Driver {
	case "", "local":
		return lock.NewLocal(), nil, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, eris.Wrapf(err, "redis ping %s", cfg.Lock.RedisAddr)
		}
		zap.L().Info("using redis ingest lock",
			zap.String("addr", cfg.Lock.RedisAddr),
			zap.String("key", cfg.Lock.Key),
		)
		return lock.NewRedis(rdb, lock.RedisOptions{
			Key: cfg.Lock.Key,
			TTL: time.Duration(cfg.Lock.TTLSecs) * time.Second,
		}), rdb, nil
	default:
		return nil, nil, eris.Errorf("unsupported lock driver: %s", cfg.Lock.Driver)
	}
}
