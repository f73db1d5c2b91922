package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/cli/config"
	"github.com/identi-digital/identi-modules-sub000/internal/form/service"
	"github.com/identi-digital/identi-modules-sub000/internal/logging"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/schema"
	"github.com/identi-digital/identi-modules-sub000/internal/web/cache"
)

var errNoDatabase = errors.New("no database configured: set DATABASE_URL or database.url in formctl.yml")

func (o *options) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath, "")
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openDB opens the Postgres pool through the pgx stdlib driver and checks
// the connection.
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.Database.URL == "" {
		return nil, errNoDatabase
	}
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func loadRegistry(cfg *config.Config) (*schema.Registry, error) {
	registry := schema.NewRegistry()
	if cfg.Entities.Path == "" {
		return registry, nil
	}
	if err := schema.LoadDefinitionsFile(registry, cfg.Entities.Path); err != nil {
		return nil, err
	}
	return registry, nil
}

// openCache connects to Redis when configured and falls back to process
// memory otherwise. The returned close func is never nil.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, func() error) {
	cacheConfig := cache.DefaultCacheConfig()
	cacheConfig.DefaultTTL = cfg.Catalog.CacheTTL

	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			CacheConfig: cacheConfig,
		})
		if err == nil {
			return rc, rc.Close
		}
		logger.Warn("redis unavailable, caching the tool catalog in memory",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err),
		)
	}
	return cache.NewMemoryCache(cacheConfig), func() error { return nil }
}

// newService wires the form service with the configured catalog fallback
// and snapshot cache.
func newService(db *sql.DB, registry *schema.Registry, cfg *config.Config, c cache.Cache, logger *zap.Logger) *service.Service {
	return service.New(db, registry, logger,
		service.WithCatalogFile(cfg.Catalog.Path),
		service.WithCatalogCache(c, cfg.Catalog.CacheTTL),
	)
}
