package storage

import (
	"log/slog"
	"time"

	"github.com/opsforge/hiera-registry/internal/config"
	"github.com/opsforge/hiera-registry/internal/docstore"
	"github.com/opsforge/hiera-registry/internal/docstore/memory"
	"github.com/opsforge/hiera-registry/internal/docstore/postgres"
)

func init() {
	Register(TypeMemory, newMemory)
	Register(TypePostgres, newPostgres)
}

func newMemory(_ *config.Config, _ *slog.Logger) (docstore.Store, error) {
	return memory.NewStore(), nil
}

func newPostgres(cfg *config.Config, logger *slog.Logger) (docstore.Store, error) {
	pg := cfg.Storage.PostgreSQL
	storeCfg := postgres.DefaultConfig()
	storeCfg.Host = pg.Host
	storeCfg.Port = pg.Port
	storeCfg.Database = pg.Database
	storeCfg.User = pg.User
	storeCfg.Password = pg.Password
	if pg.SSLMode != "" {
		storeCfg.SSLMode = pg.SSLMode
	}
	if pg.MaxOpenConns > 0 {
		storeCfg.MaxOpenConns = pg.MaxOpenConns
	}
	if pg.MaxIdleConns > 0 {
		storeCfg.MaxIdleConns = pg.MaxIdleConns
	}
	if pg.ConnMaxLifetime > 0 {
		storeCfg.ConnMaxLifetime = time.Duration(pg.ConnMaxLifetime) * time.Second
	}
	if pg.PollIntervalMsec > 0 {
		storeCfg.PollInterval = time.Duration(pg.PollIntervalMsec) * time.Millisecond
	}
	logger.Info("connecting to postgresql",
		"host", storeCfg.Host, "port", storeCfg.Port, "database", storeCfg.Database)
	return postgres.NewStore(storeCfg)
}
