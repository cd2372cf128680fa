// Package factory builds the configured storage backend.
package factory

import (
	"fmt"

	"github.com/Rijam/BossChecklist/internal/config"
	"github.com/Rijam/BossChecklist/internal/database"
	"github.com/Rijam/BossChecklist/internal/logging"
	"github.com/Rijam/BossChecklist/internal/storage"
	"github.com/Rijam/BossChecklist/internal/storage/memory"
	"github.com/Rijam/BossChecklist/internal/storage/postgres"
	redisstorage "github.com/Rijam/BossChecklist/internal/storage/redis"
	sqlitestorage "github.com/Rijam/BossChecklist/internal/storage/sqlite"
)

// NewBackend creates a storage backend based on configuration. The backend
// is not initialized.
func NewBackend(cfg config.StorageConfig, dbm *database.Manager, logManager *logging.SlogManager) (storage.Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(postgres.Dependencies{
			Manager:       dbm,
			LogManager:    logManager,
			FlushInterval: cfg.FlushInterval,
		}), nil
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite, cfg.FlushInterval, dbm, logManager)
	case "redis":
		return redisstorage.New(cfg.Redis), nil
	case "memory":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
