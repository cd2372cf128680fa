// Package sqlitestorage implements the storage.Backend interface using
// SQLite. It wraps the GORM backend; the only SQLite-specific concern is
// the optional in-memory database with periodic disk dumps via VACUUM INTO.
package sqlitestorage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/Rijam/BossChecklist/internal/config"
	"github.com/Rijam/BossChecklist/internal/database"
	"github.com/Rijam/BossChecklist/internal/logging"
	gormstorage "github.com/Rijam/BossChecklist/internal/storage/gorm"

	"gorm.io/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	dbm      *database.Manager
	cfg      config.SQLiteConfig
	log      *logging.SlogManager
	stopChan chan struct{}
	done     chan struct{}
}

// New opens the database named by cfg.Path, or an in-memory database when
// the path is empty.
func New(cfg config.SQLiteConfig, flushInterval time.Duration, dbm *database.Manager, logManager *logging.SlogManager) (*Backend, error) {
	db, err := dbm.OpenSqlite(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:            db,
		LogManager:    logManager,
		FlushInterval: flushInterval,
	})

	return &Backend{
		Backend: gormBackend,
		db:      db,
		dbm:     dbm,
		cfg:     cfg,
		log:     logManager,
	}, nil
}

func (b *Backend) inMemory() bool {
	return b.cfg.Path == ""
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if b.inMemory() && b.cfg.DumpPath != "" {
		if err := b.restoreDump(); err != nil {
			return err
		}
	}

	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.inMemory() && b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.stopChan = make(chan struct{})
		b.done = make(chan struct{})
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine, flushes, writes a final dump and closes
// the database.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}

	if err := b.Backend.Close(); err != nil {
		return err
	}

	if b.inMemory() && b.cfg.DumpPath != "" {
		if err := b.dbm.DumpToDisk(b.db, b.cfg.DumpPath); err != nil {
			return err
		}
	}

	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Dump flushes queued saves and writes the in-memory database to DumpPath.
func (b *Backend) Dump() error {
	if err := b.Flush(); err != nil {
		return err
	}
	return b.dbm.DumpToDisk(b.db, b.cfg.DumpPath)
}

// restoreDump copies the tables of a previous dump into the fresh
// in-memory database. ATTACH is per connection, so the copy runs on one
// pinned connection.
func (b *Backend) restoreDump() error {
	if _, err := os.Stat(b.cfg.DumpPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err := b.db.AutoMigrate(gormstorage.Models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	err := b.db.Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("ATTACH DATABASE ? AS dump", b.cfg.DumpPath).Error; err != nil {
			return fmt.Errorf("failed to attach dump: %w", err)
		}
		defer conn.Exec("DETACH DATABASE dump")

		for _, table := range []string{"player_records", "world_records"} {
			stmt := fmt.Sprintf("INSERT OR REPLACE INTO main.%s SELECT * FROM dump.%s", table, table)
			if err := conn.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to restore %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.log.WriteLog("sqlite:restoreDump", fmt.Sprintf("Restored records from %s", b.cfg.DumpPath), "INFO")
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Dump(); err != nil {
				b.log.WriteLog("sqlite:dumpLoop", fmt.Sprintf("Error dumping to disk: %v", err), "ERROR")
			} else {
				b.log.WriteLog("sqlite:dumpLoop", fmt.Sprintf("Dumped to disk in %s", time.Since(start)), "DEBUG")
			}
		}
	}
}
