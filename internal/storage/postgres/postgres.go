// Package postgres implements the storage.Backend interface using
// GORM/PostgreSQL. The queueing and upsert logic lives in the GORM backend;
// this package owns the connection.
package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Rijam/BossChecklist/internal/database"
	"github.com/Rijam/BossChecklist/internal/logging"
	gormstorage "github.com/Rijam/BossChecklist/internal/storage/gorm"
	"github.com/Rijam/BossChecklist/internal/tracker"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	// DB is used when set; otherwise Init connects through Manager.
	DB            *gorm.DB
	Manager       *database.Manager
	LogManager    *logging.SlogManager
	FlushInterval time.Duration
}

// Backend implements storage.Backend against PostgreSQL.
type Backend struct {
	deps  Dependencies
	inner *gormstorage.Backend
	owned bool
}

// New creates a new Postgres storage backend. No connection is made until Init.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps}
}

// Init connects if needed, migrates the schema and starts the flusher.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		if b.deps.Manager == nil {
			return errors.New("postgres storage: no database manager")
		}
		db, err := b.deps.Manager.OpenPostgres()
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.deps.DB = db
		b.owned = true
	}

	b.inner = gormstorage.New(gormstorage.Dependencies{
		DB:            b.deps.DB,
		LogManager:    b.deps.LogManager,
		FlushInterval: b.deps.FlushInterval,
	})
	return b.inner.Init()
}

// Close flushes pending rows and closes a connection opened by Init.
func (b *Backend) Close() error {
	if b.inner == nil {
		return nil
	}
	if err := b.inner.Close(); err != nil {
		return err
	}
	if !b.owned {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *Backend) ready() error {
	if b.inner == nil {
		return errors.New("postgres storage: not initialized")
	}
	return nil
}

func (b *Backend) SavePlayer(p *tracker.PlayerRecords) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.inner.SavePlayer(p)
}

func (b *Backend) LoadPlayer(player string) (*tracker.PlayerRecords, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.inner.LoadPlayer(player)
}

func (b *Backend) Players() ([]string, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.inner.Players()
}

func (b *Backend) SaveWorld(w *tracker.WorldRecords) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.inner.SaveWorld(w)
}

func (b *Backend) LoadWorld(worldID string) (*tracker.WorldRecords, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.inner.LoadWorld(worldID)
}

// TopDurations returns the fastest personal bests for boss.
func (b *Backend) TopDurations(boss string, limit int) ([]gormstorage.PlayerRecordRow, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.inner.TopDurations(boss, limit)
}
