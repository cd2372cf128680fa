// Package gormstorage implements storage.Backend on top of GORM. Saves are
// queued per (owner, boss) and written in batches by a background flusher,
// so repeated saves of one record between flushes cost a single upsert.
package gormstorage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Rijam/BossChecklist/internal/logging"
	"github.com/Rijam/BossChecklist/internal/queue"
	"github.com/Rijam/BossChecklist/internal/storage"
	"github.com/Rijam/BossChecklist/internal/tracker"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB         *gorm.DB
	LogManager *logging.SlogManager
	// FlushInterval enables the background flusher. Zero flushes only on
	// Flush, on reads and on Close.
	FlushInterval time.Duration
}

// Backend implements storage.Backend using GORM with queued upserts.
type Backend struct {
	deps    Dependencies
	players *queue.Queue[rowKey, PlayerRecordRow]
	worlds  *queue.Queue[rowKey, WorldRecordRow]

	flushMu  sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{
		deps:    deps,
		players: queue.New[rowKey, PlayerRecordRow](),
		worlds:  queue.New[rowKey, WorldRecordRow](),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema and starts the flusher.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm storage: no database")
	}

	b.deps.LogManager.WriteLog("gorm:Init", "Migrating schema", "INFO")
	if err := b.deps.DB.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.stopChan = make(chan struct{})
	if b.deps.FlushInterval > 0 {
		b.wg.Add(1)
		go b.flushLoop()
	}
	return nil
}

// Close stops the flusher and writes everything still queued.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		b.wg.Wait()
		b.stopChan = nil
	}
	return b.Flush()
}

func (b *Backend) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.deps.LogManager.WriteLog("gorm:flushLoop", fmt.Sprintf("Error flushing records: %v", err), "ERROR")
			}
		}
	}
}

// Flush writes all queued rows. Rows that fail are queued again unless a
// newer save for the same record arrived meanwhile.
func (b *Backend) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	var errs []error

	if rows := b.players.GetAndEmpty(); len(rows) > 0 {
		if err := b.upsert(&rows); err != nil {
			b.players.Requeue(rows, PlayerRecordRow.key)
			errs = append(errs, fmt.Errorf("player records: %w", err))
		} else {
			b.deps.LogManager.WriteLog("gorm:Flush", fmt.Sprintf("Wrote %d player records", len(rows)), "DEBUG")
		}
	}

	if rows := b.worlds.GetAndEmpty(); len(rows) > 0 {
		if err := b.upsert(&rows); err != nil {
			b.worlds.Requeue(rows, WorldRecordRow.key)
			errs = append(errs, fmt.Errorf("world records: %w", err))
		} else {
			b.deps.LogManager.WriteLog("gorm:Flush", fmt.Sprintf("Wrote %d world records", len(rows)), "DEBUG")
		}
	}

	return errors.Join(errs...)
}

func (b *Backend) upsert(rows any) error {
	return b.deps.DB.Clauses(clause.OnConflict{UpdateAll: true}).Create(rows).Error
}

// Pending returns the number of queued rows.
func (b *Backend) Pending() int {
	return b.players.Len() + b.worlds.Len()
}

func (b *Backend) SavePlayer(p *tracker.PlayerRecords) error {
	for _, rec := range p.Records() {
		row := playerRow(p.Player, rec)
		b.players.Push(row.key(), row)
	}
	return nil
}

func (b *Backend) LoadPlayer(player string) (*tracker.PlayerRecords, error) {
	if err := b.Flush(); err != nil {
		return nil, err
	}

	var rows []PlayerRecordRow
	if err := b.deps.DB.Where("player = ?", player).Order("boss_key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query player records: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("player %s: %w", player, storage.ErrNotFound)
	}

	p := tracker.NewPlayerRecords(player)
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("player %s boss %s: %w", player, row.BossKey, err)
		}
		p.Put(rec)
	}
	return p, nil
}

func (b *Backend) Players() ([]string, error) {
	if err := b.Flush(); err != nil {
		return nil, err
	}

	var ids []string
	err := b.deps.DB.Model(&PlayerRecordRow{}).Distinct("player").Order("player").Pluck("player", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return ids, nil
}

func (b *Backend) SaveWorld(w *tracker.WorldRecords) error {
	for _, rec := range w.Records() {
		row := worldRow(w.WorldID, rec)
		b.worlds.Push(row.key(), row)
	}
	return nil
}

func (b *Backend) LoadWorld(worldID string) (*tracker.WorldRecords, error) {
	if err := b.Flush(); err != nil {
		return nil, err
	}

	var rows []WorldRecordRow
	if err := b.deps.DB.Where("world_id = ?", worldID).Order("boss_key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query world records: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("world %s: %w", worldID, storage.ErrNotFound)
	}

	w := tracker.NewWorldRecords(worldID)
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("world %s boss %s: %w", worldID, row.BossKey, err)
		}
		w.Put(rec)
	}
	return w, nil
}

// TopDurations returns the fastest stored personal bests for boss across
// all players, best first. Unset bests are skipped.
func (b *Backend) TopDurations(boss string, limit int) ([]PlayerRecordRow, error) {
	if err := b.Flush(); err != nil {
		return nil, err
	}

	var rows []PlayerRecordRow
	err := b.deps.DB.
		Select("player", "boss_key", "kills", "deaths", "attempts", "duration_best", "hits_taken_best").
		Where("boss_key = ? AND duration_best >= 0", boss).
		Order("duration_best, player").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	return rows, nil
}
