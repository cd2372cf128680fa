package tracker

import (
	"fmt"
	"slices"

	"github.com/Rijam/BossChecklist/pkg/records"
	"github.com/Rijam/BossChecklist/pkg/tag"
)

// PlayerRecords is one player's personal records, keyed by boss.
// It does no locking; the owning Authority or Observer serializes access.
type PlayerRecords struct {
	Player string
	byBoss map[string]*records.BossRecord
}

// NewPlayerRecords returns an empty collection for player.
func NewPlayerRecords(player string) *PlayerRecords {
	return &PlayerRecords{Player: player, byBoss: make(map[string]*records.BossRecord)}
}

// Get returns the record for boss if one exists.
func (p *PlayerRecords) Get(boss string) (*records.BossRecord, bool) {
	rec, ok := p.byBoss[boss]
	return rec, ok
}

// Ensure returns the record for boss, creating a fresh one if needed.
func (p *PlayerRecords) Ensure(boss string) *records.BossRecord {
	rec, ok := p.byBoss[boss]
	if !ok {
		rec = records.NewBossRecord(boss)
		p.byBoss[boss] = rec
	}
	return rec
}

// Put stores rec, replacing any record for the same boss.
func (p *PlayerRecords) Put(rec *records.BossRecord) {
	p.byBoss[rec.BossKey] = rec
}

// Keys returns the boss keys in sorted order.
func (p *PlayerRecords) Keys() []string {
	return sortedKeys(p.byBoss)
}

// Records returns the records ordered by boss key.
func (p *PlayerRecords) Records() []*records.BossRecord {
	out := make([]*records.BossRecord, 0, len(p.byBoss))
	for _, k := range p.Keys() {
		out = append(out, p.byBoss[k])
	}
	return out
}

func (p *PlayerRecords) Len() int {
	return len(p.byBoss)
}

// Clear resets every record. Boss keys are kept.
func (p *PlayerRecords) Clear() {
	for _, rec := range p.byBoss {
		rec.Stats.Reset()
	}
}

// MarshalTag stores the collection as a player name and a list of records.
func (p *PlayerRecords) MarshalTag() *tag.Compound {
	list := make([]*tag.Compound, 0, len(p.byBoss))
	for _, rec := range p.Records() {
		list = append(list, rec.MarshalTag())
	}
	c := tag.New()
	c.SetString("player", p.Player)
	c.SetCompoundList("records", list)
	return c
}

// UnmarshalTag replaces the collection with the contents of c.
// The collection is untouched when c is invalid.
func (p *PlayerRecords) UnmarshalTag(c *tag.Compound) error {
	player, err := c.GetString("player")
	if err != nil {
		return err
	}
	list, err := c.GetCompoundList("records")
	if err != nil {
		return err
	}

	byBoss := make(map[string]*records.BossRecord, len(list))
	for i, item := range list {
		rec := &records.BossRecord{}
		if err := rec.UnmarshalTag(item); err != nil {
			return fmt.Errorf("player %q record %d: %w", player, i, err)
		}
		byBoss[rec.BossKey] = rec
	}

	p.Player = player
	p.byBoss = byBoss
	return nil
}

// WorldRecords is the world records of one world, keyed by boss.
type WorldRecords struct {
	WorldID string
	byBoss  map[string]*records.WorldRecord
}

// NewWorldRecords returns an empty collection for worldID.
func NewWorldRecords(worldID string) *WorldRecords {
	return &WorldRecords{WorldID: worldID, byBoss: make(map[string]*records.WorldRecord)}
}

func (w *WorldRecords) Get(boss string) (*records.WorldRecord, bool) {
	rec, ok := w.byBoss[boss]
	return rec, ok
}

func (w *WorldRecords) Ensure(boss string) *records.WorldRecord {
	rec, ok := w.byBoss[boss]
	if !ok {
		rec = records.NewWorldRecord(boss)
		w.byBoss[boss] = rec
	}
	return rec
}

// Put stores rec, replacing any record for the same boss.
func (w *WorldRecords) Put(rec *records.WorldRecord) {
	w.byBoss[rec.BossKey] = rec
}

func (w *WorldRecords) Keys() []string {
	return sortedKeys(w.byBoss)
}

func (w *WorldRecords) Records() []*records.WorldRecord {
	out := make([]*records.WorldRecord, 0, len(w.byBoss))
	for _, k := range w.Keys() {
		out = append(out, w.byBoss[k])
	}
	return out
}

func (w *WorldRecords) Len() int {
	return len(w.byBoss)
}

// Clear resets every world record. Boss keys are kept.
func (w *WorldRecords) Clear() {
	for _, rec := range w.byBoss {
		rec.Stats.Reset()
	}
}

func (w *WorldRecords) MarshalTag() *tag.Compound {
	list := make([]*tag.Compound, 0, len(w.byBoss))
	for _, rec := range w.Records() {
		list = append(list, rec.MarshalTag())
	}
	c := tag.New()
	c.SetString("world", w.WorldID)
	c.SetCompoundList("records", list)
	return c
}

func (w *WorldRecords) UnmarshalTag(c *tag.Compound) error {
	world, err := c.GetString("world")
	if err != nil {
		return err
	}
	list, err := c.GetCompoundList("records")
	if err != nil {
		return err
	}

	byBoss := make(map[string]*records.WorldRecord, len(list))
	for i, item := range list {
		rec := &records.WorldRecord{}
		if err := rec.UnmarshalTag(item); err != nil {
			return fmt.Errorf("world %q record %d: %w", world, i, err)
		}
		byBoss[rec.BossKey] = rec
	}

	w.WorldID = world
	w.byBoss = byBoss
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
