// Package tracker runs a record session: the authority that owns every
// player's records and the world records, and the observers that mirror
// them from the packets the authority sends.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Rijam/BossChecklist/internal/dispatcher"
	"github.com/Rijam/BossChecklist/pkg/netio"
	"github.com/Rijam/BossChecklist/pkg/records"
	"github.com/Rijam/BossChecklist/pkg/streaming"
)

// ErrInvalidEvent is returned, before any record changes, for an event
// naming an empty or unencodable boss or player, or carrying a negative
// result.
var ErrInvalidEvent = errors.New("tracker: invalid event")

// checkNames rejects ids that observers could not decode from a packet.
func checkNames(names ...string) error {
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("%w: empty id", ErrInvalidEvent)
		}
		if err := netio.CheckString(n); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
	}
	return nil
}

func (o Outcome) check() error {
	if err := checkNames(o.Player); err != nil {
		return err
	}
	if o.Duration < 0 || o.HitsTaken < 0 || o.PlayTime < 0 {
		return fmt.Errorf("%w: negative result for %s", ErrInvalidEvent, o.Player)
	}
	return nil
}

// Sender delivers encoded packets to observers.
type Sender interface {
	SendTo(player string, data []byte) error
	Broadcast(data []byte) error
}

// Recorder receives one call per participant of every defeat.
type Recorder interface {
	RecordKill(boss, player string, duration, hitsTaken int32, flags records.RecordFlags)
}

// Outcome is one participant's result for a defeat.
type Outcome struct {
	Player    string
	Duration  int32
	HitsTaken int32
	PlayTime  int64
}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithRecorder reports every kill to r.
func WithRecorder(r Recorder) AuthorityOption {
	return func(a *Authority) {
		a.recorder = r
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) AuthorityOption {
	return func(a *Authority) {
		a.logger = l
	}
}

// Authority holds the canonical records of one world.
type Authority struct {
	mu       sync.Mutex
	players  map[string]*PlayerRecords
	world    *WorldRecords
	sender   Sender
	recorder Recorder
	logger   *slog.Logger
}

// NewAuthority creates an authority for worldID that sends packets through sender.
func NewAuthority(worldID string, sender Sender, opts ...AuthorityOption) *Authority {
	a := &Authority{
		players: make(map[string]*PlayerRecords),
		world:   NewWorldRecords(worldID),
		sender:  sender,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterHandlers registers the packets an authority accepts from observers.
func (a *Authority) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Uploads replace whole record sets; keep them in arrival order
	d.Register(streaming.TypeSendRecordsToServer, a.handleUpload, dispatcher.Buffered(64), dispatcher.Blocking(), dispatcher.Logged())
}

func (a *Authority) handleUpload(e dispatcher.Event) error {
	recs, err := e.Packet.Records()
	if err != nil {
		return fmt.Errorf("upload from %s: %w", e.Sender, err)
	}
	a.MergeUpload(e.Sender, recs)
	return nil
}

func (a *Authority) player(id string) *PlayerRecords {
	p, ok := a.players[id]
	if !ok {
		p = NewPlayerRecords(id)
		a.players[id] = p
	}
	return p
}

// AttemptStarted counts an attempt on boss for every participant.
func (a *Authority) AttemptStarted(boss string, players []string) error {
	if err := checkNames(append([]string{boss}, players...)...); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range players {
		a.player(id).Ensure(boss).Stats.RecordAttempt()
	}
	return nil
}

// PlayerDied counts a death against boss for the player and the world.
func (a *Authority) PlayerDied(player, boss string) error {
	if err := checkNames(player, boss); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.player(player).Ensure(boss).Stats.RecordDeath()
	a.world.Ensure(boss).Stats.RecordDeath()
	return nil
}

// BossDefeated records a defeat of boss. Each participant gets a
// RecordUpdate with their changed fields, plus a PlayTimeRecordUpdate on a
// first kill. Every observer then gets one WorldRecordUpdate, even when no
// world record changed, so their kill totals stay in step.
func (a *Authority) BossDefeated(boss string, outcomes []Outcome) error {
	if err := checkNames(boss); err != nil {
		return err
	}
	for _, o := range outcomes {
		if err := o.check(); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error

	for _, o := range outcomes {
		stats := a.player(o.Player).Ensure(boss).Stats
		flags := stats.Update(o.Duration, o.HitsTaken, o.PlayTime)

		pkt := streaming.NewRecordUpdate(boss, stats, flags.ForPlayer())
		if err := a.sender.SendTo(o.Player, pkt.Encode()); err != nil {
			errs = append(errs, fmt.Errorf("record update to %s: %w", o.Player, err))
		}
		if flags.Has(records.FirstRecord) {
			pkt = streaming.NewPlayTimeUpdate(boss, o.PlayTime)
			if err := a.sender.SendTo(o.Player, pkt.Encode()); err != nil {
				errs = append(errs, fmt.Errorf("play time update to %s: %w", o.Player, err))
			}
		}

		if a.recorder != nil {
			a.recorder.RecordKill(boss, o.Player, o.Duration, o.HitsTaken, flags)
		}
		a.logger.Debug("personal result", "boss", boss, "player", o.Player, "flags", flags.String())
	}

	world := a.world.Ensure(boss).Stats
	world.TotalKills++
	var worldFlags records.RecordFlags
	for _, o := range outcomes {
		worldFlags |= challengeWorld(world, o)
	}
	if worldFlags != records.None {
		a.logger.Info("world record", "boss", boss, "flags", worldFlags.String(),
			"duration", world.DurationWorld.String(), "hitsTaken", world.HitsTakenWorld.String())
	}

	pkt := streaming.NewWorldRecordUpdate(boss, world, worldFlags.ForWorld())
	if err := a.sender.Broadcast(pkt.Encode()); err != nil {
		errs = append(errs, fmt.Errorf("world record update: %w", err))
	}

	return errors.Join(errs...)
}

// challengeWorld offers one result to the world records. A strictly better
// value replaces the holders; an equal value adds the player as a holder.
// The returned bits name the categories whose holders changed.
func challengeWorld(world *records.WorldStats, o Outcome) records.RecordFlags {
	flags := world.Challenge(o.Duration, o.HitsTaken, o.Player)

	if !flags.Has(records.DurationBest) {
		if v, ok := world.DurationWorld.Get(); ok && v == o.Duration && !slices.Contains(world.DurationHolder, o.Player) {
			world.SetDurationHolders(append(slices.Clone(world.DurationHolder), o.Player))
			flags |= records.DurationBest
		}
	}
	if !flags.Has(records.HitsTakenBest) {
		if v, ok := world.HitsTakenWorld.Get(); ok && v == o.HitsTaken && !slices.Contains(world.HitsTakenHolder, o.Player) {
			world.SetHitsTakenHolders(append(slices.Clone(world.HitsTakenHolder), o.Player))
			flags |= records.HitsTakenBest
		}
	}
	return flags
}

// ResetPlayer wipes player's record for boss, or every record when boss is
// empty, and tells the player to do the same.
func (a *Authority) ResetPlayer(player, boss string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.player(player)
	var pkt streaming.Packet
	if boss == "" {
		p.Clear()
		pkt = streaming.NewResetTrackers()
	} else {
		stats := p.Ensure(boss).Stats
		stats.Reset()
		pkt = streaming.NewRecordUpdate(boss, stats, records.ResetAll)
	}

	a.logger.Info("personal records reset", "player", player, "boss", boss)
	return a.sender.SendTo(player, pkt.Encode())
}

// ResetWorld wipes the world record for boss, or every world record when
// boss is empty, and broadcasts a reset for each.
func (a *Authority) ResetWorld(boss string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	bosses := []string{boss}
	if boss == "" {
		bosses = a.world.Keys()
	}

	var errs []error
	for _, key := range bosses {
		stats := a.world.Ensure(key).Stats
		stats.Reset()
		pkt := streaming.NewWorldRecordUpdate(key, stats, records.ResetAll)
		if err := a.sender.Broadcast(pkt.Encode()); err != nil {
			errs = append(errs, fmt.Errorf("world reset %s: %w", key, err))
		}
	}

	a.logger.Info("world records reset", "world", a.world.WorldID, "bosses", len(bosses))
	return errors.Join(errs...)
}

// MergeUpload stores the records a player uploaded on joining. An uploaded
// record replaces the authority's copy for that boss unless the copy is
// ahead of it; bosses missing from the upload are left alone.
func (a *Authority) MergeUpload(player string, recs []*records.BossRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.player(player)
	kept := 0
	for _, rec := range recs {
		if rec.Stats == nil {
			continue
		}
		if cur, ok := p.Get(rec.BossKey); ok && rec.Stats.Regresses(cur.Stats) {
			a.logger.Warn("stale upload ignored", "player", player, "boss", rec.BossKey,
				"kills", rec.Stats.Kills, "stored_kills", cur.Stats.Kills)
			kept++
			continue
		}
		p.Put(rec)
	}
	a.logger.Info("records uploaded", "player", player, "records", len(recs), "kept", kept)
}

// SetPlayTime overrides the play time stored for player's first kill of
// boss and forwards it to the player.
func (a *Authority) SetPlayTime(player, boss string, playTime int64) error {
	if err := checkNames(player, boss); err != nil {
		return err
	}
	if playTime < 0 {
		return fmt.Errorf("%w: negative play time", ErrInvalidEvent)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.player(player).Ensure(boss).Stats.PlayTimeFirst = records.Some(playTime)
	return a.sender.SendTo(player, streaming.NewPlayTimeUpdate(boss, playTime).Encode())
}

// AddPlayer installs records loaded from storage, replacing any in memory.
func (a *Authority) AddPlayer(p *PlayerRecords) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.players[p.Player] = p
}

// SetWorld installs world records loaded from storage.
func (a *Authority) SetWorld(w *WorldRecords) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.world = w
}

// Players returns the ids of every known player, sorted.
func (a *Authority) Players() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return sortedKeys(a.players)
}

// EachPlayer calls fn for every player's records while holding the
// session lock. fn must not call back into the Authority.
func (a *Authority) EachPlayer(fn func(*PlayerRecords) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, id := range sortedKeys(a.players) {
		if err := fn(a.players[id]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// World calls fn with the world records while holding the session lock.
func (a *Authority) World(fn func(*WorldRecords) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return fn(a.world)
}
