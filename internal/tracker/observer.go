package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Rijam/BossChecklist/internal/dispatcher"
	"github.com/Rijam/BossChecklist/pkg/records"
	"github.com/Rijam/BossChecklist/pkg/streaming"
)

// ErrUnexpectedPacket is returned for a packet an observer never receives.
var ErrUnexpectedPacket = errors.New("unexpected packet for observer")

// Observer mirrors one player's records and the world records from the
// packets sent by the authority.
type Observer struct {
	mu       sync.Mutex
	personal *PlayerRecords
	world    *WorldRecords
	logger   *slog.Logger
}

// NewObserver creates an empty mirror for player. A nil logger uses slog.Default().
func NewObserver(player, worldID string, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		personal: NewPlayerRecords(player),
		world:    NewWorldRecords(worldID),
		logger:   logger,
	}
}

// RegisterHandlers registers every packet the authority sends.
func (o *Observer) RegisterHandlers(d *dispatcher.Dispatcher) {
	for _, typ := range []streaming.MessageType{
		streaming.TypeRecordUpdate,
		streaming.TypeWorldRecordUpdate,
		streaming.TypeResetTrackers,
		streaming.TypePlayTimeRecordUpdate,
	} {
		d.Register(typ, o.Handle, dispatcher.Logged())
	}
}

// Handle applies one packet. Integrity violations are logged and the rest
// of the packet is kept; any other failure leaves the mirror untouched.
func (o *Observer) Handle(e dispatcher.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pkt := e.Packet
	var err error
	switch pkt.Type {
	case streaming.TypeRecordUpdate:
		err = pkt.ApplyRecordUpdate(o.personal.Ensure(pkt.BossKey).Stats)
	case streaming.TypeWorldRecordUpdate:
		err = pkt.ApplyWorldRecordUpdate(o.world.Ensure(pkt.BossKey).Stats)
	case streaming.TypeResetTrackers:
		o.personal.Clear()
	case streaming.TypePlayTimeRecordUpdate:
		var v int64
		if v, err = pkt.PlayTime(); err == nil {
			o.personal.Ensure(pkt.BossKey).Stats.PlayTimeFirst = records.Some(v)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedPacket, pkt.Type)
	}

	var integrity *records.IntegrityError
	if errors.As(err, &integrity) {
		for _, v := range integrity.Violations {
			o.logger.Warn("record rejected", "boss", pkt.BossKey, "type", pkt.Type.String(), "violation", v.String())
		}
		return nil
	}
	return err
}

// Upload builds the packet that sends this player's records to the authority.
func (o *Observer) Upload() streaming.Packet {
	o.mu.Lock()
	defer o.mu.Unlock()

	return streaming.NewRecordsUpload(o.personal.Records())
}

// Personal returns a copy of the player's stats for boss.
func (o *Observer) Personal(boss string) (records.PersonalStats, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.personal.Get(boss)
	if !ok {
		return records.PersonalStats{}, false
	}
	return *rec.Stats, true
}

// World returns a copy of the world stats for boss.
func (o *Observer) World(boss string) (records.WorldStats, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.world.Get(boss)
	if !ok {
		return records.WorldStats{}, false
	}
	s := *rec.Stats
	s.DurationHolder = slices.Clone(s.DurationHolder)
	s.HitsTakenHolder = slices.Clone(s.HitsTakenHolder)
	return s, true
}

// Load replaces the player's records, for example from a local save.
func (o *Observer) Load(p *PlayerRecords) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.personal = p
}
