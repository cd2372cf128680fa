package tracker

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rijam/BossChecklist/internal/dispatcher"
	"github.com/Rijam/BossChecklist/pkg/netio"
	"github.com/Rijam/BossChecklist/pkg/records"
	"github.com/Rijam/BossChecklist/pkg/streaming"
)

const boss = "Terraria KingSlime"

type sent struct {
	to     string // empty for broadcasts
	packet streaming.Packet
}

// fakeSender records packets and can forward them to observers.
type fakeSender struct {
	mu        sync.Mutex
	sent      []sent
	observers map[string]*Observer
	fail      error
}

func newFakeSender() *fakeSender {
	return &fakeSender{observers: make(map[string]*Observer)}
}

func (s *fakeSender) record(to string, data []byte) error {
	pkt, err := streaming.DecodePacket(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, sent{to: to, packet: pkt})
	s.mu.Unlock()
	return s.fail
}

func (s *fakeSender) SendTo(player string, data []byte) error {
	if err := s.record(player, data); err != nil {
		return err
	}
	if o, ok := s.observers[player]; ok {
		pkt, _ := streaming.DecodePacket(data)
		return o.Handle(dispatcher.Event{Sender: "server", Packet: pkt})
	}
	return nil
}

func (s *fakeSender) Broadcast(data []byte) error {
	if err := s.record("", data); err != nil {
		return err
	}
	for _, o := range s.observers {
		pkt, _ := streaming.DecodePacket(data)
		if err := o.Handle(dispatcher.Event{Sender: "server", Packet: pkt}); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSender) types() []streaming.MessageType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]streaming.MessageType, 0, len(s.sent))
	for _, p := range s.sent {
		out = append(out, p.packet.Type)
	}
	return out
}

type kill struct {
	player string
	flags  records.RecordFlags
}

type fakeRecorder struct {
	kills []kill
}

func (r *fakeRecorder) RecordKill(boss, player string, duration, hitsTaken int32, flags records.RecordFlags) {
	r.kills = append(r.kills, kill{player: player, flags: flags})
}

func TestAuthority_BossDefeatedMirrorsToObservers(t *testing.T) {
	sender := newFakeSender()
	alice := NewObserver("alice", "w", nil)
	bob := NewObserver("bob", "w", nil)
	sender.observers["alice"] = alice
	sender.observers["bob"] = bob

	rec := &fakeRecorder{}
	a := NewAuthority("w", sender, WithRecorder(rec))

	require.NoError(t, a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 120, HitsTaken: 3, PlayTime: 500}}))

	assert.Equal(t, []streaming.MessageType{
		streaming.TypeRecordUpdate,
		streaming.TypePlayTimeRecordUpdate,
		streaming.TypeWorldRecordUpdate,
	}, sender.types())

	got, ok := alice.Personal(boss)
	require.True(t, ok)
	assert.Equal(t, int32(1), got.Kills)
	assert.Equal(t, records.Some[int32](120), got.DurationBest)
	assert.Equal(t, records.Some[int64](500), got.PlayTimeFirst)

	_, ok = bob.Personal(boss)
	assert.False(t, ok, "personal updates go to the participant only")

	for _, o := range []*Observer{alice, bob} {
		w, ok := o.World(boss)
		require.True(t, ok)
		assert.Equal(t, int32(1), w.TotalKills)
		assert.Equal(t, []string{"alice"}, w.DurationHolder)
		assert.Equal(t, []string{"alice"}, w.HitsTakenHolder)
	}

	require.Len(t, rec.kills, 1)
	assert.Equal(t, records.DurationBest|records.HitsTakenBest|records.FirstRecord, rec.kills[0].flags)
}

func TestAuthority_WorldUpdateSentWithoutRecord(t *testing.T) {
	sender := newFakeSender()
	bob := NewObserver("bob", "w", nil)
	sender.observers["bob"] = bob
	a := NewAuthority("w", sender)

	require.NoError(t, a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 100, HitsTaken: 0}}))
	require.NoError(t, a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 200, HitsTaken: 5}}))

	last := sender.sent[len(sender.sent)-1]
	assert.Equal(t, streaming.TypeWorldRecordUpdate, last.packet.Type)
	assert.Equal(t, []byte{0, 0, 0, 0}, last.packet.Body)

	w, _ := bob.World(boss)
	assert.Equal(t, int32(2), w.TotalKills)
	assert.Equal(t, records.Some[int32](100), w.DurationWorld)
}

func TestAuthority_WorldTies(t *testing.T) {
	sender := newFakeSender()
	carol := NewObserver("carol", "w", nil)
	sender.observers["carol"] = carol
	a := NewAuthority("w", sender)

	require.NoError(t, a.BossDefeated(boss, []Outcome{
		{Player: "alice", Duration: 120, HitsTaken: 2},
		{Player: "bob", Duration: 120, HitsTaken: 4},
	}))

	w, _ := carol.World(boss)
	assert.Equal(t, []string{"alice", "bob"}, w.DurationHolder, "tie within one defeat")
	assert.Equal(t, []string{"alice"}, w.HitsTakenHolder)
	assert.Equal(t, int32(1), w.TotalKills, "one defeat, one kill")

	// An existing holder matching their own record is not re-added
	require.NoError(t, a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 120, HitsTaken: 9}}))
	last := sender.sent[len(sender.sent)-1]
	assert.Equal(t, []byte{0, 0, 0, 0}, last.packet.Body)

	// A later tie appends
	require.NoError(t, a.BossDefeated(boss, []Outcome{{Player: "dave", Duration: 300, HitsTaken: 2}}))
	w, _ = carol.World(boss)
	assert.Equal(t, []string{"alice", "dave"}, w.HitsTakenHolder)
	assert.Equal(t, []string{"alice", "bob"}, w.DurationHolder)

	// A better result replaces everyone
	require.NoError(t, a.BossDefeated(boss, []Outcome{{Player: "erin", Duration: 90, HitsTaken: 2}}))
	w, _ = carol.World(boss)
	assert.Equal(t, []string{"erin"}, w.DurationHolder)
	assert.Equal(t, []string{"alice", "dave", "erin"}, w.HitsTakenHolder)
	assert.Equal(t, int32(4), w.TotalKills)
}

func TestAuthority_ResetPlayer(t *testing.T) {
	sender := newFakeSender()
	alice := NewObserver("alice", "w", nil)
	sender.observers["alice"] = alice
	a := NewAuthority("w", sender)

	require.NoError(t, a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 120, HitsTaken: 3}}))
	require.NoError(t, a.BossDefeated("Terraria EyeofCthulhu", []Outcome{{Player: "alice", Duration: 60, HitsTaken: 1}}))

	require.NoError(t, a.ResetPlayer("alice", boss))
	got, _ := alice.Personal(boss)
	assert.Equal(t, records.PersonalStats{}, got)
	got, _ = alice.Personal("Terraria EyeofCthulhu")
	assert.Equal(t, int32(1), got.Kills, "other bosses untouched")

	require.NoError(t, a.ResetPlayer("alice", ""))
	assert.Equal(t, streaming.TypeResetTrackers, sender.sent[len(sender.sent)-1].packet.Type)
	got, _ = alice.Personal("Terraria EyeofCthulhu")
	assert.Equal(t, records.PersonalStats{}, got)
}

func TestAuthority_ResetWorld(t *testing.T) {
	sender := newFakeSender()
	bob := NewObserver("bob", "w", nil)
	sender.observers["bob"] = bob
	a := NewAuthority("w", sender)

	require.NoError(t, a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 120, HitsTaken: 3}}))
	require.NoError(t, a.ResetWorld(""))

	w, ok := bob.World(boss)
	require.True(t, ok)
	assert.Equal(t, records.WorldStats{}, w)
	assert.Equal(t, []byte{8, 0, 0, 0}, sender.sent[len(sender.sent)-1].packet.Body)
}

func TestAuthority_SendErrorsJoined(t *testing.T) {
	sender := newFakeSender()
	sender.fail = errors.New("offline")
	a := NewAuthority("w", sender)

	err := a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 1, HitsTaken: 1}})
	assert.ErrorIs(t, err, sender.fail)
	assert.Len(t, sender.types(), 3, "every packet is still attempted")

	require.NoError(t, a.World(func(w *WorldRecords) error {
		rec, ok := w.Get(boss)
		require.True(t, ok)
		assert.Equal(t, int32(1), rec.Stats.TotalKills)
		return nil
	}))
}

func TestAuthority_CountersAndPlayTime(t *testing.T) {
	sender := newFakeSender()
	alice := NewObserver("alice", "w", nil)
	sender.observers["alice"] = alice
	a := NewAuthority("w", sender)

	require.NoError(t, a.AttemptStarted(boss, []string{"alice", "bob"}))
	require.NoError(t, a.PlayerDied("alice", boss))
	require.NoError(t, a.SetPlayTime("alice", boss, 777))

	assert.Equal(t, []string{"alice", "bob"}, a.Players())
	require.NoError(t, a.EachPlayer(func(p *PlayerRecords) error {
		rec, ok := p.Get(boss)
		require.True(t, ok)
		assert.Equal(t, int32(1), rec.Stats.Attempts)
		if p.Player == "alice" {
			assert.Equal(t, int32(1), rec.Stats.Deaths)
			assert.Equal(t, records.Some[int64](777), rec.Stats.PlayTimeFirst)
		}
		return nil
	}))

	got, _ := alice.Personal(boss)
	assert.Equal(t, records.Some[int64](777), got.PlayTimeFirst)
	assert.Equal(t, int32(0), got.Deaths, "deaths are not networked")
}

func TestAuthority_UploadThroughDispatcher(t *testing.T) {
	d, err := dispatcher.New(discardLogger{})
	require.NoError(t, err)

	a := NewAuthority("w", newFakeSender())
	a.RegisterHandlers(d)

	local := NewObserver("alice", "w", nil)
	p := NewPlayerRecords("alice")
	p.Ensure(boss).Stats.Update(4000, 2, 10)
	local.Load(p)

	require.NoError(t, d.Dispatch(dispatcher.Event{Sender: "alice", Packet: local.Upload()}))
	d.Close()

	require.NoError(t, a.EachPlayer(func(got *PlayerRecords) error {
		rec, ok := got.Get(boss)
		require.True(t, ok)
		assert.Equal(t, records.Some[int32](4000), rec.Stats.DurationBest)
		return nil
	}))
}

func TestAuthority_MergeUploadKeepsProgress(t *testing.T) {
	a := NewAuthority("w", newFakeSender())

	older := func() []*records.BossRecord {
		p := NewPlayerRecords("alice")
		p.Ensure(boss).Stats.Update(5000, 4, 10)
		return p.Records()
	}
	a.MergeUpload("alice", older())

	require.NoError(t, a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 3000, HitsTaken: 5, PlayTime: 20}}))

	// A copy taken before the second kill arrives late.
	a.MergeUpload("alice", older())

	fresh := NewPlayerRecords("alice")
	fresh.Ensure("Terraria EyeofCthulhu").Stats.Update(7000, 9, 30)
	a.MergeUpload("alice", fresh.Records())

	require.NoError(t, a.EachPlayer(func(p *PlayerRecords) error {
		rec, ok := p.Get(boss)
		require.True(t, ok)
		assert.Equal(t, int32(2), rec.Stats.Kills)
		assert.Equal(t, records.Some[int32](3000), rec.Stats.DurationBest)
		assert.Equal(t, records.Some[int32](4), rec.Stats.HitsTakenBest)

		_, ok = p.Get("Terraria EyeofCthulhu")
		assert.True(t, ok, "bosses the authority lacks are taken")
		return nil
	}))
}

func TestAuthority_RejectsInvalidEvents(t *testing.T) {
	sender := newFakeSender()
	a := NewAuthority("w", sender)
	long := strings.Repeat("x", netio.MaxStringLen+1)

	errs := []error{
		a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 1}, {Player: long, Duration: 1}}),
		a.BossDefeated(long, []Outcome{{Player: "alice", Duration: 1}}),
		a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 1, PlayTime: -1}}),
		a.BossDefeated(boss, []Outcome{{Player: "", Duration: 1}}),
		a.AttemptStarted(boss, []string{"alice", long}),
		a.PlayerDied("alice", long),
		a.SetPlayTime("alice", boss, -1),
	}
	for i, err := range errs {
		assert.ErrorIs(t, err, ErrInvalidEvent, "case %d", i)
	}
	assert.Empty(t, a.Players(), "a refused event changes nothing")
	assert.Empty(t, sender.types())
}

func TestObserver_IntegrityViolationIsWarning(t *testing.T) {
	o := NewObserver("alice", "w", nil)
	p := NewPlayerRecords("alice")
	p.Ensure(boss).Stats.DurationBest = records.Some[int32](50)
	o.Load(p)

	forged := &records.PersonalStats{}
	flags := forged.Update(500, 0, 1)
	err := o.Handle(dispatcher.Event{Packet: streaming.NewRecordUpdate(boss, forged, flags)})
	require.NoError(t, err)

	got, _ := o.Personal(boss)
	assert.Equal(t, records.Some[int32](50), got.DurationBest)
	assert.Equal(t, records.Some[int32](0), got.HitsTakenBest, "other fields still applied")
	assert.Equal(t, int32(1), got.Kills)
}

func TestObserver_RejectsOtherPackets(t *testing.T) {
	o := NewObserver("alice", "w", nil)

	err := o.Handle(dispatcher.Event{Packet: streaming.NewRecordsUpload(nil)})
	assert.ErrorIs(t, err, ErrUnexpectedPacket)

	bad := streaming.Packet{Type: streaming.TypeRecordUpdate, BossKey: boss, Body: []byte{1}}
	assert.ErrorIs(t, o.Handle(dispatcher.Event{Packet: bad}), streaming.ErrMalformed)
}

func TestObserver_WorldCopyIsDetached(t *testing.T) {
	sender := newFakeSender()
	bob := NewObserver("bob", "w", nil)
	sender.observers["bob"] = bob
	a := NewAuthority("w", sender)
	require.NoError(t, a.BossDefeated(boss, []Outcome{{Player: "alice", Duration: 1, HitsTaken: 1}}))

	w, _ := bob.World(boss)
	w.DurationHolder[0] = "mallory"

	again, _ := bob.World(boss)
	assert.Equal(t, []string{"alice"}, again.DurationHolder)
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
