package records

import (
	"fmt"
	"slices"

	"github.com/Rijam/BossChecklist/pkg/netio"
	"github.com/Rijam/BossChecklist/pkg/tag"
)

// WorldStats holds the aggregate statistics and world records for one boss.
// Each world record keeps the names of everyone holding it; ties are allowed.
type WorldStats struct {
	TotalKills  int32 `json:"totalKills"`
	TotalDeaths int32 `json:"totalDeaths"`

	DurationWorld  Optional[int32] `json:"durationWorld"`
	DurationHolder []string        `json:"durationHolder"`

	HitsTakenWorld  Optional[int32] `json:"hitsTakenWorld"`
	HitsTakenHolder []string        `json:"hitsTakenHolder"`
}

// DurationEmpty reports whether no duration record was ever set.
func (s *WorldStats) DurationEmpty() bool {
	return len(s.DurationHolder) == 0 && !s.DurationWorld.IsSet()
}

// HitsTakenEmpty reports whether no hits-taken record was ever set.
func (s *WorldStats) HitsTakenEmpty() bool {
	return len(s.HitsTakenHolder) == 0 && !s.HitsTakenWorld.IsSet()
}

// Update records one win by holder and returns the world records it beat.
func (s *WorldStats) Update(duration, hitsTaken int32, holder string) RecordFlags {
	s.TotalKills++
	return s.Challenge(duration, hitsTaken, holder)
}

// Challenge offers a result against the world records without counting a kill.
// A strictly better result replaces the record and makes holder its only holder.
// Ties are left alone; merging tied holders is the caller's decision.
func (s *WorldStats) Challenge(duration, hitsTaken int32, holder string) RecordFlags {
	flags := None
	if s.DurationWorld.BeatenBy(duration) {
		s.DurationWorld = Some(duration)
		s.DurationHolder = []string{holder}
		flags |= DurationBest
	}
	if s.HitsTakenWorld.BeatenBy(hitsTaken) {
		s.HitsTakenWorld = Some(hitsTaken)
		s.HitsTakenHolder = []string{holder}
		flags |= HitsTakenBest
	}
	return flags
}

// RecordDeath counts a death against the boss in this world.
func (s *WorldStats) RecordDeath() {
	s.TotalDeaths++
}

// SetDurationHolders stores a copy of holders as the duration record holders.
func (s *WorldStats) SetDurationHolders(holders []string) {
	s.DurationHolder = slices.Clone(holders)
}

// SetHitsTakenHolders stores a copy of holders as the hits-taken record holders.
func (s *WorldStats) SetHitsTakenHolders(holders []string) {
	s.HitsTakenHolder = slices.Clone(holders)
}

// Reset clears counters, records and holders.
func (s *WorldStats) Reset() {
	*s = WorldStats{}
}

// WorldBest carries a world record value and its holders.
type WorldBest struct {
	Value   Optional[int32]
	Holders []string
}

// WorldUpdate is the tagged form of a world network payload.
// A nil section is absent.
type WorldUpdate struct {
	Reset     bool
	Duration  *WorldBest
	HitsTaken *WorldBest
}

// Flags derives the header from the sections present.
func (u WorldUpdate) Flags() RecordFlags {
	if u.Reset {
		return ResetAll
	}
	flags := None
	if u.Duration != nil {
		flags |= DurationBest
	}
	if u.HitsTaken != nil {
		flags |= HitsTakenBest
	}
	return flags
}

// NetworkUpdate selects the records named by flags.
func (s *WorldStats) NetworkUpdate(flags RecordFlags) WorldUpdate {
	flags = flags.ForWorld()
	if flags.IsReset() {
		return WorldUpdate{Reset: true}
	}

	var u WorldUpdate
	if flags.Has(DurationBest) {
		u.Duration = &WorldBest{Value: s.DurationWorld, Holders: slices.Clone(s.DurationHolder)}
	}
	if flags.Has(HitsTakenBest) {
		u.HitsTaken = &WorldBest{Value: s.HitsTakenWorld, Holders: slices.Clone(s.HitsTakenHolder)}
	}
	return u
}

// Encode writes the header followed by each present record, value then holders.
func (u WorldUpdate) Encode(w *netio.Writer) {
	w.WriteInt32(int32(u.Flags()))
	if u.Reset {
		return
	}
	for _, best := range []*WorldBest{u.Duration, u.HitsTaken} {
		if best == nil {
			continue
		}
		w.WriteInt32(best.Value.OrSentinel())
		w.WriteInt32(int32(len(best.Holders)))
		for _, name := range best.Holders {
			w.WriteString(name)
		}
	}
}

// DecodeWorldUpdate reads a payload written by WorldUpdate.Encode.
func DecodeWorldUpdate(r *netio.Reader) (WorldUpdate, error) {
	var u WorldUpdate

	raw, err := r.ReadInt32()
	if err != nil {
		return u, malformed("flags: %v", err)
	}
	flags := RecordFlags(raw)
	if !flags.Valid() {
		return u, malformed("unknown flag bits in %#x", raw)
	}
	if flags.IsReset() {
		u.Reset = true
		return u, nil
	}
	if flags.Has(FirstRecord) {
		return u, malformed("world update carries FirstRecord")
	}

	if flags.Has(DurationBest) {
		if u.Duration, err = readWorldBest(r, "durationWorld"); err != nil {
			return u, err
		}
	}
	if flags.Has(HitsTakenBest) {
		if u.HitsTaken, err = readWorldBest(r, "hitsTakenWorld"); err != nil {
			return u, err
		}
	}
	return u, nil
}

// Apply mirrors a decoded update into s.
//
// A reset clears s. Any other update stands for one win, so TotalKills is
// incremented by exactly one. Holder lists are rebuilt from the payload.
// A record worse than the stored one is skipped and reported in an
// *IntegrityError; equal values are accepted since ties change holders.
func (s *WorldStats) Apply(u WorldUpdate) error {
	if u.Reset {
		s.Reset()
		return nil
	}

	var violations []Violation

	s.TotalKills++

	if u.Duration != nil {
		if u.Duration.Value.worseThan(s.DurationWorld) {
			violations = append(violations, Violation{Field: "durationWorld", Stored: s.DurationWorld, Received: u.Duration.Value})
		} else {
			s.DurationWorld = u.Duration.Value
			s.DurationHolder = append(s.DurationHolder[:0], u.Duration.Holders...)
		}
	}
	if u.HitsTaken != nil {
		if u.HitsTaken.Value.worseThan(s.HitsTakenWorld) {
			violations = append(violations, Violation{Field: "hitsTakenWorld", Stored: s.HitsTakenWorld, Received: u.HitsTaken.Value})
		} else {
			s.HitsTakenWorld = u.HitsTaken.Value
			s.HitsTakenHolder = append(s.HitsTakenHolder[:0], u.HitsTaken.Holders...)
		}
	}

	if len(violations) > 0 {
		return &IntegrityError{Violations: violations}
	}
	return nil
}

// EncodeNetwork writes the records selected by flags.
func (s *WorldStats) EncodeNetwork(w *netio.Writer, flags RecordFlags) {
	s.NetworkUpdate(flags).Encode(w)
}

// DecodeNetwork reads a payload and applies it. See Apply.
func (s *WorldStats) DecodeNetwork(r *netio.Reader) error {
	u, err := DecodeWorldUpdate(r)
	if err != nil {
		return err
	}
	return s.Apply(u)
}

// MarshalTag encodes every field; holder lists as string lists.
func (s *WorldStats) MarshalTag() *tag.Compound {
	c := tag.New()
	c.SetInt32("totalKills", s.TotalKills)
	c.SetInt32("totalDeaths", s.TotalDeaths)

	c.SetStringList("durationHolder", s.DurationHolder)
	c.SetInt32("durationWorld", s.DurationWorld.OrSentinel())

	c.SetStringList("hitsTakenHolder", s.HitsTakenHolder)
	c.SetInt32("hitsTakenWorld", s.HitsTakenWorld.OrSentinel())
	return c
}

// UnmarshalTag replaces s with the fields in c. s is unchanged on error.
func (s *WorldStats) UnmarshalTag(c *tag.Compound) error {
	var out WorldStats
	var err error

	if out.TotalKills, err = c.GetInt32("totalKills"); err != nil {
		return fmt.Errorf("world stats: %w", err)
	}
	if out.TotalDeaths, err = c.GetInt32("totalDeaths"); err != nil {
		return fmt.Errorf("world stats: %w", err)
	}

	if out.DurationHolder, err = c.GetStringList("durationHolder"); err != nil {
		return fmt.Errorf("world stats: %w", err)
	}
	duration, err := c.GetInt32("durationWorld")
	if err != nil {
		return fmt.Errorf("world stats: %w", err)
	}
	out.DurationWorld = FromSentinel(duration)

	if out.HitsTakenHolder, err = c.GetStringList("hitsTakenHolder"); err != nil {
		return fmt.Errorf("world stats: %w", err)
	}
	hits, err := c.GetInt32("hitsTakenWorld")
	if err != nil {
		return fmt.Errorf("world stats: %w", err)
	}
	out.HitsTakenWorld = FromSentinel(hits)

	if len(out.DurationHolder) == 0 {
		out.DurationHolder = nil
	}
	if len(out.HitsTakenHolder) == 0 {
		out.HitsTakenHolder = nil
	}

	*s = out
	return nil
}

func readWorldBest(r *netio.Reader, field string) (*WorldBest, error) {
	value, err := readOptional(r, field)
	if err != nil {
		return nil, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return nil, malformed("%s holder count: %v", field, err)
	}
	// every holder takes at least its length prefix byte
	if count < 0 || int(count) > r.Remaining() {
		return nil, malformed("%s holder count %d", field, count)
	}

	holders := make([]string, 0, count)
	for i := int32(0); i < count; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, malformed("%s holder %d: %v", field, i, err)
		}
		holders = append(holders, name)
	}
	return &WorldBest{Value: value, Holders: holders}, nil
}
