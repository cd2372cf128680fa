package records

import (
	"fmt"

	"github.com/Rijam/BossChecklist/pkg/netio"
	"github.com/Rijam/BossChecklist/pkg/tag"
)

// PersonalStats holds one player's statistics and records for one boss.
//
// Kills counts wins, Deaths counts deaths during the fight and Attempts counts
// fights started win or lose. PlayTimeFirst is the player's play time at the
// first kill. For both duration and hits taken the record keeps the previous
// fight, the best fight, the best that was displaced by the current best, and
// the first kill. The zero value is a fresh record.
type PersonalStats struct {
	Kills         int32           `json:"kills"`
	Deaths        int32           `json:"deaths"`
	Attempts      int32           `json:"attempts"`
	PlayTimeFirst Optional[int64] `json:"playTimeFirst"`

	DurationPrev     Optional[int32] `json:"durationPrev"`
	DurationBest     Optional[int32] `json:"durationBest"`
	DurationPrevBest Optional[int32] `json:"durationPrevBest"`
	DurationFirst    Optional[int32] `json:"durationFirst"`

	HitsTakenPrev     Optional[int32] `json:"hitsTakenPrev"`
	HitsTakenBest     Optional[int32] `json:"hitsTakenBest"`
	HitsTakenPrevBest Optional[int32] `json:"hitsTakenPrevBest"`
	HitsTakenFirst    Optional[int32] `json:"hitsTakenFirst"`
}

// Update records a win and returns the categories that changed.
// Kills and the previous-fight fields are always updated.
func (s *PersonalStats) Update(duration, hitsTaken int32, playTime int64) RecordFlags {
	flags := None

	s.Kills++
	s.DurationPrev = Some(duration)
	s.HitsTakenPrev = Some(hitsTaken)

	if !s.PlayTimeFirst.IsSet() {
		s.PlayTimeFirst = Some(playTime)
		s.DurationFirst = Some(duration)
		s.HitsTakenFirst = Some(hitsTaken)
		flags |= FirstRecord
	}

	if s.DurationBest.BeatenBy(duration) {
		s.DurationPrevBest = s.DurationBest
		s.DurationBest = Some(duration)
		flags |= DurationBest
	}

	if s.HitsTakenBest.BeatenBy(hitsTaken) {
		s.HitsTakenPrevBest = s.HitsTakenBest
		s.HitsTakenBest = Some(hitsTaken)
		flags |= HitsTakenBest
	}

	return flags
}

// Regresses reports whether replacing stored with s would lose progress:
// fewer kills, or a best that stored holds and s does not match.
func (s *PersonalStats) Regresses(stored *PersonalStats) bool {
	return s.Kills < stored.Kills ||
		s.DurationBest.worseThan(stored.DurationBest) ||
		s.HitsTakenBest.worseThan(stored.HitsTakenBest)
}

// RecordAttempt counts a started fight.
func (s *PersonalStats) RecordAttempt() {
	s.Attempts++
}

// RecordDeath counts a death during a fight.
func (s *PersonalStats) RecordDeath() {
	s.Deaths++
}

// Reset clears every counter and record.
func (s *PersonalStats) Reset() {
	*s = PersonalStats{}
}

// BestPair carries a new best and the best it displaced.
type BestPair struct {
	Best     Optional[int32]
	PrevBest Optional[int32]
}

// FirstPair carries the first-kill records.
type FirstPair struct {
	Duration  Optional[int32]
	HitsTaken Optional[int32]
}

// PersonalUpdate is the tagged form of a personal network payload.
// A nil section is absent from the payload.
type PersonalUpdate struct {
	Reset         bool
	DurationPrev  Optional[int32]
	HitsTakenPrev Optional[int32]
	Duration      *BestPair
	HitsTaken     *BestPair
	First         *FirstPair
}

// Flags derives the header from the sections present, so the header and
// body can never disagree.
func (u PersonalUpdate) Flags() RecordFlags {
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
	if u.First != nil {
		flags |= FirstRecord
	}
	return flags
}

// NetworkUpdate selects the fields named by flags.
func (s *PersonalStats) NetworkUpdate(flags RecordFlags) PersonalUpdate {
	flags = flags.ForPlayer()
	if flags.IsReset() {
		return PersonalUpdate{Reset: true}
	}

	u := PersonalUpdate{
		DurationPrev:  s.DurationPrev,
		HitsTakenPrev: s.HitsTakenPrev,
	}
	if flags.Has(DurationBest) {
		u.Duration = &BestPair{Best: s.DurationBest, PrevBest: s.DurationPrevBest}
	}
	if flags.Has(HitsTakenBest) {
		u.HitsTaken = &BestPair{Best: s.HitsTakenBest, PrevBest: s.HitsTakenPrevBest}
	}
	if flags.Has(FirstRecord) {
		u.First = &FirstPair{Duration: s.DurationFirst, HitsTaken: s.HitsTakenFirst}
	}
	return u
}

// Encode writes the header followed by each present section in bit order.
func (u PersonalUpdate) Encode(w *netio.Writer) {
	w.WriteInt32(int32(u.Flags()))
	if u.Reset {
		return
	}

	w.WriteInt32(u.DurationPrev.OrSentinel())
	w.WriteInt32(u.HitsTakenPrev.OrSentinel())
	if u.Duration != nil {
		w.WriteInt32(u.Duration.Best.OrSentinel())
		w.WriteInt32(u.Duration.PrevBest.OrSentinel())
	}
	if u.HitsTaken != nil {
		w.WriteInt32(u.HitsTaken.Best.OrSentinel())
		w.WriteInt32(u.HitsTaken.PrevBest.OrSentinel())
	}
	if u.First != nil {
		w.WriteInt32(u.First.Duration.OrSentinel())
		w.WriteInt32(u.First.HitsTaken.OrSentinel())
	}
}

// DecodePersonalUpdate reads a payload written by PersonalUpdate.Encode.
func DecodePersonalUpdate(r *netio.Reader) (PersonalUpdate, error) {
	var u PersonalUpdate

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

	if u.DurationPrev, err = readOptional(r, "durationPrev"); err != nil {
		return u, err
	}
	if u.HitsTakenPrev, err = readOptional(r, "hitsTakenPrev"); err != nil {
		return u, err
	}
	if flags.Has(DurationBest) {
		if u.Duration, err = readBestPair(r, "duration"); err != nil {
			return u, err
		}
	}
	if flags.Has(HitsTakenBest) {
		if u.HitsTaken, err = readBestPair(r, "hitsTaken"); err != nil {
			return u, err
		}
	}
	if flags.Has(FirstRecord) {
		first := &FirstPair{}
		if first.Duration, err = readOptional(r, "durationFirst"); err != nil {
			return u, err
		}
		if first.HitsTaken, err = readOptional(r, "hitsTakenFirst"); err != nil {
			return u, err
		}
		u.First = first
	}
	return u, nil
}

// Apply mirrors a decoded update into s.
//
// A reset clears s. Any other update is one win, so Kills is incremented by
// exactly one whatever sections are present. A best pair whose best is worse
// than the stored best is skipped and reported in an *IntegrityError; all
// other sections are still applied.
func (s *PersonalStats) Apply(u PersonalUpdate) error {
	if u.Reset {
		s.Reset()
		return nil
	}

	var violations []Violation

	s.Kills++
	s.DurationPrev = u.DurationPrev
	s.HitsTakenPrev = u.HitsTakenPrev

	if u.Duration != nil {
		if u.Duration.Best.worseThan(s.DurationBest) {
			violations = append(violations, Violation{Field: "durationBest", Stored: s.DurationBest, Received: u.Duration.Best})
		} else {
			s.DurationBest = u.Duration.Best
			s.DurationPrevBest = u.Duration.PrevBest
		}
	}
	if u.HitsTaken != nil {
		if u.HitsTaken.Best.worseThan(s.HitsTakenBest) {
			violations = append(violations, Violation{Field: "hitsTakenBest", Stored: s.HitsTakenBest, Received: u.HitsTaken.Best})
		} else {
			s.HitsTakenBest = u.HitsTaken.Best
			s.HitsTakenPrevBest = u.HitsTaken.PrevBest
		}
	}
	if u.First != nil {
		s.DurationFirst = u.First.Duration
		s.HitsTakenFirst = u.First.HitsTaken
	}

	if len(violations) > 0 {
		return &IntegrityError{Violations: violations}
	}
	return nil
}

// EncodeNetwork writes the fields selected by flags.
func (s *PersonalStats) EncodeNetwork(w *netio.Writer, flags RecordFlags) {
	s.NetworkUpdate(flags).Encode(w)
}

// DecodeNetwork reads a payload and applies it. On ErrMalformedPayload s is
// unchanged; on ErrIntegrity the rest of the payload has been applied.
func (s *PersonalStats) DecodeNetwork(r *netio.Reader) error {
	u, err := DecodePersonalUpdate(r)
	if err != nil {
		return err
	}
	return s.Apply(u)
}

// MarshalTag encodes every field, unset records as Sentinel.
func (s *PersonalStats) MarshalTag() *tag.Compound {
	c := tag.New()
	c.SetInt32("kills", s.Kills)
	c.SetInt32("deaths", s.Deaths)
	c.SetInt32("attempts", s.Attempts)
	c.SetInt64("playTimeFirst", s.PlayTimeFirst.OrSentinel())

	c.SetInt32("durationPrev", s.DurationPrev.OrSentinel())
	c.SetInt32("durationBest", s.DurationBest.OrSentinel())
	c.SetInt32("durationPrevBest", s.DurationPrevBest.OrSentinel())
	c.SetInt32("durationFirst", s.DurationFirst.OrSentinel())

	c.SetInt32("hitsTakenPrev", s.HitsTakenPrev.OrSentinel())
	c.SetInt32("hitsTakenBest", s.HitsTakenBest.OrSentinel())
	c.SetInt32("hitsTakenPrevBest", s.HitsTakenPrevBest.OrSentinel())
	c.SetInt32("hitsTakenFirst", s.HitsTakenFirst.OrSentinel())
	return c
}

// UnmarshalTag replaces s with the fields in c. s is unchanged on error.
func (s *PersonalStats) UnmarshalTag(c *tag.Compound) error {
	var out PersonalStats
	var err error

	counters := []struct {
		key string
		dst *int32
	}{
		{"kills", &out.Kills},
		{"deaths", &out.Deaths},
		{"attempts", &out.Attempts},
	}
	for _, f := range counters {
		if *f.dst, err = c.GetInt32(f.key); err != nil {
			return fmt.Errorf("personal stats: %w", err)
		}
	}

	playTime, err := c.GetInt64("playTimeFirst")
	if err != nil {
		return fmt.Errorf("personal stats: %w", err)
	}
	out.PlayTimeFirst = FromSentinel(playTime)

	fields := []struct {
		key string
		dst *Optional[int32]
	}{
		{"durationPrev", &out.DurationPrev},
		{"durationBest", &out.DurationBest},
		{"durationPrevBest", &out.DurationPrevBest},
		{"durationFirst", &out.DurationFirst},
		{"hitsTakenPrev", &out.HitsTakenPrev},
		{"hitsTakenBest", &out.HitsTakenBest},
		{"hitsTakenPrevBest", &out.HitsTakenPrevBest},
		{"hitsTakenFirst", &out.HitsTakenFirst},
	}
	for _, f := range fields {
		v, err := c.GetInt32(f.key)
		if err != nil {
			return fmt.Errorf("personal stats: %w", err)
		}
		*f.dst = FromSentinel(v)
	}

	*s = out
	return nil
}

func readOptional(r *netio.Reader, field string) (Optional[int32], error) {
	v, err := r.ReadInt32()
	if err != nil {
		return Optional[int32]{}, malformed("%s: %v", field, err)
	}
	return FromSentinel(v), nil
}

func readBestPair(r *netio.Reader, field string) (*BestPair, error) {
	best, err := readOptional(r, field+"Best")
	if err != nil {
		return nil, err
	}
	prev, err := readOptional(r, field+"PrevBest")
	if err != nil {
		return nil, err
	}
	return &BestPair{Best: best, PrevBest: prev}, nil
}
