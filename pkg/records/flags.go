package records

import "strings"

// RecordFlags marks which record categories a network update carries.
type RecordFlags int32

const (
	None          RecordFlags = 0
	DurationBest  RecordFlags = 1
	HitsTakenBest RecordFlags = 2
	FirstRecord   RecordFlags = 4
	// ResetAll wipes the record. When set, every other bit is ignored.
	ResetAll RecordFlags = 8
)

const (
	bestFlags  = DurationBest | HitsTakenBest
	knownFlags = DurationBest | HitsTakenBest | FirstRecord | ResetAll
)

// Has reports whether every bit of bit is set in f.
func (f RecordFlags) Has(bit RecordFlags) bool {
	return bit != 0 && f&bit == bit
}

// IsReset reports whether f requests a full reset.
func (f RecordFlags) IsReset() bool {
	return f.Has(ResetAll)
}

// Valid reports whether f only uses known bits.
func (f RecordFlags) Valid() bool {
	return f&^knownFlags == 0
}

// ForPlayer narrows f to the bits a personal record update can carry.
func (f RecordFlags) ForPlayer() RecordFlags {
	if f.IsReset() {
		return ResetAll
	}
	return f & (bestFlags | FirstRecord)
}

// ForWorld narrows f to the bits a world record update can carry.
// World records have no first-kill fields.
func (f RecordFlags) ForWorld() RecordFlags {
	if f.IsReset() {
		return ResetAll
	}
	return f & bestFlags
}

func (f RecordFlags) String() string {
	if f == None {
		return "None"
	}
	names := []struct {
		bit  RecordFlags
		name string
	}{
		{DurationBest, "DurationBest"},
		{HitsTakenBest, "HitsTakenBest"},
		{FirstRecord, "FirstRecord"},
		{ResetAll, "ResetAll"},
	}
	var parts []string
	for _, n := range names {
		if f.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if !f.Valid() {
		parts = append(parts, "Unknown")
	}
	return strings.Join(parts, "|")
}
