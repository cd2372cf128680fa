package tag

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rijam/BossChecklist/pkg/netio"
)

func sampleCompound() *Compound {
	inner := New()
	inner.SetInt32("kills", 3)
	inner.SetInt64("playTimeFirst", -1)

	item := New()
	item.SetString("bossKey", "Terraria EyeofCthulhu")

	c := New()
	c.SetString("bossKey", "Terraria KingSlime")
	c.SetCompound("stats", inner)
	c.SetStringList("durationHolder", []string{"Alice", "Bob"})
	c.SetStringList("hitsTakenHolder", nil)
	c.SetCompoundList("records", []*Compound{item})
	return c
}

func TestCompound_TypedGetters(t *testing.T) {
	c := sampleCompound()

	key, err := c.GetString("bossKey")
	require.NoError(t, err)
	assert.Equal(t, "Terraria KingSlime", key)

	stats, err := c.GetCompound("stats")
	require.NoError(t, err)
	kills, err := stats.GetInt32("kills")
	require.NoError(t, err)
	assert.Equal(t, int32(3), kills)

	pt, err := stats.GetInt64("playTimeFirst")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), pt)

	holders, err := c.GetStringList("durationHolder")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, holders)

	assert.True(t, c.Has("records"))
	assert.Equal(t, 5, c.Len())
	assert.Equal(t, []string{"bossKey", "durationHolder", "hitsTakenHolder", "records", "stats"}, c.Keys())
}

func TestCompound_Errors(t *testing.T) {
	c := sampleCompound()

	_, err := c.GetInt32("missing")
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "missing")

	_, err = c.GetInt32("bossKey")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	stats, err := c.GetCompound("stats")
	require.NoError(t, err)
	_, err = stats.GetInt32("playTimeFirst")
	assert.ErrorIs(t, err, ErrTypeMismatch, "int64 must not read back as int32")
}

func TestCompound_ListsAreCopied(t *testing.T) {
	src := []string{"Alice"}
	c := New()
	c.SetStringList("holders", src)
	src[0] = "Mallory"

	got, err := c.GetStringList("holders")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, got)

	got[0] = "Eve"
	again, _ := c.GetStringList("holders")
	assert.Equal(t, []string{"Alice"}, again)
}

func TestBinary_RoundTrip(t *testing.T) {
	c := sampleCompound()

	data := Marshal(c)
	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, c.Keys(), got.Keys())

	stats, err := got.GetCompound("stats")
	require.NoError(t, err)
	pt, err := stats.GetInt64("playTimeFirst")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), pt)

	empty, err := got.GetStringList("hitsTakenHolder")
	require.NoError(t, err)
	assert.Empty(t, empty)

	records, err := got.GetCompoundList("records")
	require.NoError(t, err)
	require.Len(t, records, 1)
	key, _ := records[0].GetString("bossKey")
	assert.Equal(t, "Terraria EyeofCthulhu", key)

	assert.Equal(t, data, Marshal(got), "encoding must be deterministic")
}

func TestBinary_Malformed(t *testing.T) {
	data := Marshal(sampleCompound())

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", data[:len(data)-3]},
		{"trailing", append(append([]byte{}, data...), 0x01)},
		{"unknown type", []byte{0x63, 1, 'k', 0}},
		{"negative list", []byte{typeList, 1, 'k', typeString, 0xff, 0xff, 0xff, 0xff, typeEnd}},
		{"int list", []byte{typeList, 1, 'k', typeInt32, 0, 0, 0, 0, typeEnd}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestBinary_StringLengthLimit(t *testing.T) {
	long := strings.Repeat("p", netio.MaxStringLen)

	c := New()
	c.SetString("holder", long)
	c.SetStringList("holders", []string{long, "alice"})
	got, err := Unmarshal(Marshal(c))
	require.NoError(t, err)
	v, err := got.GetString("holder")
	require.NoError(t, err)
	assert.Equal(t, long, v)

	for name, c := range map[string]*Compound{
		"value": func() *Compound { c := New(); c.SetString("holder", long+"p"); return c }(),
		"list":  func() *Compound { c := New(); c.SetStringList("holders", []string{"alice", long + "p"}); return c }(),
		"key":   func() *Compound { c := New(); c.SetInt32(long+"p", 1); return c }(),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(Marshal(c))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestCompound_MarshalJSON(t *testing.T) {
	c := New()
	c.SetString("bossKey", "Terraria KingSlime")
	c.SetInt32("kills", 2)

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bossKey":"Terraria KingSlime","kills":2}`, string(data))
}
