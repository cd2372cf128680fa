package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rijam/BossChecklist/pkg/tag"
)

func TestBossRecord_RoundTrip(t *testing.T) {
	rec := NewBossRecord("Terraria KingSlime")
	rec.Stats.RecordAttempt()
	rec.Stats.Update(4200, 7, 36000)

	decoded, err := tag.Unmarshal(tag.Marshal(rec.MarshalTag()))
	require.NoError(t, err)

	var got BossRecord
	require.NoError(t, got.UnmarshalTag(decoded))
	assert.Equal(t, rec, &got)
	assert.Equal(t, "Personal Records for: 'Terraria KingSlime'", got.String())
}

func TestWorldRecord_RoundTrip(t *testing.T) {
	rec := NewWorldRecord("Terraria EyeofCthulhu")
	rec.Stats.Update(3000, 0, "Alice")
	rec.Stats.SetDurationHolders([]string{"Alice", "Bob"})

	decoded, err := tag.Unmarshal(tag.Marshal(rec.MarshalTag()))
	require.NoError(t, err)

	var got WorldRecord
	require.NoError(t, got.UnmarshalTag(decoded))
	assert.Equal(t, rec, &got)
	assert.Equal(t, "World Records for: 'Terraria EyeofCthulhu'", got.String())
}

func TestRecord_FreshRoundTrip(t *testing.T) {
	boss := NewBossRecord("k")
	var gotBoss BossRecord
	require.NoError(t, gotBoss.UnmarshalTag(boss.MarshalTag()))
	assert.Equal(t, boss, &gotBoss)

	world := NewWorldRecord("k")
	var gotWorld WorldRecord
	require.NoError(t, gotWorld.UnmarshalTag(world.MarshalTag()))
	assert.Equal(t, world, &gotWorld)
}

func TestRecord_UnmarshalErrors(t *testing.T) {
	noKey := NewBossRecord("k").MarshalTag()
	noKey.Delete("bossKey")

	noStats := NewWorldRecord("k").MarshalTag()
	noStats.Delete("stats")

	badStats := tag.New()
	badStats.SetString("bossKey", "k")
	badStats.SetCompound("stats", tag.New())

	var b BossRecord
	assert.ErrorIs(t, b.UnmarshalTag(noKey), tag.ErrMissingField)

	var w WorldRecord
	assert.ErrorIs(t, w.UnmarshalTag(noStats), tag.ErrMissingField)

	err := b.UnmarshalTag(badStats)
	assert.ErrorIs(t, err, tag.ErrMissingField)
	assert.Contains(t, err.Error(), `boss record "k"`)
	assert.Nil(t, b.Stats, "record untouched on failure")
}
