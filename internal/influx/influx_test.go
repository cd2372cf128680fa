package influx

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rijam/BossChecklist/internal/config"
	"github.com/Rijam/BossChecklist/pkg/records"
)

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, "forest", "", zerolog.Nop())
	assert.Error(t, m.Connect(context.Background()))
	assert.False(t, m.Valid())
}

func TestKillPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := KillPoint("forest", "Terraria KingSlime", "alice", 3600, 2, records.FirstRecord|records.DurationBest, at)

	assert.Equal(t, MeasurementKill, p.Name())
	assert.Equal(t, at, p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"world": "forest", "boss": "Terraria KingSlime", "player": "alice"}, tags)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, true, fields["first"])
	assert.Equal(t, true, fields["duration_best"])
	assert.Equal(t, false, fields["hits_taken_best"])
	assert.EqualValues(t, 3600, fields["duration"])
}

func TestRecordKill_Backup(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "kills.gz")
	cfg := config.InfluxConfig{
		Enabled:  true,
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     "1",
		Org:      "boss-records",
		Bucket:   "boss_records",
	}
	m := NewManager(cfg, "forest", backup, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.Valid())

	m.RecordKill("Terraria KingSlime", "alice", 3600, 2, records.DurationBest)
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	assert.True(t, strings.HasPrefix(line, `boss_kill,boss=Terraria\ KingSlime,player=alice,world=forest `), line)
	assert.Contains(t, line, "duration=3600i")
	assert.Contains(t, line, "duration_best=true")
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, "forest", "", zerolog.Nop())
	err := m.WritePoint(KillPoint("forest", "b", "p", 1, 1, records.None, time.Now()))
	assert.Error(t, err)
}
