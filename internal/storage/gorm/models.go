package gormstorage

import (
	"time"

	"gorm.io/datatypes"

	"github.com/Rijam/BossChecklist/pkg/records"
	"github.com/Rijam/BossChecklist/pkg/tag"
)

// PlayerRecordRow is one player's record for one boss. Data holds the full
// record as a binary tag; the other columns are a queryable summary.
type PlayerRecordRow struct {
	Player        string `gorm:"primaryKey;size:128"`
	BossKey       string `gorm:"primaryKey;size:255"`
	Kills         int32
	Deaths        int32
	Attempts      int32
	DurationBest  int32
	HitsTakenBest int32
	Data          []byte
	UpdatedAt     time.Time
}

func (PlayerRecordRow) TableName() string {
	return "player_records"
}

// WorldRecordRow is one world's record for one boss.
type WorldRecordRow struct {
	WorldID         string `gorm:"primaryKey;size:128"`
	BossKey         string `gorm:"primaryKey;size:255"`
	TotalKills      int32
	TotalDeaths     int32
	DurationWorld   int32
	DurationHolder  datatypes.JSONSlice[string]
	HitsTakenWorld  int32
	HitsTakenHolder datatypes.JSONSlice[string]
	Data            []byte
	UpdatedAt       time.Time
}

func (WorldRecordRow) TableName() string {
	return "world_records"
}

// Models lists the tables to migrate.
var Models = []any{&PlayerRecordRow{}, &WorldRecordRow{}}

type rowKey struct {
	owner string
	boss  string
}

func playerRow(player string, rec *records.BossRecord) PlayerRecordRow {
	s := rec.Stats
	return PlayerRecordRow{
		Player:        player,
		BossKey:       rec.BossKey,
		Kills:         s.Kills,
		Deaths:        s.Deaths,
		Attempts:      s.Attempts,
		DurationBest:  s.DurationBest.OrSentinel(),
		HitsTakenBest: s.HitsTakenBest.OrSentinel(),
		Data:          tag.Marshal(rec.MarshalTag()),
	}
}

func (r PlayerRecordRow) key() rowKey {
	return rowKey{owner: r.Player, boss: r.BossKey}
}

func (r PlayerRecordRow) record() (*records.BossRecord, error) {
	c, err := tag.Unmarshal(r.Data)
	if err != nil {
		return nil, err
	}
	rec := &records.BossRecord{}
	if err := rec.UnmarshalTag(c); err != nil {
		return nil, err
	}
	return rec, nil
}

func worldRow(worldID string, rec *records.WorldRecord) WorldRecordRow {
	s := rec.Stats
	return WorldRecordRow{
		WorldID:         worldID,
		BossKey:         rec.BossKey,
		TotalKills:      s.TotalKills,
		TotalDeaths:     s.TotalDeaths,
		DurationWorld:   s.DurationWorld.OrSentinel(),
		DurationHolder:  datatypes.NewJSONSlice(s.DurationHolder),
		HitsTakenWorld:  s.HitsTakenWorld.OrSentinel(),
		HitsTakenHolder: datatypes.NewJSONSlice(s.HitsTakenHolder),
		Data:            tag.Marshal(rec.MarshalTag()),
	}
}

func (r WorldRecordRow) key() rowKey {
	return rowKey{owner: r.WorldID, boss: r.BossKey}
}

func (r WorldRecordRow) record() (*records.WorldRecord, error) {
	c, err := tag.Unmarshal(r.Data)
	if err != nil {
		return nil, err
	}
	rec := &records.WorldRecord{}
	if err := rec.UnmarshalTag(c); err != nil {
		return nil, err
	}
	return rec, nil
}
