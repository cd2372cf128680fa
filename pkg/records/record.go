package records

import (
	"fmt"

	"github.com/Rijam/BossChecklist/pkg/tag"
)

// BossRecord is a player's record for one boss, keyed by the boss key.
type BossRecord struct {
	BossKey string         `json:"bossKey"`
	Stats   *PersonalStats `json:"stats"`
}

// NewBossRecord creates an empty personal record for bossKey.
func NewBossRecord(bossKey string) *BossRecord {
	return &BossRecord{BossKey: bossKey, Stats: &PersonalStats{}}
}

func (r *BossRecord) String() string {
	return fmt.Sprintf("Personal Records for: '%s'", r.BossKey)
}

// MarshalTag encodes the key and the nested stats.
func (r *BossRecord) MarshalTag() *tag.Compound {
	c := tag.New()
	c.SetString("bossKey", r.BossKey)
	c.SetCompound("stats", r.Stats.MarshalTag())
	return c
}

// UnmarshalTag replaces r with the record in c.
func (r *BossRecord) UnmarshalTag(c *tag.Compound) error {
	key, stats, err := unmarshalKeyed(c)
	if err != nil {
		return fmt.Errorf("boss record: %w", err)
	}
	ps := &PersonalStats{}
	if err := ps.UnmarshalTag(stats); err != nil {
		return fmt.Errorf("boss record %q: %w", key, err)
	}
	r.BossKey = key
	r.Stats = ps
	return nil
}

// WorldRecord is a world's record for one boss, keyed by the boss key.
type WorldRecord struct {
	BossKey string      `json:"bossKey"`
	Stats   *WorldStats `json:"stats"`
}

// NewWorldRecord creates an empty world record for bossKey.
func NewWorldRecord(bossKey string) *WorldRecord {
	return &WorldRecord{BossKey: bossKey, Stats: &WorldStats{}}
}

func (r *WorldRecord) String() string {
	return fmt.Sprintf("World Records for: '%s'", r.BossKey)
}

// MarshalTag encodes the key and the nested stats.
func (r *WorldRecord) MarshalTag() *tag.Compound {
	c := tag.New()
	c.SetString("bossKey", r.BossKey)
	c.SetCompound("stats", r.Stats.MarshalTag())
	return c
}

// UnmarshalTag replaces r with the record in c.
func (r *WorldRecord) UnmarshalTag(c *tag.Compound) error {
	key, stats, err := unmarshalKeyed(c)
	if err != nil {
		return fmt.Errorf("world record: %w", err)
	}
	ws := &WorldStats{}
	if err := ws.UnmarshalTag(stats); err != nil {
		return fmt.Errorf("world record %q: %w", key, err)
	}
	r.BossKey = key
	r.Stats = ws
	return nil
}

func unmarshalKeyed(c *tag.Compound) (string, *tag.Compound, error) {
	key, err := c.GetString("bossKey")
	if err != nil {
		return "", nil, err
	}
	stats, err := c.GetCompound("stats")
	if err != nil {
		return "", nil, err
	}
	return key, stats, nil
}
