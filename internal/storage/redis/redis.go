// Package redisstorage implements storage.Backend on Redis. Each collection
// is a hash from boss key to the record's binary tag, so a save rewrites
// one hash in a single transaction.
package redisstorage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rijam/BossChecklist/internal/config"
	"github.com/Rijam/BossChecklist/internal/storage"
	"github.com/Rijam/BossChecklist/internal/tracker"
	"github.com/Rijam/BossChecklist/pkg/records"
	"github.com/Rijam/BossChecklist/pkg/tag"
)

const opTimeout = 5 * time.Second

// Backend stores record collections in Redis.
type Backend struct {
	cfg    config.RedisConfig
	client *redis.Client
	owned  bool
}

// New creates a backend that connects on Init.
func New(cfg config.RedisConfig) *Backend {
	return &Backend{cfg: cfg}
}

// NewWithClient uses an existing client. Close leaves it open.
func NewWithClient(client *redis.Client, prefix string) *Backend {
	return &Backend{cfg: config.RedisConfig{Prefix: prefix}, client: client}
}

func (b *Backend) key(parts ...string) string {
	k := b.cfg.Prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (b *Backend) playerKey(id string) string { return b.key("player", id) }
func (b *Backend) worldKey(id string) string  { return b.key("world", id) }
func (b *Backend) playersKey() string         { return b.key("players") }

// Init connects and checks the server answers.
func (b *Backend) Init() error {
	if b.client == nil {
		b.client = redis.NewClient(&redis.Options{
			Addr:     b.cfg.Addr,
			Password: b.cfg.Password,
			DB:       b.cfg.DB,
		})
		b.owned = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}

func (b *Backend) Close() error {
	if b.owned && b.client != nil {
		return b.client.Close()
	}
	return nil
}

func encodeRecords[R interface{ MarshalTag() *tag.Compound }](keyOf func(R) string, recs []R) map[string]any {
	fields := make(map[string]any, len(recs))
	for _, rec := range recs {
		fields[keyOf(rec)] = tag.Marshal(rec.MarshalTag())
	}
	return fields
}

// replace swaps the hash at key for fields.
func (b *Backend) replace(key string, fields map[string]any, also func(context.Context, redis.Pipeliner)) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		if also != nil {
			also(ctx, pipe)
		}
		return nil
	})
	return err
}

func (b *Backend) SavePlayer(p *tracker.PlayerRecords) error {
	fields := encodeRecords(func(r *records.BossRecord) string { return r.BossKey }, p.Records())
	// an empty collection is not listed, matching what LoadPlayer finds
	err := b.replace(b.playerKey(p.Player), fields, func(ctx context.Context, pipe redis.Pipeliner) {
		if len(fields) > 0 {
			pipe.SAdd(ctx, b.playersKey(), p.Player)
		} else {
			pipe.SRem(ctx, b.playersKey(), p.Player)
		}
	})
	if err != nil {
		return fmt.Errorf("save player %s: %w", p.Player, err)
	}
	return nil
}

func (b *Backend) loadHash(key string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return b.client.HGetAll(ctx, key).Result()
}

func (b *Backend) LoadPlayer(player string) (*tracker.PlayerRecords, error) {
	fields, err := b.loadHash(b.playerKey(player))
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", player, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("player %s: %w", player, storage.ErrNotFound)
	}

	p := tracker.NewPlayerRecords(player)
	for boss, blob := range fields {
		rec := &records.BossRecord{}
		if err := decodeInto(blob, rec.UnmarshalTag); err != nil {
			return nil, fmt.Errorf("player %s boss %s: %w", player, boss, err)
		}
		p.Put(rec)
	}
	return p, nil
}

func (b *Backend) Players() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ids, err := b.client.SMembers(ctx, b.playersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (b *Backend) SaveWorld(w *tracker.WorldRecords) error {
	fields := encodeRecords(func(r *records.WorldRecord) string { return r.BossKey }, w.Records())
	if err := b.replace(b.worldKey(w.WorldID), fields, nil); err != nil {
		return fmt.Errorf("save world %s: %w", w.WorldID, err)
	}
	return nil
}

func (b *Backend) LoadWorld(worldID string) (*tracker.WorldRecords, error) {
	fields, err := b.loadHash(b.worldKey(worldID))
	if err != nil {
		return nil, fmt.Errorf("load world %s: %w", worldID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("world %s: %w", worldID, storage.ErrNotFound)
	}

	w := tracker.NewWorldRecords(worldID)
	for boss, blob := range fields {
		rec := &records.WorldRecord{}
		if err := decodeInto(blob, rec.UnmarshalTag); err != nil {
			return nil, fmt.Errorf("world %s boss %s: %w", worldID, boss, err)
		}
		w.Put(rec)
	}
	return w, nil
}

func decodeInto(blob string, unmarshal func(*tag.Compound) error) error {
	c, err := tag.Unmarshal([]byte(blob))
	if err != nil {
		return err
	}
	return unmarshal(c)
}
