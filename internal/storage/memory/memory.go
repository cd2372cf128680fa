// Package memory keeps record collections as binary tag blobs in memory and
// writes them out as tag files on Close.
package memory

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/Rijam/BossChecklist/internal/config"
	"github.com/Rijam/BossChecklist/internal/storage"
	"github.com/Rijam/BossChecklist/internal/tracker"
	"github.com/Rijam/BossChecklist/pkg/tag"
)

const (
	playerPrefix = "player_"
	worldPrefix  = "world_"
	tagExt       = ".tag"
	gzipExt      = ".gz"
)

// Backend stores encoded collections in memory.
type Backend struct {
	cfg     config.MemoryConfig
	players map[string][]byte
	worlds  map[string][]byte

	exported []string
	mu       sync.RWMutex
}

// New creates a new memory backend. With an empty OutputDir nothing is read
// or written on disk.
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:     cfg,
		players: make(map[string][]byte),
		worlds:  make(map[string][]byte),
	}
}

// Init loads any tag files previously exported to OutputDir.
func (b *Backend) Init() error {
	if b.cfg.OutputDir == "" {
		return nil
	}

	entries, err := os.ReadDir(b.cfg.OutputDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, tagExt) || strings.HasSuffix(name, tagExt+gzipExt)) {
			continue
		}

		data, err := readTagFile(filepath.Join(b.cfg.OutputDir, name))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		c, err := tag.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", name, err)
		}

		switch {
		case strings.HasPrefix(name, playerPrefix):
			id, err := c.GetString("player")
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			b.players[id] = data
		case strings.HasPrefix(name, worldPrefix):
			id, err := c.GetString("world")
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			b.worlds[id] = data
		}
	}
	return nil
}

// Close exports every collection to OutputDir.
func (b *Backend) Close() error {
	if b.cfg.OutputDir == "" {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	b.exported = b.exported[:0]
	for id, data := range b.players {
		if err := b.export(playerPrefix, id, data); err != nil {
			return err
		}
	}
	for id, data := range b.worlds {
		if err := b.export(worldPrefix, id, data); err != nil {
			return err
		}
	}
	slices.Sort(b.exported)
	return nil
}

// ExportedFiles returns the paths written by the last Close.
func (b *Backend) ExportedFiles() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.exported)
}

func (b *Backend) SavePlayer(p *tracker.PlayerRecords) error {
	data := tag.Marshal(p.MarshalTag())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.players[p.Player] = data
	return nil
}

func (b *Backend) LoadPlayer(player string) (*tracker.PlayerRecords, error) {
	b.mu.RLock()
	data, ok := b.players[player]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("player %s: %w", player, storage.ErrNotFound)
	}

	c, err := tag.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	p := tracker.NewPlayerRecords(player)
	if err := p.UnmarshalTag(c); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Backend) Players() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.players))
	for id := range b.players {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (b *Backend) SaveWorld(w *tracker.WorldRecords) error {
	data := tag.Marshal(w.MarshalTag())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.worlds[w.WorldID] = data
	return nil
}

func (b *Backend) LoadWorld(worldID string) (*tracker.WorldRecords, error) {
	b.mu.RLock()
	data, ok := b.worlds[worldID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("world %s: %w", worldID, storage.ErrNotFound)
	}

	c, err := tag.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	w := tracker.NewWorldRecords(worldID)
	if err := w.UnmarshalTag(c); err != nil {
		return nil, err
	}
	return w, nil
}

// export writes one collection. File names escape the id; the id stored
// inside the file is the one used on load.
func (b *Backend) export(prefix, id string, data []byte) error {
	filename := prefix + url.QueryEscape(id) + tagExt
	if b.cfg.CompressOutput {
		filename += gzipExt
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := writeTagFile(outputPath, data, b.cfg.CompressOutput); err != nil {
		return err
	}
	b.exported = append(b.exported, outputPath)
	return nil
}

func writeTagFile(path string, data []byte, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if !compress {
		_, err = f.Write(data)
		return err
	}

	gzWriter := gzip.NewWriter(f)
	if _, err := gzWriter.Write(data); err != nil {
		return err
	}
	return gzWriter.Close()
}

func readTagFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !strings.HasSuffix(path, gzipExt) {
		return io.ReadAll(f)
	}

	gzReader, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gzReader.Close()
	return io.ReadAll(gzReader)
}
