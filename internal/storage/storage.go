// Package storage persists player and world record collections between
// sessions.
package storage

import (
	"errors"
	"fmt"

	"github.com/Rijam/BossChecklist/internal/tracker"
)

// ErrNotFound is returned when no records are stored under an id.
var ErrNotFound = errors.New("records not found")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Personal records, one collection per player
	SavePlayer(p *tracker.PlayerRecords) error
	LoadPlayer(player string) (*tracker.PlayerRecords, error)
	Players() ([]string, error)

	// World records, one collection per world
	SaveWorld(w *tracker.WorldRecords) error
	LoadWorld(worldID string) (*tracker.WorldRecords, error)
}

// Restore loads every stored player and the world records of worldID
// into a.
func Restore(b Backend, a *tracker.Authority, worldID string) error {
	players, err := b.Players()
	if err != nil {
		return fmt.Errorf("list players: %w", err)
	}
	for _, id := range players {
		p, err := b.LoadPlayer(id)
		if err != nil {
			return fmt.Errorf("load player %s: %w", id, err)
		}
		a.AddPlayer(p)
	}

	w, err := b.LoadWorld(worldID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load world %s: %w", worldID, err)
	}
	a.SetWorld(w)
	return nil
}

// Persist saves every player and the world records held by a.
func Persist(b Backend, a *tracker.Authority) error {
	err := a.EachPlayer(b.SavePlayer)
	return errors.Join(err, a.World(b.SaveWorld))
}
