// Package player starts and stops the media clip bound to a gesture label.
package player

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
)

var (
	// ErrUnknownLabel is returned when no response is bound to a label.
	ErrUnknownLabel = errors.New("no response bound to label")

	// ErrPlaybackRejected is returned when the output refused to start playback.
	ErrPlaybackRejected = errors.New("playback rejected")

	// ErrNoAudience is returned when a broadcast play reached no viewer.
	ErrNoAudience = errors.New("no connected viewer")
)

// Player defines the interface for response playback implementations.
type Player interface {
	// Play starts the clip bound to label from the beginning, replacing
	// whatever is playing.
	Play(ctx context.Context, label string) error

	// Stop halts playback and rewinds. Stopping an idle player is a no-op.
	Stop(ctx context.Context) error

	// Close releases any resources held by the player.
	Close() error
}

// Library maps gesture labels to media resources.
type Library map[string]string

// Catalog is a Library shared between the dispatcher and the players. It can
// be replaced at runtime when responses are edited.
type Catalog struct {
	mu  sync.RWMutex
	lib Library
}

// NewCatalog creates a Catalog holding a copy of lib.
func NewCatalog(lib Library) *Catalog {
	return &Catalog{lib: maps.Clone(lib)}
}

// Resolve returns the resource bound to label.
func (c *Catalog) Resolve(label string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.lib[label]
	return res, ok && res != ""
}

// Replace swaps in a new mapping.
func (c *Catalog) Replace(lib Library) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lib = maps.Clone(lib)
}

// Snapshot returns a copy of the current mapping.
func (c *Catalog) Snapshot() Library {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.lib)
}

// Labels returns the bound labels in sorted order.
func (c *Catalog) Labels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.lib))
}
