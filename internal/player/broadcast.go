package player

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
)

// MediaRoute is the URL prefix under which relative resources are served.
const MediaRoute = "/media/"

// Command types sent to viewers.
const (
	CommandPlay = "play"
	CommandStop = "stop"
)

// Command tells connected viewers to play or stop a clip.
type Command struct {
	Type     string `json:"type"`
	Label    string `json:"label,omitempty"`
	Resource string `json:"resource,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Publisher delivers a message to connected viewers and reports how many
// received it.
type Publisher interface {
	Publish(msg any) int
}

// Broadcast plays responses in connected browsers: the viewer page owns the
// video element and obeys play/stop commands.
type Broadcast struct {
	catalog *Catalog
	pub     Publisher

	mu      sync.Mutex
	playing string
}

// NewBroadcast creates a Broadcast player publishing through pub.
func NewBroadcast(catalog *Catalog, pub Publisher) *Broadcast {
	return &Broadcast{catalog: catalog, pub: pub}
}

// Play publishes a play command. It fails with ErrNoAudience when nobody is
// connected to watch.
func (b *Broadcast) Play(ctx context.Context, label string) error {
	resource, ok := b.catalog.Resolve(label)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLabel, label)
	}

	n := b.pub.Publish(Command{
		Type:     CommandPlay,
		Label:    label,
		Resource: resource,
		URL:      MediaURL(resource),
	})
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNoAudience, label)
	}

	b.mu.Lock()
	b.playing = label
	b.mu.Unlock()
	return nil
}

// Stop publishes a stop command.
func (b *Broadcast) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.playing = ""
	b.mu.Unlock()

	b.pub.Publish(Command{Type: CommandStop})
	return nil
}

// Playing returns the label last sent to viewers.
func (b *Broadcast) Playing() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing, b.playing != ""
}

// Close is a no-op; the hub owns the connections.
func (b *Broadcast) Close() error {
	return nil
}

// MediaURL returns the URL a browser should load for resource. Absolute
// URLs pass through, anything else is served under MediaRoute.
func MediaURL(resource string) string {
	if strings.Contains(resource, "://") {
		return resource
	}
	return path.Join(MediaRoute, strings.TrimPrefix(path.Clean("/"+resource), "/"))
}
