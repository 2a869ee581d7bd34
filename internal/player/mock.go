package player

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is a Player for testing. It models a playback position so tests can
// tell a restart from a continued clip.
type Mock struct {
	catalog *Catalog

	mu       sync.Mutex
	label    string
	playing  bool
	position time.Duration
	starts   int
	stops    int
	playErr  error
	calls    []string
}

// NewMock creates a Mock resolving labels through catalog.
func NewMock(catalog *Catalog) *Mock {
	return &Mock{catalog: catalog}
}

// SetPlayError configures an error returned by every Play call.
func (m *Mock) SetPlayError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

// Play starts label from position zero.
func (m *Mock) Play(ctx context.Context, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "play:"+label)
	if m.playErr != nil {
		return m.playErr
	}
	if _, ok := m.catalog.Resolve(label); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLabel, label)
	}

	m.label = label
	m.playing = true
	m.position = 0
	m.starts++
	return nil
}

// Stop halts and rewinds.
func (m *Mock) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "stop")
	m.label = ""
	m.playing = false
	m.position = 0
	m.stops++
	return nil
}

// Close is a no-op.
func (m *Mock) Close() error {
	return nil
}

// Advance moves the playback position forward while playing.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playing {
		m.position += d
	}
}

// Playing returns the current label and whether a clip is playing.
func (m *Mock) Playing() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.label, m.playing
}

// Position returns the current playback position.
func (m *Mock) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Starts returns how many times playback was (re)started.
func (m *Mock) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Stops returns how many times Stop was called.
func (m *Mock) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Calls returns the sequence of calls received.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
