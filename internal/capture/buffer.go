package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// FrameBuffer holds the most recent frame as JPEG so preview clients can
// watch the camera without competing with the dispatch loop for it.
type FrameBuffer struct {
	mu       sync.Mutex
	jpeg     []byte
	seq      uint64
	updated  chan struct{}
	watchers atomic.Int32
}

// NewFrameBuffer returns an empty buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{updated: make(chan struct{})}
}

// Watch registers a viewer; the returned func unregisters it.
func (b *FrameBuffer) Watch() (release func()) {
	b.watchers.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { b.watchers.Add(-1) })
	}
}

// Watching reports whether any viewer is registered.
func (b *FrameBuffer) Watching() bool {
	return b.watchers.Load() > 0
}

// Store encodes frame as JPEG and publishes it.
func (b *FrameBuffer) Store(frame *gocv.Mat) error {
	if frame == nil || frame.Empty() {
		return fmt.Errorf("store frame: empty")
	}
	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	b.Publish(data)
	return nil
}

// Publish replaces the current JPEG and wakes waiting viewers.
func (b *FrameBuffer) Publish(jpeg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jpeg = jpeg
	b.seq++
	close(b.updated)
	b.updated = make(chan struct{})
}

// Latest returns the current JPEG and its sequence number. seq is zero until
// the first frame is published.
func (b *FrameBuffer) Latest() (jpeg []byte, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jpeg, b.seq
}

// Next blocks until a frame newer than after is published or ctx is done.
func (b *FrameBuffer) Next(ctx context.Context, after uint64) ([]byte, uint64, error) {
	for {
		b.mu.Lock()
		if b.seq > after {
			jpeg, seq := b.jpeg, b.seq
			b.mu.Unlock()
			return jpeg, seq, nil
		}
		updated := b.updated
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, after, ctx.Err()
		case <-updated:
		}
	}
}
