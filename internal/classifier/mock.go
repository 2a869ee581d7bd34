package classifier

import (
	"context"
	"slices"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Mock is a Classifier for testing that returns configured predictions.
type Mock struct {
	mu          sync.Mutex
	labels      []string
	predictions []Prediction
	err         error
	loadErr     error
	delay       time.Duration
	ready       bool
	calls       int
}

// NewMock creates a Mock serving the given label set. It is not ready until
// Load is called.
func NewMock(labels ...string) *Mock {
	return &Mock{labels: labels}
}

// SetPredictions configures the predictions returned by Classify.
func (m *Mock) SetPredictions(preds ...Prediction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions = preds
}

// SetError configures an error to be returned by Classify.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetLoadError configures an error to be returned by Load.
func (m *Mock) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// SetDelay makes Classify wait before answering, honoring ctx.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many times Classify was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Load marks the mock ready unless a load error is configured.
func (m *Mock) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return m.loadErr
	}
	m.ready = true
	return nil
}

// Ready reports whether Load succeeded.
func (m *Mock) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Labels returns the configured label set once loaded.
func (m *Mock) Labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return nil
	}
	return slices.Clone(m.labels)
}

// Classify returns the configured predictions. The frame is ignored.
func (m *Mock) Classify(ctx context.Context, frame *gocv.Mat) ([]Prediction, error) {
	m.mu.Lock()
	m.calls++
	ready, delay, err := m.ready, m.delay, m.err
	preds := slices.Clone(m.predictions)
	m.mu.Unlock()

	if !ready {
		return nil, ErrUnavailable
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	return preds, nil
}

// Close marks the mock as no longer ready.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = false
	return nil
}
