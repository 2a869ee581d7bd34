// Package classifier provides image classification of camera frames into a
// closed set of gesture labels.
package classifier

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

var (
	// ErrUnavailable is returned when the classifier has not finished loading,
	// has been closed, or did not answer within the tick deadline.
	ErrUnavailable = errors.New("classifier unavailable")

	// ErrMalformedPrediction is returned when a classification result does not
	// have the required shape.
	ErrMalformedPrediction = errors.New("malformed prediction")

	// ErrEmptyFrame is returned when classification is asked for a nil or empty frame.
	ErrEmptyFrame = errors.New("empty frame")
)

// Classifier defines the interface for frame classification implementations.
type Classifier interface {
	// Load prepares the model. It must complete before Classify succeeds.
	Load(ctx context.Context) error

	// Ready reports whether Load has completed and the model can serve.
	Ready() bool

	// Labels returns the closed label set in the model's output order.
	// Returns nil before Load completes.
	Labels() []string

	// Classify returns one Prediction per known label for the given frame.
	Classify(ctx context.Context, frame *gocv.Mat) ([]Prediction, error)

	// Close releases any resources held by the classifier.
	Close() error
}
