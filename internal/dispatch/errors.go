package dispatch

import (
	"errors"
	"fmt"
)

// Phase names the stage of the loop an error came from.
type Phase string

const (
	PhaseInit    Phase = "init"
	PhaseCapture Phase = "capture"
	PhasePredict Phase = "predict"
	PhasePlay    Phase = "play"
)

var (
	// ErrNothingConfirmed is returned by Confirm when no gesture is waiting.
	ErrNothingConfirmed = errors.New("no confirmed gesture")

	// ErrInvalidThreshold is returned for thresholds outside (0, 1].
	ErrInvalidThreshold = errors.New("threshold must be in (0, 1]")

	// ErrInvalidPolicy is returned for an unknown confirm policy.
	ErrInvalidPolicy = errors.New("unknown confirm policy")
)

// Error carries the phase (and label, when known) an error occurred in.
type Error struct {
	Phase Phase
	Label string
	Err   error
}

func (e *Error) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("%s %s: %v", e.Phase, e.Label, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PhaseOf returns the phase recorded in err, or "" if err carries none.
func PhaseOf(err error) Phase {
	var de *Error
	if errors.As(err, &de) {
		return de.Phase
	}
	return ""
}
