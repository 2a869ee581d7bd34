package dispatch

import (
	"fmt"
	"time"
)

// ConfirmPolicy selects how the confirmed label is updated.
type ConfirmPolicy string

const (
	// ConfirmImmediate replaces the confirmed label on every accepted tick.
	ConfirmImmediate ConfirmPolicy = "immediate"
	// ConfirmSticky keeps the first accepted label until it is consumed by
	// Confirm or cleared by Reset.
	ConfirmSticky ConfirmPolicy = "sticky"
)

// ParseConfirmPolicy parses "immediate" or "sticky".
func ParseConfirmPolicy(s string) (ConfirmPolicy, error) {
	switch p := ConfirmPolicy(s); p {
	case ConfirmImmediate, ConfirmSticky:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Defaults.
const (
	DefaultThreshold   = 0.85
	DefaultTickTimeout = 2 * time.Second
)

// Config holds the dispatch policy.
type Config struct {
	// Threshold is the minimum probability (inclusive) for a prediction to
	// be acted on.
	Threshold float64 `json:"threshold"`

	Confirm ConfirmPolicy `json:"confirm"`

	// AutoStop stops playback when the top prediction falls below Threshold.
	AutoStop bool `json:"auto_stop"`

	// RestartOnRepeat rewinds the clip when the playing label is accepted again.
	RestartOnRepeat bool `json:"restart_on_repeat"`

	// TickTimeout bounds one classification.
	TickTimeout time.Duration `json:"tick_timeout"`
}

// DefaultConfig returns the auto-play policy with auto-stop enabled.
func DefaultConfig() Config {
	return Config{
		Threshold:   DefaultThreshold,
		Confirm:     ConfirmImmediate,
		AutoStop:    true,
		TickTimeout: DefaultTickTimeout,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !(c.Threshold > 0 && c.Threshold <= 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, c.Threshold)
	}
	if _, err := ParseConfirmPolicy(string(c.Confirm)); err != nil {
		return err
	}
	if c.TickTimeout < 0 {
		return fmt.Errorf("tick timeout must not be negative: %v", c.TickTimeout)
	}
	return nil
}
