package dispatch

import (
	"fmt"
	"time"

	"github.com/ayusman/mudra/internal/classifier"
)

// ActionKind is what a tick asks of the player.
type ActionKind string

const (
	ActionNone ActionKind = "NONE"
	ActionPlay ActionKind = "PLAY"
	ActionStop ActionKind = "STOP"
)

// Action is the player instruction decided for one tick.
type Action struct {
	Kind     ActionKind `json:"kind"`
	Label    string     `json:"label,omitempty"`
	Resource string     `json:"resource,omitempty"`
}

func (a Action) String() string {
	if a.Kind == ActionPlay {
		return fmt.Sprintf("PLAY(%s)", a.Label)
	}
	if a.Kind == "" {
		return string(ActionNone)
	}
	return string(a.Kind)
}

// Outcome is the result of one tick.
type Outcome struct {
	TopLabel       string  `json:"top_label"`
	TopProbability float64 `json:"top_probability"`

	// Accepted reports TopProbability >= threshold.
	Accepted bool `json:"accepted"`

	// Recognized reports an accepted label with a bound response.
	Recognized bool `json:"recognized"`

	Action Action `json:"action"`

	// Applied reports whether the player was invoked. A repeated PLAY of the
	// clip already playing is decided but not applied unless restarts are on.
	Applied bool `json:"applied"`

	Predictions []classifier.Prediction `json:"predictions,omitempty"`
	At          time.Time               `json:"at"`
}

// TopPercent returns the top probability as a rounded percentage.
func (o Outcome) TopPercent() int {
	return classifier.Prediction{Label: o.TopLabel, Probability: o.TopProbability}.Percent()
}

// State is the mutable dispatch state. One value is owned by the loop and
// passed to every Tick.
type State struct {
	// ConfirmedLabel is the last label to cross the threshold; "" when none.
	ConfirmedLabel string `json:"confirmed_label,omitempty"`

	Playing      bool   `json:"playing"`
	PlayingLabel string `json:"playing_label,omitempty"`

	// PendingManual is a label whose playback was rejected and which now
	// waits for a manual trigger.
	PendingManual string `json:"pending_manual,omitempty"`
}

// HasConfirmed reports whether a confirmed label is held.
func (s State) HasConfirmed() bool {
	return s.ConfirmedLabel != ""
}
