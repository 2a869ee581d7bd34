// Package dispatch turns classifier output into player actions.
//
// Each tick classifies one frame, picks the most probable label and applies
// the confidence policy:
//
//   - top >= threshold and a response is bound: PLAY(label)
//   - top >= threshold, no response bound: NONE, the label is only surfaced
//   - top < threshold while playing with auto-stop: STOP
//   - otherwise: NONE
//
// State is owned by the caller and threaded through every call, so a
// Dispatcher holds no per-run state of its own.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/player"
)

// Resolver maps a label to its response resource.
type Resolver interface {
	Resolve(label string) (string, bool)
}

// Dispatcher runs ticks against a classifier and a player.
// It must only be used from one goroutine at a time.
type Dispatcher struct {
	config     Config
	classifier classifier.Classifier
	player     player.Player
	resolver   Resolver
	now        func() time.Time
}

// New creates a Dispatcher. The configuration is validated.
func New(config Config, c classifier.Classifier, p player.Player, r Resolver) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		config:     config,
		classifier: c,
		player:     p,
		resolver:   r,
		now:        time.Now,
	}, nil
}

// Config returns the active configuration.
func (d *Dispatcher) Config() Config {
	return d.config
}

// SetConfig replaces the policy. Playback already under way is untouched.
func (d *Dispatcher) SetConfig(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	d.config = config
	return nil
}

// Tick classifies frame and applies the resulting action to the player.
//
// A classifier that is not ready or that misses the tick deadline yields an
// error wrapping classifier.ErrUnavailable; the caller should skip the tick
// and try again on the next one. Playback failures return the decided
// Outcome together with an error in PhasePlay, and record the label in
// st.PendingManual.
func (d *Dispatcher) Tick(ctx context.Context, st *State, frame *gocv.Mat) (Outcome, error) {
	if !d.classifier.Ready() {
		return Outcome{}, &Error{Phase: PhasePredict, Err: classifier.ErrUnavailable}
	}

	preds, err := d.classify(ctx, frame)
	if err != nil {
		return Outcome{}, err
	}

	out := Decide(d.config, d.resolver, st, preds)
	out.At = d.now()

	err = d.apply(ctx, st, &out)
	return out, err
}

func (d *Dispatcher) classify(ctx context.Context, frame *gocv.Mat) ([]classifier.Prediction, error) {
	tctx := ctx
	if d.config.TickTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, d.config.TickTimeout)
		defer cancel()
	}

	preds, err := d.classifier.Classify(tctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, classifier.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", classifier.ErrUnavailable, err)
		}
		return nil, &Error{Phase: PhasePredict, Err: err}
	}

	if err := classifier.Validate(preds, d.classifier.Labels()); err != nil {
		return nil, &Error{Phase: PhasePredict, Err: err}
	}

	return preds, nil
}

// Decide applies the confidence policy to a validated prediction set. It
// updates st.ConfirmedLabel but leaves playback fields to the caller.
func Decide(config Config, r Resolver, st *State, preds []classifier.Prediction) Outcome {
	top, _ := Top(preds)

	out := Outcome{
		TopLabel:       top.Label,
		TopProbability: top.Probability,
		Action:         Action{Kind: ActionNone},
		Predictions:    preds,
	}

	if top.Probability >= config.Threshold {
		out.Accepted = true

		resource, ok := r.Resolve(top.Label)
		if !ok {
			return out
		}

		out.Recognized = true
		out.Action = Action{Kind: ActionPlay, Label: top.Label, Resource: resource}

		if config.Confirm == ConfirmSticky {
			if st.ConfirmedLabel == "" {
				st.ConfirmedLabel = top.Label
			}
		} else {
			st.ConfirmedLabel = top.Label
		}
		return out
	}

	if st.Playing && config.AutoStop {
		out.Action = Action{Kind: ActionStop, Label: st.PlayingLabel}
	}
	return out
}

// Top returns the prediction with the highest probability. Ties go to the
// earliest prediction. ok is false for an empty slice.
func Top(preds []classifier.Prediction) (top classifier.Prediction, ok bool) {
	if len(preds) == 0 {
		return classifier.Prediction{}, false
	}
	top = preds[0]
	for _, p := range preds[1:] {
		if p.Probability > top.Probability {
			top = p
		}
	}
	return top, true
}

// apply drives the player state machine:
//
//	STOPPED    --PLAY(l)--> PLAYING(l)
//	PLAYING(l) --PLAY(l)--> PLAYING(l)  (no restart unless RestartOnRepeat)
//	PLAYING(a) --PLAY(b)--> PLAYING(b)  (restarted)
//	PLAYING(l) --STOP-----> STOPPED
func (d *Dispatcher) apply(ctx context.Context, st *State, out *Outcome) error {
	switch out.Action.Kind {
	case ActionPlay:
		label := out.Action.Label
		if st.Playing && st.PlayingLabel == label && !d.config.RestartOnRepeat {
			return nil
		}
		if st.PendingManual == label {
			// Autoplay was already refused for this clip; wait for the manual trigger.
			return nil
		}
		out.Applied = true
		return d.play(ctx, st, label)

	case ActionStop:
		out.Applied = true
		err := d.player.Stop(ctx)
		st.Playing = false
		st.PlayingLabel = ""
		if err != nil {
			return &Error{Phase: PhasePlay, Err: err}
		}
	}
	return nil
}

func (d *Dispatcher) play(ctx context.Context, st *State, label string) error {
	if err := d.player.Play(ctx, label); err != nil {
		st.Playing = false
		st.PlayingLabel = ""
		st.PendingManual = label
		return &Error{Phase: PhasePlay, Label: label, Err: err}
	}
	st.Playing = true
	st.PlayingLabel = label
	st.PendingManual = ""
	return nil
}

// Confirm is the manual trigger. It plays the label waiting for a manual
// start, or else the confirmed label, from the beginning, and consumes the
// confirmation.
func (d *Dispatcher) Confirm(ctx context.Context, st *State) (Outcome, error) {
	label := st.PendingManual
	if label == "" {
		label = st.ConfirmedLabel
	}
	if label == "" {
		return Outcome{}, ErrNothingConfirmed
	}

	resource, ok := d.resolver.Resolve(label)
	if !ok {
		return Outcome{}, &Error{Phase: PhasePlay, Label: label, Err: player.ErrUnknownLabel}
	}

	out := Outcome{
		TopLabel:   label,
		Accepted:   true,
		Recognized: true,
		Action:     Action{Kind: ActionPlay, Label: label, Resource: resource},
		Applied:    true,
		At:         d.now(),
	}

	if err := d.play(ctx, st, label); err != nil {
		return out, err
	}
	st.ConfirmedLabel = ""
	return out, nil
}

// Reset stops playback and clears the confirmed and pending labels.
func (d *Dispatcher) Reset(ctx context.Context, st *State) error {
	var err error
	if st.Playing {
		if stopErr := d.player.Stop(ctx); stopErr != nil {
			err = &Error{Phase: PhasePlay, Err: stopErr}
		}
	}
	*st = State{}
	return err
}
