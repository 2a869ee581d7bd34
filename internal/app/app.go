// Package app runs the gesture dispatch loop: it owns the camera, the
// classifier, the player and the dispatch state, and serializes every change
// to that state onto a single goroutine.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/dispatch"
	"github.com/ayusman/mudra/internal/log"
	"github.com/ayusman/mudra/internal/player"
	"github.com/ayusman/mudra/internal/store"
)

var (
	// ErrInit is returned by Run when the model or the camera could not be
	// started. The loop does not retry.
	ErrInit = errors.New("initialization failed")

	// ErrNotRunning is returned by loop commands while no loop is running.
	ErrNotRunning = errors.New("dispatch loop is not running")
)

// Defaults for Config fields left zero.
const (
	DefaultMotionThreshold = 1.0
	DefaultActiveFPS       = 15
	DefaultIdleFPS         = 5
)

// Config holds configuration options for the application.
type Config struct {
	Dispatch dispatch.Config

	ActiveFPS int
	IdleFPS   int
	// MotionThreshold is the percentage of changed pixels that counts as
	// motion and switches the loop to ActiveFPS.
	MotionThreshold float64

	// HistoryCap bounds the detections table; 0 keeps everything.
	HistoryCap int
}

// Components are the collaborators the App drives. Store is optional.
type Components struct {
	Camera     capture.Camera
	Classifier classifier.Classifier
	Player     player.Player
	Catalog    *player.Catalog
	Store      *store.Store
}

// command is a request executed on the loop goroutine between ticks.
type command struct {
	run   func(ctx context.Context) error
	reply chan error
}

// App is the main application that runs the dispatch loop.
type App struct {
	config     Config
	camera     capture.Camera
	motion     *capture.MotionDetector
	classifier classifier.Classifier
	player     player.Player
	catalog    *player.Catalog
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	frames     *capture.FrameBuffer

	// state is only touched by the goroutine executing Run.
	state dispatch.State

	commands chan command

	mu        sync.RWMutex
	running   bool
	enabled   bool
	snap      Snapshot
	observers []func(Event)
	lastErr   string
}

// New creates an App. The dispatch policy is validated.
func New(cfg Config, c Components) (*App, error) {
	if c.Camera == nil || c.Classifier == nil || c.Player == nil || c.Catalog == nil {
		return nil, errors.New("app: camera, classifier, player and catalog are required")
	}
	if cfg.ActiveFPS <= 0 {
		cfg.ActiveFPS = DefaultActiveFPS
	}
	if cfg.IdleFPS <= 0 {
		cfg.IdleFPS = DefaultIdleFPS
	}
	if cfg.MotionThreshold <= 0 {
		cfg.MotionThreshold = DefaultMotionThreshold
	}

	d, err := dispatch.New(cfg.Dispatch, c.Classifier, c.Player, c.Catalog)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:     cfg,
		camera:     c.Camera,
		motion:     capture.NewMotionDetector(cfg.MotionThreshold),
		classifier: c.Classifier,
		player:     c.Player,
		catalog:    c.Catalog,
		store:      c.Store,
		dispatcher: d,
		frames:     capture.NewFrameBuffer(),
		commands:   make(chan command),
		enabled:    true,
	}
	a.snap = Snapshot{
		Run:     RunIdle,
		Enabled: true,
		Config:  cfg.Dispatch,
		Status:  Status{Level: LevelInfo, Message: "idle", At: time.Now()},
	}
	return a, nil
}

// OnEvent registers an observer. Observers run on the loop goroutine and
// must not block.
func (a *App) OnEvent(fn func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, fn)
}

// Frames returns the buffer holding the latest camera frame.
func (a *App) Frames() *capture.FrameBuffer {
	return a.frames
}

// Catalog returns the label to resource mapping used for dispatch.
func (a *App) Catalog() *player.Catalog {
	return a.catalog
}

// Store returns the backing store, which may be nil.
func (a *App) Store() *store.Store {
	return a.store
}

// SetEnabled enables or disables dispatch. A disabled loop keeps running but
// skips ticks.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.snap.Enabled = enabled
	a.mu.Unlock()

	if enabled {
		a.setStatus(Status{Level: LevelInfo, Message: "detection enabled"})
	} else {
		a.setStatus(Status{Level: LevelInfo, Message: "detection paused"})
	}
}

// IsEnabled reports whether dispatch is enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Snapshot returns a copy of the observable state.
func (a *App) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.snap
	s.Labels = slices.Clone(s.Labels)
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	return s
}

// Confirm plays the label waiting for a manual trigger, or the confirmed
// label. It is the manual fallback when autoplay was refused.
func (a *App) Confirm(ctx context.Context) (dispatch.Outcome, error) {
	var out dispatch.Outcome
	err := a.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = a.dispatcher.Confirm(ctx, &a.state)
		if out.Applied {
			a.publishOutcome(out)
		}
		if err == nil {
			a.record(out)
		}
		a.publishState()
		if err != nil {
			a.report(err)
		}
		return err
	})
	return out, err
}

// Reset stops playback and clears the confirmed and pending labels.
func (a *App) Reset(ctx context.Context) error {
	return a.do(ctx, func(ctx context.Context) error {
		err := a.dispatcher.Reset(ctx, &a.state)
		a.publishState()
		if err != nil {
			a.report(err)
			return err
		}
		a.setStatus(Status{Level: LevelInfo, Message: "reset"})
		return nil
	})
}

// PlaybackBlocked records that a viewer refused to start label, so it waits
// for the manual trigger instead of being retried on every tick.
func (a *App) PlaybackBlocked(ctx context.Context, label string) error {
	return a.do(ctx, func(ctx context.Context) error {
		if label == "" {
			label = a.state.PlayingLabel
		}
		if label == "" {
			return nil
		}
		if a.state.PlayingLabel == label {
			a.state.Playing = false
			a.state.PlayingLabel = ""
		}
		a.state.PendingManual = label
		a.publishState()
		a.report(&dispatch.Error{Phase: dispatch.PhasePlay, Label: label, Err: player.ErrPlaybackRejected})
		return nil
	})
}

// UpdateSettings replaces the dispatch policy and persists it. When the loop
// is not running the policy is applied directly and used by the next Run.
func (a *App) UpdateSettings(ctx context.Context, cfg dispatch.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	apply := func(context.Context) error {
		if err := a.dispatcher.SetConfig(cfg); err != nil {
			return err
		}
		a.mu.Lock()
		a.config.Dispatch = cfg
		a.snap.Config = cfg
		a.mu.Unlock()
		return nil
	}

	var err error
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		err = a.do(ctx, apply)
	} else {
		// No loop owns the dispatcher; the lock keeps Run from starting one.
		if err = a.dispatcher.SetConfig(cfg); err == nil {
			a.config.Dispatch = cfg
			a.snap.Config = cfg
		}
		a.mu.Unlock()
	}
	if err != nil {
		return err
	}

	if a.store != nil {
		if err := a.store.Settings().SetAll(config.Settings(cfg)); err != nil {
			return fmt.Errorf("persist settings: %w", err)
		}
	}
	log.Info("settings updated",
		"threshold", cfg.Threshold,
		"confirm", cfg.Confirm,
		"auto_stop", cfg.AutoStop,
		"restart_on_repeat", cfg.RestartOnRepeat,
	)
	return nil
}

// ReloadResponses refreshes the catalog from the store.
func (a *App) ReloadResponses() error {
	if a.store == nil {
		return nil
	}
	lib, err := a.store.Responses().Library()
	if err != nil {
		return fmt.Errorf("load responses: %w", err)
	}
	a.catalog.Replace(lib)
	log.Info("responses loaded", "count", len(lib))
	return nil
}

// do runs fn on the loop goroutine and waits for it.
func (a *App) do(ctx context.Context, fn func(ctx context.Context) error) error {
	a.mu.RLock()
	running := a.running
	a.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}

	cmd := command{run: fn, reply: make(chan error, 1)}
	select {
	case a.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.commandTimeout()):
		return ErrNotRunning
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// commandTimeout bounds how long a command waits for the loop to pick it up.
// A tick in progress holds the loop for at most the tick timeout.
func (a *App) commandTimeout() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Dispatch.TickTimeout + time.Second
}

func (a *App) emit(ev Event) {
	a.mu.RLock()
	observers := slices.Clone(a.observers)
	a.mu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}

func (a *App) setStatus(s Status) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	a.mu.Lock()
	a.snap.Status = s
	a.mu.Unlock()
	a.emit(Event{Type: EventStatus, Status: &s})
}

func (a *App) setRun(r RunState) {
	a.mu.Lock()
	a.snap.Run = r
	a.mu.Unlock()
}

func (a *App) publishOutcome(out dispatch.Outcome) {
	a.mu.Lock()
	a.snap.Last = &out
	a.mu.Unlock()
	a.emit(Event{Type: EventOutcome, Outcome: &out})
}

func (a *App) publishState() {
	st := a.state
	a.mu.Lock()
	changed := a.snap.State != st
	a.snap.State = st
	a.mu.Unlock()
	if changed {
		a.emit(Event{Type: EventState, State: &st})
	}
}

// report logs err with its phase and publishes it as the visible status.
// Repeats of the previous error are logged at debug level only.
func (a *App) report(err error) {
	var de *dispatch.Error
	phase, label := dispatch.Phase(""), ""
	if errors.As(err, &de) {
		phase, label = de.Phase, de.Label
	}

	msg := err.Error()
	a.mu.Lock()
	repeated := a.lastErr == msg
	a.lastErr = msg
	a.mu.Unlock()

	logger := log.With("phase", phase, "label", label)
	if repeated {
		logger.Debug("dispatch error", "error", err)
		return
	}

	level := LevelWarn
	switch {
	case errors.Is(err, ErrInit):
		level = LevelError
		logger.Error("dispatch error", "error", err)
	case errors.Is(err, player.ErrPlaybackRejected), errors.Is(err, player.ErrNoAudience):
		msg = fmt.Sprintf("could not start %q automatically; use Play to start it", label)
		logger.Warn("playback blocked", "error", err)
	default:
		logger.Warn("dispatch error", "error", err)
	}

	a.setStatus(Status{Level: level, Phase: phase, Label: label, Message: msg})
}

// clearError publishes a recovery status after a run of errors.
func (a *App) clearError() {
	a.mu.Lock()
	had := a.lastErr != ""
	a.lastErr = ""
	a.mu.Unlock()
	if had {
		a.setStatus(Status{Level: LevelInfo, Message: "running"})
	}
}

// record stores an applied outcome in the detection history.
func (a *App) record(out dispatch.Outcome) {
	if a.store == nil || !out.Applied {
		return
	}

	label := out.Action.Label
	if label == "" {
		label = out.TopLabel
	}
	d := &store.Detection{
		Label:       label,
		Probability: out.TopProbability,
		Action:      string(out.Action.Kind),
		CreatedAt:   out.At,
	}
	if err := a.store.Detections().Record(d); err != nil {
		log.Warn("failed to record detection", "label", label, "error", err)
		return
	}
	if a.config.HistoryCap > 0 {
		if _, err := a.store.Detections().Prune(a.config.HistoryCap); err != nil {
			log.Warn("failed to prune detections", "error", err)
		}
	}
}
