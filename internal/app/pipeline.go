package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/dispatch"
	"github.com/ayusman/mudra/internal/log"
)

// Run loads the classifier, opens the camera and runs the dispatch loop until
// ctx is cancelled. Initialization failures are returned wrapped in ErrInit;
// per-tick failures are reported and the loop continues. Run returns nil on
// cancellation and releases the camera, classifier and player.
func (a *App) Run(ctx context.Context) error {
	defer a.shutdown()

	if err := a.init(ctx); err != nil {
		if ctx.Err() != nil {
			a.setRun(RunStopped)
			return nil
		}
		a.setRun(RunFailed)
		a.report(err)
		return err
	}

	labels := a.classifier.Labels()
	a.mu.Lock()
	a.running = true
	a.snap.Run = RunRunning
	a.snap.Ready = true
	a.snap.Labels = labels
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.snap.Run = RunStopped
		a.mu.Unlock()
	}()

	a.setStatus(Status{Level: LevelInfo, Message: "running"})
	log.Info("dispatch loop started", "labels", len(labels), "responses", len(a.catalog.Labels()))

	a.loop(ctx)

	log.Info("dispatch loop stopped")
	return nil
}

// init loads the model and opens the camera. Loading must complete before
// the first tick.
func (a *App) init(ctx context.Context) error {
	a.setRun(RunLoading)
	a.setStatus(Status{Level: LevelInfo, Phase: dispatch.PhaseInit, Message: "loading model"})

	start := time.Now()
	if err := a.classifier.Load(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrInit, &dispatch.Error{Phase: dispatch.PhaseInit, Err: fmt.Errorf("load model: %w", err)})
	}
	log.Info("model loaded", "labels", a.classifier.Labels(), "elapsed", time.Since(start).Round(time.Millisecond))

	if err := a.camera.Open(); err != nil {
		return fmt.Errorf("%w: %w", ErrInit, &dispatch.Error{Phase: dispatch.PhaseInit, Err: fmt.Errorf("open camera: %w", err)})
	}
	return nil
}

// loop ticks at the pacer's interval. Ticks never overlap: the next frame
// is read only after the previous tick returned, and ticker events that
// arrive during a slow tick are dropped by the ticker.
func (a *App) loop(ctx context.Context) {
	pacer := capture.NewPacer(a.config.ActiveFPS, a.config.IdleFPS, capture.DefaultIdleAfter)
	a.camera.SetFPS(pacer.FPS())

	ticker := time.NewTicker(pacer.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.commands:
			cmd.reply <- cmd.run(ctx)
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if !a.IsEnabled() {
				continue
			}
			if a.tick(ctx, pacer) {
				a.camera.SetFPS(pacer.FPS())
				ticker.Reset(pacer.Interval())
				log.Debug("pacing changed", "active", pacer.Active(), "fps", pacer.FPS())
				a.mu.Lock()
				a.snap.Active = pacer.Active()
				a.mu.Unlock()
			}
		}
	}
}

// tick runs one capture, classify, dispatch cycle. It reports whether the
// pacer changed mode.
func (a *App) tick(ctx context.Context, pacer *capture.Pacer) (paceChanged bool) {
	frame, err := a.camera.ReadFrame()
	if err != nil {
		a.report(&dispatch.Error{Phase: dispatch.PhaseCapture, Err: err})
		return false
	}
	defer frame.Close()

	if a.frames.Watching() {
		if err := a.frames.Store(frame); err != nil {
			log.Debug("preview frame dropped", "error", err)
		}
	}

	moved, _ := a.motion.Detect(frame)
	paceChanged = pacer.Observe(moved)

	out, err := a.dispatcher.Tick(ctx, &a.state, frame)
	if err != nil && ctx.Err() != nil {
		return paceChanged
	}
	if err != nil && dispatch.PhaseOf(err) != dispatch.PhasePlay {
		// Nothing was decided; the tick is skipped and retried next cycle.
		a.report(err)
		return paceChanged
	}

	a.publishOutcome(out)
	a.publishState()

	if err != nil {
		a.report(err)
		return paceChanged
	}

	if a.state.PendingManual == "" {
		a.clearError()
	}
	if out.Applied {
		log.Info("dispatched",
			"action", out.Action.String(),
			"label", out.TopLabel,
			"confidence", out.TopPercent(),
		)
		a.record(out)
	}
	return paceChanged
}

// shutdown stops playback and releases the collaborators.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if a.state.Playing {
		if err := a.player.Stop(ctx); err != nil {
			log.Warn("error stopping player", "error", err)
		}
		a.state = dispatch.State{}
	}
	if err := a.player.Close(); err != nil {
		log.Warn("error closing player", "error", err)
	}
	if err := a.camera.Close(); err != nil {
		log.Warn("error closing camera", "error", err)
	}
	if err := a.classifier.Close(); err != nil {
		log.Warn("error closing classifier", "error", err)
	}
	a.motion.Close()

	a.mu.Lock()
	a.snap.Ready = false
	a.mu.Unlock()
}
