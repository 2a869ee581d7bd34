package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/player"
)

type fixture struct {
	d     *Dispatcher
	model *classifier.Mock
	out   *player.Mock
	st    *State
}

func newFixture(t *testing.T, cfg Config, lib player.Library, labels ...string) *fixture {
	t.Helper()

	catalog := player.NewCatalog(lib)
	model := classifier.NewMock(labels...)
	if err := model.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	out := player.NewMock(catalog)

	d, err := New(cfg, model, out, catalog)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{d: d, model: model, out: out, st: &State{}}
}

func (f *fixture) tick(t *testing.T, preds ...classifier.Prediction) Outcome {
	t.Helper()
	f.model.SetPredictions(preds...)
	out, err := f.d.Tick(context.Background(), f.st, nil)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	return out
}

func p(label string, prob float64) classifier.Prediction {
	return classifier.Prediction{Label: label, Probability: prob}
}

func TestTop(t *testing.T) {
	tests := []struct {
		name  string
		preds []classifier.Prediction
		want  string
	}{
		{"single", []classifier.Prediction{p("a", 0.3)}, "a"},
		{"strict max last", []classifier.Prediction{p("a", 0.2), p("b", 0.9)}, "b"},
		{"strict max middle", []classifier.Prediction{p("a", 0.1), p("b", 0.8), p("c", 0.1)}, "b"},
		{"tie goes to first", []classifier.Prediction{p("a", 0.5), p("b", 0.5)}, "a"},
		{"tie after lower", []classifier.Prediction{p("a", 0.1), p("b", 0.45), p("c", 0.45)}, "b"},
		{"all zero", []classifier.Prediction{p("a", 0), p("b", 0)}, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			top, ok := Top(tt.preds)
			if !ok {
				t.Fatal("expected ok")
			}
			if top.Label != tt.want {
				t.Errorf("Top() = %s, want %s", top.Label, tt.want)
			}
		})
	}

	t.Run("empty", func(t *testing.T) {
		if _, ok := Top(nil); ok {
			t.Error("expected !ok for empty input")
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		preds := []classifier.Prediction{p("x", 0.3), p("y", 0.3), p("z", 0.3)}
		for i := 0; i < 10; i++ {
			if top, _ := Top(preds); top.Label != "x" {
				t.Fatalf("run %d: Top() = %s, want x", i, top.Label)
			}
		}
	})
}

func TestTick_Scenarios(t *testing.T) {
	t.Run("mapped label above threshold plays", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), player.Library{"b": "video_b"}, "a", "b")

		out := f.tick(t, p("a", 0.2), p("b", 0.9))

		if out.Action.Kind != ActionPlay || out.Action.Label != "b" || out.Action.Resource != "video_b" {
			t.Errorf("expected PLAY(b) -> video_b, got %+v", out.Action)
		}
		if out.Action.String() != "PLAY(b)" {
			t.Errorf("Action.String() = %s", out.Action)
		}
		if !out.Applied || !f.st.Playing || f.st.PlayingLabel != "b" {
			t.Errorf("expected b playing, state %+v", f.st)
		}
		if label, playing := f.out.Playing(); !playing || label != "b" {
			t.Errorf("player Playing() = %q, %v", label, playing)
		}
	})

	t.Run("unmapped label above threshold surfaces only", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), player.Library{}, "a")

		out := f.tick(t, p("a", 0.99))

		if out.Action.Kind != ActionNone {
			t.Errorf("expected NONE, got %s", out.Action)
		}
		if out.TopLabel != "a" || !out.Accepted || out.Recognized {
			t.Errorf("expected accepted, unrecognized a; got %+v", out)
		}
		if len(f.out.Calls()) != 0 {
			t.Errorf("expected no player calls, got %v", f.out.Calls())
		}
		if f.st.HasConfirmed() {
			t.Error("unmapped label must not be confirmed")
		}
	})

	t.Run("classifier not loaded", func(t *testing.T) {
		catalog := player.NewCatalog(player.Library{"a": "video_a"})
		model := classifier.NewMock("a")
		d, _ := New(DefaultConfig(), model, player.NewMock(catalog), catalog)
		st := &State{}

		_, err := d.Tick(context.Background(), st, nil)
		if !errors.Is(err, classifier.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		if PhaseOf(err) != PhasePredict {
			t.Errorf("expected predict phase, got %q", PhaseOf(err))
		}
		if *st != (State{}) {
			t.Errorf("state changed on failed tick: %+v", st)
		}

		// Next cycle succeeds once loading completes.
		model.SetPredictions(p("a", 0.9))
		model.Load(context.Background())
		out, err := d.Tick(context.Background(), st, nil)
		if err != nil {
			t.Fatalf("retry Tick() error = %v", err)
		}
		if out.Action.Kind != ActionPlay {
			t.Errorf("expected PLAY on retry, got %s", out.Action)
		}
	})

	t.Run("drop below threshold with auto-stop", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), player.Library{"a": "video_a"}, "a", "b")

		f.tick(t, p("a", 0.9), p("b", 0.1))
		out := f.tick(t, p("a", 0.5), p("b", 0.5))

		if out.Action.Kind != ActionStop {
			t.Errorf("expected STOP, got %s", out.Action)
		}
		if f.st.Playing {
			t.Error("expected not playing after STOP")
		}
		if _, playing := f.out.Playing(); playing {
			t.Error("expected player stopped")
		}
		if out.Accepted {
			t.Error("below-threshold outcome must not be accepted")
		}
	})

	t.Run("drop below threshold without auto-stop", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AutoStop = false
		f := newFixture(t, cfg, player.Library{"a": "video_a"}, "a", "b")

		f.tick(t, p("a", 0.9), p("b", 0.1))
		out := f.tick(t, p("a", 0.5), p("b", 0.5))

		if out.Action.Kind != ActionNone {
			t.Errorf("expected NONE, got %s", out.Action)
		}
		if !f.st.Playing || f.st.PlayingLabel != "a" {
			t.Errorf("expected still PLAYING(a), state %+v", f.st)
		}
		if f.out.Stops() != 0 {
			t.Errorf("expected no Stop calls, got %d", f.out.Stops())
		}
	})

	t.Run("below threshold while stopped is NONE", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), player.Library{"a": "video_a"}, "a")

		out := f.tick(t, p("a", 0.3))

		if out.Action.Kind != ActionNone {
			t.Errorf("expected NONE, got %s", out.Action)
		}
		if f.st.Playing {
			t.Error("nothing crossed the threshold, must not be playing")
		}
	})
}

func TestTick_ThresholdBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 0.85
	f := newFixture(t, cfg, player.Library{"a": "video_a"}, "a", "b")

	out := f.tick(t, p("a", 0.85), p("b", 0.15))
	if !out.Accepted || out.Action.Kind != ActionPlay {
		t.Errorf("probability equal to threshold must be accepted, got %+v", out)
	}

	out = f.tick(t, p("a", 0.8499), p("b", 0.1501))
	if out.Accepted {
		t.Error("probability just under threshold must not be accepted")
	}
}

func TestTick_RepeatPolicy(t *testing.T) {
	lib := player.Library{"a": "video_a", "b": "video_b"}

	t.Run("repeat does not restart by default", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), lib, "a", "b")

		f.tick(t, p("a", 0.9), p("b", 0.1))
		f.out.Advance(4 * time.Second)
		out := f.tick(t, p("a", 0.95), p("b", 0.05))

		if out.Action.Kind != ActionPlay {
			t.Errorf("expected PLAY decided, got %s", out.Action)
		}
		if out.Applied {
			t.Error("repeat PLAY must not be applied")
		}
		if f.out.Position() != 4*time.Second {
			t.Errorf("expected position unchanged at 4s, got %v", f.out.Position())
		}
		if f.out.Starts() != 1 {
			t.Errorf("expected 1 start, got %d", f.out.Starts())
		}
	})

	t.Run("repeat restarts when configured", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RestartOnRepeat = true
		f := newFixture(t, cfg, lib, "a", "b")

		f.tick(t, p("a", 0.9), p("b", 0.1))
		f.out.Advance(4 * time.Second)
		out := f.tick(t, p("a", 0.95), p("b", 0.05))

		if !out.Applied {
			t.Error("expected repeat PLAY applied")
		}
		if f.out.Position() != 0 {
			t.Errorf("expected position reset, got %v", f.out.Position())
		}
		if f.out.Starts() != 2 {
			t.Errorf("expected 2 starts, got %d", f.out.Starts())
		}
	})

	t.Run("switching label always restarts", func(t *testing.T) {
		for _, restart := range []bool{false, true} {
			cfg := DefaultConfig()
			cfg.RestartOnRepeat = restart
			f := newFixture(t, cfg, lib, "a", "b")

			f.tick(t, p("a", 0.9), p("b", 0.1))
			f.out.Advance(2 * time.Second)
			out := f.tick(t, p("a", 0.1), p("b", 0.9))

			if !out.Applied || f.st.PlayingLabel != "b" {
				t.Errorf("restart=%v: expected switch to b, state %+v", restart, f.st)
			}
			if f.out.Position() != 0 {
				t.Errorf("restart=%v: expected b from start, got %v", restart, f.out.Position())
			}
		}
	})
}

func TestTick_ConfirmPolicy(t *testing.T) {
	lib := player.Library{"a": "video_a", "b": "video_b"}

	t.Run("immediate tracks latest accepted label", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), lib, "a", "b")

		f.tick(t, p("a", 0.9), p("b", 0.1))
		f.tick(t, p("a", 0.1), p("b", 0.9))

		if f.st.ConfirmedLabel != "b" {
			t.Errorf("expected confirmed b, got %q", f.st.ConfirmedLabel)
		}
	})

	t.Run("sticky keeps first accepted label", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Confirm = ConfirmSticky
		f := newFixture(t, cfg, lib, "a", "b")

		f.tick(t, p("a", 0.9), p("b", 0.1))
		f.tick(t, p("a", 0.1), p("b", 0.9))
		f.tick(t, p("a", 0.5), p("b", 0.5))

		if f.st.ConfirmedLabel != "a" {
			t.Errorf("expected confirmed a, got %q", f.st.ConfirmedLabel)
		}
	})

	t.Run("confirm consumes sticky label", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Confirm = ConfirmSticky
		cfg.AutoStop = true
		f := newFixture(t, cfg, lib, "a", "b")

		f.tick(t, p("a", 0.9), p("b", 0.1))
		f.tick(t, p("a", 0.2), p("b", 0.3))

		out, err := f.d.Confirm(context.Background(), f.st)
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if out.Action.Label != "a" || out.Action.Resource != "video_a" {
			t.Errorf("expected PLAY(a), got %+v", out.Action)
		}
		if f.st.HasConfirmed() {
			t.Error("expected confirmation consumed")
		}
		if !f.st.Playing || f.st.PlayingLabel != "a" {
			t.Errorf("expected PLAYING(a), got %+v", f.st)
		}
	})

	t.Run("confirm without label", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), lib, "a", "b")
		if _, err := f.d.Confirm(context.Background(), f.st); !errors.Is(err, ErrNothingConfirmed) {
			t.Errorf("expected ErrNothingConfirmed, got %v", err)
		}
	})

	t.Run("reset stops and clears", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), lib, "a", "b")
		f.tick(t, p("a", 0.9), p("b", 0.1))

		if err := f.d.Reset(context.Background(), f.st); err != nil {
			t.Fatalf("Reset() error = %v", err)
		}
		if *f.st != (State{}) {
			t.Errorf("expected zero state, got %+v", f.st)
		}
		if _, playing := f.out.Playing(); playing {
			t.Error("expected player stopped")
		}
	})
}

func TestTick_PlaybackFailure(t *testing.T) {
	lib := player.Library{"a": "video_a", "b": "video_b"}
	f := newFixture(t, DefaultConfig(), lib, "a", "b")
	f.out.SetPlayError(player.ErrPlaybackRejected)

	f.model.SetPredictions(p("a", 0.9), p("b", 0.1))
	out, err := f.d.Tick(context.Background(), f.st, nil)

	if !errors.Is(err, player.ErrPlaybackRejected) {
		t.Fatalf("expected ErrPlaybackRejected, got %v", err)
	}
	if PhaseOf(err) != PhasePlay {
		t.Errorf("expected play phase, got %q", PhaseOf(err))
	}
	if out.Action.Kind != ActionPlay {
		t.Errorf("expected decided PLAY, got %s", out.Action)
	}
	if f.st.Playing {
		t.Error("rejected playback must not mark playing")
	}
	if f.st.PendingManual != "a" {
		t.Errorf("expected a pending manual trigger, got %q", f.st.PendingManual)
	}

	t.Run("no autoplay retry while pending", func(t *testing.T) {
		calls := len(f.out.Calls())
		out, err := f.d.Tick(context.Background(), f.st, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Applied || len(f.out.Calls()) != calls {
			t.Error("expected no player call while waiting for manual trigger")
		}
	})

	t.Run("manual trigger plays pending label", func(t *testing.T) {
		f.out.SetPlayError(nil)

		out, err := f.d.Confirm(context.Background(), f.st)
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if out.Action.Label != "a" {
			t.Errorf("expected PLAY(a), got %s", out.Action)
		}
		if !f.st.Playing || f.st.PendingManual != "" {
			t.Errorf("expected playing with nothing pending, got %+v", f.st)
		}
	})
}

func TestTick_ClassifierErrors(t *testing.T) {
	lib := player.Library{"a": "video_a"}

	t.Run("timeout is unavailable", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TickTimeout = 10 * time.Millisecond
		f := newFixture(t, cfg, lib, "a")
		f.model.SetPredictions(p("a", 0.9))
		f.model.SetDelay(time.Second)

		_, err := f.d.Tick(context.Background(), f.st, nil)
		if !errors.Is(err, classifier.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("cancelled context is returned as is", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), lib, "a")
		f.model.SetPredictions(p("a", 0.9))
		f.model.SetDelay(time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.d.Tick(ctx, f.st, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("malformed result", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), lib, "a", "b")

		f.model.SetPredictions(p("a", 0.9))
		_, err := f.d.Tick(context.Background(), f.st, nil)
		if !errors.Is(err, classifier.ErrMalformedPrediction) {
			t.Errorf("expected ErrMalformedPrediction, got %v", err)
		}
		if errors.Is(err, classifier.ErrUnavailable) {
			t.Error("malformed result must be distinct from unavailable")
		}
	})

	t.Run("classifier error", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), lib, "a")
		want := errors.New("service crashed")
		f.model.SetError(want)

		_, err := f.d.Tick(context.Background(), f.st, nil)
		if !errors.Is(err, want) {
			t.Errorf("expected wrapped %v, got %v", want, err)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"default", func(c *Config) {}, nil},
		{"threshold one", func(c *Config) { c.Threshold = 1 }, nil},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }, ErrInvalidThreshold},
		{"threshold above one", func(c *Config) { c.Threshold = 1.2 }, ErrInvalidThreshold},
		{"unknown policy", func(c *Config) { c.Confirm = "later" }, ErrInvalidPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("SetConfig rejects invalid", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), nil, "a")
		bad := DefaultConfig()
		bad.Threshold = 2
		if err := f.d.SetConfig(bad); err == nil {
			t.Error("expected error")
		}
		if f.d.Config().Threshold != DefaultThreshold {
			t.Error("invalid config must not be applied")
		}
	})
}

func TestParseConfirmPolicy(t *testing.T) {
	if p, err := ParseConfirmPolicy("sticky"); err != nil || p != ConfirmSticky {
		t.Errorf("ParseConfirmPolicy(sticky) = %q, %v", p, err)
	}
	if _, err := ParseConfirmPolicy("STICKY"); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}
