package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/log"
	"github.com/ayusman/mudra/internal/player"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tray"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the viewer and run the gesture dispatch loop",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address")
	f.String("model", "", "Teachable Machine model directory")
	f.String("web", "", "static viewer directory")
	f.String("media", "", "directory holding the response clips")
	f.Int("camera", 0, "camera device id")
	f.String("player", "", "response player (browser or process)")
	f.String("player-command", "", "media player command line for the process player")
	f.Float64("threshold", 0, "minimum confidence to accept a gesture")
	f.String("confirm", "", "confirm policy (immediate or sticky)")
	f.Bool("tray", false, "show a system tray menu")
	return cmd
}

// applyRunFlags overrides cfg with the flags that were set explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Addr, _ = f.GetString("addr")
	}
	if f.Changed("model") {
		cfg.ModelDir, _ = f.GetString("model")
	}
	if f.Changed("web") {
		cfg.WebDir, _ = f.GetString("web")
	}
	if f.Changed("media") {
		cfg.MediaDir, _ = f.GetString("media")
	}
	if f.Changed("camera") {
		cfg.CameraID, _ = f.GetInt("camera")
	}
	if f.Changed("player") {
		cfg.Player, _ = f.GetString("player")
	}
	if f.Changed("player-command") {
		s, _ := f.GetString("player-command")
		cfg.PlayerCommand = config.ParsePlayerCommand(s)
	}
	if f.Changed("threshold") {
		cfg.Threshold, _ = f.GetFloat64("threshold")
	}
	if f.Changed("confirm") {
		cfg.Confirm, _ = f.GetString("confirm")
	}
	if f.Changed("tray") {
		cfg.Tray, _ = f.GetBool("tray")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Settings saved from the UI win over the environment; flags win over both.
	saved, err := st.Settings().All()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := cfg.ApplySettings(saved); err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := seedResponses(st, cfg.Responses); err != nil {
		return err
	}
	lib, err := st.Responses().Library()
	if err != nil {
		return fmt.Errorf("load responses: %w", err)
	}
	catalog := player.NewCatalog(lib)
	if len(lib) == 0 {
		log.Warn("no responses configured; gestures will be shown but nothing plays")
	}

	hub := server.NewHub()

	var p player.Player
	switch cfg.Player {
	case config.PlayerProcess:
		p = player.NewProcess(catalog, cfg.PlayerCommand, cfg.MediaDir)
	default:
		p = player.NewBroadcast(catalog, hub)
	}

	tcfg := classifier.DefaultConfig()
	tcfg.ModelDir = cfg.ModelDir
	tcfg.Python = cfg.Python
	cls, err := classifier.NewTeachableMachine(tcfg)
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}

	cam := capture.NewCamera(capture.CameraConfig{DeviceID: cfg.CameraID, Flip: cfg.Flip})

	a, err := app.New(app.Config{
		Dispatch:        cfg.Dispatch(),
		ActiveFPS:       cfg.FPS,
		IdleFPS:         cfg.IdleFPS,
		MotionThreshold: cfg.MotionThreshold,
		HistoryCap:      cfg.HistoryCap,
	}, app.Components{
		Camera:     cam,
		Classifier: cls,
		Player:     p,
		Catalog:    catalog,
		Store:      st,
	})
	if err != nil {
		return err
	}
	a.OnEvent(hub.Forward)

	webDir := cfg.WebDir
	if webDir == "" {
		webDir = findWebDir(cfg.DataDir)
	}
	if webDir != "" {
		log.Info("serving viewer", "dir", webDir)
	}

	srv := server.New(server.Config{
		StaticDir:          webDir,
		MediaDir:           cfg.MediaDir,
		Store:              st,
		Controller:         a,
		Frames:             a.Frames(),
		Hub:                hub,
		OnResponsesChanged: a.ReloadResponses,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, cfg.Addr)
	})
	g.Go(func() error {
		// The viewer keeps serving after a failed start so the error is visible.
		if err := a.Run(gctx); err != nil {
			log.Error("dispatch loop failed", "phase", "init", "error", err)
		}
		return nil
	})

	if cfg.Tray {
		t := newTray(gctx, a, stop, viewerURL(cfg.Addr))
		a.OnEvent(t.HandleEvent)
		go func() {
			<-gctx.Done()
			t.Quit()
		}()
		t.Run()
		stop()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newTray(ctx context.Context, a *app.App, quit func(), url string) *tray.Tray {
	t := tray.New()
	t.OnToggle(a.SetEnabled)
	t.OnConfirm(func() {
		if _, err := a.Confirm(ctx); err != nil {
			log.Warn("confirm from tray failed", "error", err)
		}
	})
	t.OnReset(func() {
		if err := a.Reset(ctx); err != nil {
			log.Warn("reset from tray failed", "error", err)
		}
	})
	t.OnOpen(func() {
		if err := openBrowser(url); err != nil {
			log.Warn("could not open browser", "url", url, "error", err)
		}
	})
	t.OnQuit(quit)
	return t
}

// seedResponses stores the configured label mapping for labels that have no
// response yet. Existing rows are left alone so edits made in the UI survive.
func seedResponses(st *store.Store, responses map[string]string) error {
	repo := st.Responses()
	for label, resource := range responses {
		_, err := repo.GetByLabel(label)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("look up response %q: %w", label, err)
		}
		if err := repo.Create(&store.Response{ID: uuid.New().String(), Label: label, Resource: resource}); err != nil {
			return fmt.Errorf("seed response %q: %w", label, err)
		}
		log.Info("response added from environment", "label", label, "resource", resource)
	}
	return nil
}

// findWebDir searches for the viewer directory in common locations:
// "web", "../web", "../../web" and <dataDir>/web.
// It returns the first existing directory or "" if none is found.
func findWebDir(dataDir string) string {
	candidates := []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func viewerURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
