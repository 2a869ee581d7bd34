// Package config loads mudra's runtime configuration from the environment
// and from settings persisted in the store.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ayusman/mudra/internal/dispatch"
)

// Player kinds.
const (
	PlayerBrowser = "browser"
	PlayerProcess = "process"
)

// Setting keys persisted in the store.
const (
	KeyThreshold       = "threshold"
	KeyConfirm         = "confirm"
	KeyAutoStop        = "auto_stop"
	KeyRestartOnRepeat = "restart_on_repeat"
	KeyTickTimeout     = "tick_timeout"
)

// ErrUnknownSetting is returned for a settings key that mudra does not persist.
var ErrUnknownSetting = errors.New("unknown setting")

// Config is the full runtime configuration.
type Config struct {
	Addr    string `env:"MUDRA_ADDR"     envDefault:":8080"`
	DataDir string `env:"MUDRA_DATA_DIR"`
	WebDir  string `env:"MUDRA_WEB_DIR"`

	ModelDir string `env:"MUDRA_MODEL_DIR" envDefault:"model"`
	Python   string `env:"MUDRA_PYTHON"`

	CameraID        int     `env:"MUDRA_CAMERA_ID"        envDefault:"0"`
	Flip            bool    `env:"MUDRA_FLIP"             envDefault:"true"`
	FPS             int     `env:"MUDRA_FPS"              envDefault:"15"`
	IdleFPS         int     `env:"MUDRA_IDLE_FPS"         envDefault:"5"`
	MotionThreshold float64 `env:"MUDRA_MOTION_THRESHOLD" envDefault:"0"`

	Threshold       float64       `env:"MUDRA_THRESHOLD"         envDefault:"0.85"`
	Confirm         string        `env:"MUDRA_CONFIRM"           envDefault:"immediate"`
	AutoStop        bool          `env:"MUDRA_AUTO_STOP"         envDefault:"true"`
	RestartOnRepeat bool          `env:"MUDRA_RESTART_ON_REPEAT" envDefault:"false"`
	TickTimeout     time.Duration `env:"MUDRA_TICK_TIMEOUT"      envDefault:"2s"`

	Player        string            `env:"MUDRA_PLAYER"         envDefault:"browser"`
	PlayerCommand []string          `env:"MUDRA_PLAYER_COMMAND" envSeparator:" "`
	MediaDir      string            `env:"MUDRA_MEDIA_DIR"      envDefault:"videos"`
	Responses     map[string]string `env:"MUDRA_RESPONSES"      envSeparator:"," envKeyValSeparator:"="`

	HistoryCap int    `env:"MUDRA_HISTORY_CAP" envDefault:"500"`
	LogLevel   string `env:"MUDRA_LOG_LEVEL"   envDefault:"info"`
	Tray       bool   `env:"MUDRA_TRAY"        envDefault:"false"`
}

// Load parses the environment into a Config and fills derived defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".mudra")
	}
	return cfg, nil
}

// DBPath returns the SQLite database location inside DataDir.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "mudra.db")
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Dispatch().Validate(); err != nil {
		return err
	}
	switch c.Player {
	case PlayerBrowser, PlayerProcess:
	default:
		return fmt.Errorf("unknown player %q (want %s or %s)", c.Player, PlayerBrowser, PlayerProcess)
	}
	if c.FPS <= 0 || c.IdleFPS <= 0 {
		return fmt.Errorf("fps must be positive: active=%d idle=%d", c.FPS, c.IdleFPS)
	}
	if c.IdleFPS > c.FPS {
		return fmt.Errorf("idle fps %d exceeds active fps %d", c.IdleFPS, c.FPS)
	}
	if c.HistoryCap < 0 {
		return fmt.Errorf("history cap must not be negative: %d", c.HistoryCap)
	}
	return nil
}

// Dispatch converts the policy fields to a dispatch.Config.
func (c Config) Dispatch() dispatch.Config {
	return dispatch.Config{
		Threshold:       c.Threshold,
		Confirm:         dispatch.ConfirmPolicy(c.Confirm),
		AutoStop:        c.AutoStop,
		RestartOnRepeat: c.RestartOnRepeat,
		TickTimeout:     c.TickTimeout,
	}
}

// SetDispatch copies a dispatch policy back into the Config.
func (c *Config) SetDispatch(d dispatch.Config) {
	c.Threshold = d.Threshold
	c.Confirm = string(d.Confirm)
	c.AutoStop = d.AutoStop
	c.RestartOnRepeat = d.RestartOnRepeat
	c.TickTimeout = d.TickTimeout
}

// ApplySettings overlays persisted settings. Unknown keys are rejected so a
// typo in the settings table surfaces at startup.
func (c *Config) ApplySettings(values map[string]string) error {
	for key, value := range values {
		var err error
		switch key {
		case KeyThreshold:
			c.Threshold, err = strconv.ParseFloat(value, 64)
		case KeyConfirm:
			var p dispatch.ConfirmPolicy
			p, err = dispatch.ParseConfirmPolicy(value)
			c.Confirm = string(p)
		case KeyAutoStop:
			c.AutoStop, err = strconv.ParseBool(value)
		case KeyRestartOnRepeat:
			c.RestartOnRepeat, err = strconv.ParseBool(value)
		case KeyTickTimeout:
			c.TickTimeout, err = time.ParseDuration(value)
		default:
			err = ErrUnknownSetting
		}
		if err != nil {
			return fmt.Errorf("setting %s=%q: %w", key, value, err)
		}
	}
	return nil
}

// Settings returns the dispatch policy as persistable key/value pairs.
func Settings(d dispatch.Config) map[string]string {
	return map[string]string{
		KeyThreshold:       strconv.FormatFloat(d.Threshold, 'f', -1, 64),
		KeyConfirm:         string(d.Confirm),
		KeyAutoStop:        strconv.FormatBool(d.AutoStop),
		KeyRestartOnRepeat: strconv.FormatBool(d.RestartOnRepeat),
		KeyTickTimeout:     d.TickTimeout.String(),
	}
}

// ParsePlayerCommand splits a command line on whitespace.
func ParsePlayerCommand(s string) []string {
	return strings.Fields(s)
}
