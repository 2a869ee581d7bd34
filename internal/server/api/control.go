package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/dispatch"
	"github.com/ayusman/mudra/internal/player"
)

// Controller is the part of the App the control endpoints drive.
type Controller interface {
	Snapshot() app.Snapshot
	Confirm(ctx context.Context) (dispatch.Outcome, error)
	Reset(ctx context.Context) error
	UpdateSettings(ctx context.Context, cfg dispatch.Config) error
	SetEnabled(enabled bool)
}

// ControlHandler serves the status, confirm, reset, enabled and settings
// endpoints.
type ControlHandler struct {
	ctl Controller
}

// NewControlHandler creates a ControlHandler driving ctl.
func NewControlHandler(ctl Controller) *ControlHandler {
	return &ControlHandler{ctl: ctl}
}

// Register mounts the control endpoints on mux.
func (h *ControlHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.status)
	mux.HandleFunc("/api/confirm", h.confirm)
	mux.HandleFunc("/api/reset", h.reset)
	mux.HandleFunc("/api/enabled", h.enabled)
	mux.HandleFunc("/api/settings", h.settings)
}

func (h *ControlHandler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *ControlHandler) confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out, err := h.ctl.Confirm(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, dispatch.ErrNothingConfirmed):
		writeError(w, http.StatusConflict, "No gesture is waiting to be played")
	case errors.Is(err, app.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "Detection is not running")
	case errors.Is(err, player.ErrUnknownLabel):
		writeError(w, http.StatusNotFound, "No response is bound to the confirmed gesture")
	case errors.Is(err, player.ErrPlaybackRejected), errors.Is(err, player.ErrNoAudience):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *ControlHandler) reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.ctl.Reset(r.Context()); err != nil {
		if errors.Is(err, app.ErrNotRunning) {
			writeError(w, http.StatusServiceUnavailable, "Detection is not running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *ControlHandler) enabled(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut, http.MethodPost:
		var req enabledRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "Body must be {\"enabled\": bool}")
			return
		}
		h.ctl.SetEnabled(*req.Enabled)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.ctl.Snapshot().Enabled})
}

// settingsBody mirrors dispatch.Config with optional fields so a PUT can
// change a subset.
type settingsBody struct {
	Threshold       *float64 `json:"threshold"`
	Confirm         *string  `json:"confirm"`
	AutoStop        *bool    `json:"auto_stop"`
	RestartOnRepeat *bool    `json:"restart_on_repeat"`
	TickTimeout     *string  `json:"tick_timeout"`
}

type settingsResponse struct {
	Threshold       float64 `json:"threshold"`
	Confirm         string  `json:"confirm"`
	AutoStop        bool    `json:"auto_stop"`
	RestartOnRepeat bool    `json:"restart_on_repeat"`
	TickTimeout     string  `json:"tick_timeout"`
}

func toSettingsResponse(cfg dispatch.Config) settingsResponse {
	return settingsResponse{
		Threshold:       cfg.Threshold,
		Confirm:         string(cfg.Confirm),
		AutoStop:        cfg.AutoStop,
		RestartOnRepeat: cfg.RestartOnRepeat,
		TickTimeout:     cfg.TickTimeout.String(),
	}
}

func (h *ControlHandler) settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, toSettingsResponse(h.ctl.Snapshot().Config))
	case http.MethodPut:
		h.updateSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ControlHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	cfg := h.ctl.Snapshot().Config
	if body.Threshold != nil {
		cfg.Threshold = *body.Threshold
	}
	if body.Confirm != nil {
		p, err := dispatch.ParseConfirmPolicy(*body.Confirm)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.Confirm = p
	}
	if body.AutoStop != nil {
		cfg.AutoStop = *body.AutoStop
	}
	if body.RestartOnRepeat != nil {
		cfg.RestartOnRepeat = *body.RestartOnRepeat
	}
	if body.TickTimeout != nil {
		d, err := time.ParseDuration(*body.TickTimeout)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid tick_timeout")
			return
		}
		cfg.TickTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ctl.UpdateSettings(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toSettingsResponse(cfg))
}
