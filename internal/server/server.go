// Package server provides the HTTP server for mudra: the control API, the
// viewer WebSocket, the camera preview and the response clips.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/log"
	"github.com/ayusman/mudra/internal/player"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

// Controller is the App surface used by the HTTP and WebSocket handlers.
type Controller interface {
	api.Controller
	PlaybackBlocked(ctx context.Context, label string) error
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	MediaDir  string
	Store     *store.Store
	// Controller, when set, enables the control endpoints.
	Controller Controller
	Frames     *capture.FrameBuffer
	Hub        *Hub
	// OnResponsesChanged is called after the response mapping is edited.
	OnResponsesChanged func() error
}

// Server represents the HTTP server for the mudra application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		responses := api.NewResponseHandler(s.config.Store, s.config.OnResponsesChanged)
		s.mux.Handle("/api/responses", responses)
		s.mux.Handle("/api/responses/", responses)
		s.mux.Handle("/api/detections", api.NewDetectionsHandler(s.config.Store))
	}

	if s.config.Controller != nil {
		api.NewControlHandler(s.config.Controller).Register(s.mux)
	}

	if s.config.Hub != nil {
		if s.config.Controller != nil {
			s.config.Hub.SetController(s.config.Controller)
		}
		s.mux.Handle("/api/events", s.config.Hub)
	}

	if s.config.Frames != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Frames))
	}

	if s.config.MediaDir != "" {
		media := http.FileServer(http.Dir(s.config.MediaDir))
		s.mux.Handle(player.MediaRoute, http.StripPrefix(player.MediaRoute, media))
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Hub != nil {
		response["viewers"] = s.config.Hub.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.config.Hub != nil {
		s.config.Hub.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
