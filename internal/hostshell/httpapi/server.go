// Package httpapi exposes the host shell to the frontend over HTTP: live
// bus-message streams (SSE and WebSocket), command invocation, relay health
// and metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"GAINS-Bridge/internal/bridge"
	"GAINS-Bridge/internal/hostshell"
	"GAINS-Bridge/internal/metrics"
)

type HealthFunc func() bridge.Health

type Options struct {
	Hub      *hostshell.Hub
	Commands *hostshell.Commands
	Health   HealthFunc
	Metrics  *metrics.Prom
	Log      *zap.Logger
	// Event is the hub event streamed to clients. Empty means bridge.EventName.
	Event string
}

type Server struct {
	hub     *hostshell.Hub
	cmds    *hostshell.Commands
	health  HealthFunc
	metrics *metrics.Prom
	log     *zap.Logger
	event   string
}

func NewServer(opts Options) *Server {
	s := &Server{
		hub:     opts.Hub,
		cmds:    opts.Commands,
		health:  opts.Health,
		metrics: opts.Metrics,
		log:     opts.Log,
		event:   opts.Event,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.event == "" {
		s.event = bridge.EventName
	}
	if s.cmds == nil {
		s.cmds = hostshell.NewCommands(s.log)
	}
	if s.health == nil {
		s.health = func() bridge.Health { return bridge.Health{} }
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.log))
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Collect)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/events/stream", s.handleStream)
		r.Get("/events/ws", s.handleWS)
		r.Post("/commands/{name}", s.handleCommand)
		r.Options("/commands/{name}", func(w http.ResponseWriter, _ *http.Request) { writeNoContent(w) })
		r.Get("/relay/health", s.handleHealth)
	})
	return r
}

// NewHTTPServer wraps handler with the timeouts used for every listener.
// WriteTimeout stays zero because event streams are long-lived.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.health()
	status := http.StatusOK
	if !h.Connected() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.cmds.Invoke(name); err != nil {
		if errors.Is(err, hostshell.ErrUnknownCommand) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.Warn("command failed", zap.String("command", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "command": name})
}

func (s *Server) trackSubscriber(delta float64) {
	if s.metrics != nil {
		s.metrics.StreamSubscribers.Add(delta)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	corsHeaders(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	corsHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
}
