// Package api exposes the HTTP surface: session lifecycle, event ingest,
// reports and operational endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/proctorwatch/backend/internal/archive"
	"github.com/proctorwatch/backend/internal/config"
	"github.com/proctorwatch/backend/internal/debounce"
	"github.com/proctorwatch/backend/internal/log"
	"github.com/proctorwatch/backend/internal/session"
	"github.com/proctorwatch/backend/internal/ws"
)

type Server struct {
	cfg      *config.Config
	registry *session.Registry
	tracker  *debounce.Tracker
	hub      *ws.Hub
	wsServer *ws.Server
	archive  *archive.Archive // nil when archiving is disabled
	logger   zerolog.Logger
}

func NewServer(cfg *config.Config, registry *session.Registry, tracker *debounce.Tracker, hub *ws.Hub, wsServer *ws.Server, arch *archive.Archive) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		tracker:  tracker,
		hub:      hub,
		wsServer: wsServer,
		archive:  arch,
		logger:   log.WithComponent("api"),
	}
}

// Router assembles the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(s.requestLogger)
	if s.cfg.Server.RateLimit.Requests > 0 {
		r.Use(httprate.Limit(
			s.cfg.Server.RateLimit.Requests,
			s.cfg.Server.RateLimit.Window,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
	}

	r.Get("/ws/{sessionID}", s.wsServer.HandleWS)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/end", s.handleEndSession)
				r.Post("/terminate", s.handleTerminateSession)
				r.Post("/events", s.handleAddEvent)
				r.Post("/signals", s.handleSignal)
			})
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/batch", s.handleBatchEvents)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetEvents)
				r.Get("/stats", s.handleEventStats)
				r.Delete("/{eventID}", s.handleDeleteEvent)
			})
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/analytics/summary", s.handleAnalytics)
			r.Get("/{sessionID}", s.handleReport)
			r.Get("/{sessionID}/csv", s.handleReportCSV)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRegistryError maps registry errors onto HTTP statuses. Mutation lock
// timeouts surface as 503 with Retry-After so callers know to retry.
func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, session.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "Event not found")
	case errors.Is(err, session.ErrSessionTerminal):
		writeError(w, http.StatusConflict, "Session is no longer active")
	case errors.Is(err, session.ErrMutationTimeout):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Session busy, retry")
	case errors.Is(err, session.ErrInvalidEvent), errors.Is(err, session.ErrInvalidSession):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
