package ws

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/proctorwatch/backend/internal/debounce"
	"github.com/proctorwatch/backend/internal/log"
	"github.com/proctorwatch/backend/internal/session"
)

// Server owns the websocket endpoint. Observers subscribe to a session topic
// and receive live violation alerts; a candidate connection instead streams
// raw perception signals into the debouncer and receives nothing back, so the
// originating connection is never echoed its own alert.
type Server struct {
	registry       *session.Registry
	tracker        *debounce.Tracker
	hub            *Hub
	authToken      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	logger         zerolog.Logger
}

func NewServer(registry *session.Registry, tracker *debounce.Tracker, hub *Hub, authToken string, allowedOrigins []string) *Server {
	s := &Server{
		registry:       registry,
		tracker:        tracker,
		hub:            hub,
		authToken:      authToken,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		logger:         log.WithComponent("ws"),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// HandleWS upgrades GET /ws/{sessionID}. Query param role=candidate selects
// the signal-ingest side; everything else is an observer.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.registry.Get(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	role := r.URL.Query().Get("role")
	s.logger.Info().Str("session_id", sessionID).Str("role", role).Str("remote", r.RemoteAddr).Msg("ws client connected")

	if role == "candidate" {
		go s.candidateLoop(conn, sessionID)
		return
	}
	s.observe(conn, sessionID)
}

// observe subscribes the connection to the session topic and pumps alerts
// until either side hangs up.
func (s *Server) observe(conn *websocket.Conn, sessionID string) {
	sub := s.hub.Subscribe(sessionID)

	// Writer: subscriber channel -> socket.
	go func() {
		defer conn.Close()
		for alert := range sub.C {
			msg := WSMessage{Type: MsgViolation, Payload: alert}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	// Reader: drain until disconnect, then detach from the topic.
	go func() {
		defer s.hub.Unsubscribe(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// candidateLoop reads raw signal ticks and feeds them through the debouncer.
// Confirmed violations go through the registry append path, which publishes
// to observers only after a successful append.
func (s *Server) candidateLoop(conn *websocket.Conn, sessionID string) {
	defer conn.Close()
	for {
		var msg struct {
			Type    MessageType   `json:"type"`
			Payload SignalPayload `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != MsgSignal {
			continue
		}

		if err := s.ingest(sessionID, msg.Payload); err != nil {
			// Malformed ticks and terminal sessions are reported on the
			// socket but never tear down the connection.
			_ = conn.WriteJSON(WSMessage{Type: MsgError, Payload: ErrorPayload{Message: err.Error()}})
			if errors.Is(err, session.ErrSessionTerminal) || errors.Is(err, session.ErrSessionNotFound) {
				return
			}
		}
	}
}

// ingest runs one signal tick through debounce and, on confirmation, append.
func (s *Server) ingest(sessionID string, sig SignalPayload) error {
	cat, ok := session.ParseEventType(sig.Category)
	if !ok {
		// Unknown categories are the caller's problem to log, not the
		// debouncer's.
		s.logger.Debug().Str("category", sig.Category).Msg("ignoring unknown signal category")
		return nil
	}

	v, confirmed := s.tracker.Tick(sessionID, cat, sig.SignalActive, sig.Confidence)
	if !confirmed {
		return nil
	}

	_, err := s.registry.AppendEvent(sessionID, session.EventInput{
		Type:            v.Category.String(),
		Timestamp:       v.At,
		DurationSeconds: v.DurationSeconds,
		Confidence:      v.Confidence,
		Description:     v.Description,
	})
	return err
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Proctor-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}
