package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/proctorwatch/backend/internal/session"
)

type createSessionRequest struct {
	CandidateName   string `json:"candidateName"`
	CandidateEmail  string `json:"candidateEmail"`
	InterviewerName string `json:"interviewerName"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	sess, err := s.registry.Create(req.CandidateName, req.CandidateEmail, req.InterviewerName)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"session": sess,
		"message": "Session created successfully",
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": sess,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = s.cfg.Registry.DefaultPageSize
	}
	if limit < 1 {
		limit = 10
	}

	sessions, total := s.registry.List(page, limit)
	if page < 1 {
		page = 1
	}
	pages := (total + limit - 1) / limit

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": sessions,
		"pagination": map[string]int{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": pages,
		},
	})
}

type endSessionRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	id := chi.URLParam(r, "sessionID")
	sess, err := s.registry.End(id, req.Notes)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	s.tracker.Drop(id)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": sess,
		"message": "Session ended successfully",
	})
}

type terminateSessionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	var req terminateSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	id := chi.URLParam(r, "sessionID")
	sess, err := s.registry.Terminate(id, req.Reason)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	s.tracker.Drop(id)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": sess,
		"message": "Session terminated",
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.registry.Remove(id); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.tracker.Drop(id)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session deleted successfully",
	})
}

type eventRequest struct {
	EventType   string  `json:"eventType"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Duration    float64 `json:"duration"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

func (req eventRequest) toInput() session.EventInput {
	in := session.EventInput{
		Type:            req.EventType,
		DurationSeconds: req.Duration,
		Confidence:      req.Confidence,
		Description:     req.Description,
	}
	if req.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, req.Timestamp); err == nil {
			in.Timestamp = ts
		}
	}
	return in
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	res, err := s.registry.AppendEvent(chi.URLParam(r, "sessionID"), req.toInput())
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"event":          res.Event,
		"integrityScore": res.Score,
		"summary":        res.Summary,
		"message":        "Event added successfully",
	})
}

type batchEventsRequest struct {
	SessionID string         `json:"sessionId"`
	Events    []eventRequest `json:"events"`
}

func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	var req batchEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.SessionID == "" || len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "Missing required fields: sessionId, events (array)")
		return
	}
	if len(req.Events) > s.cfg.Registry.MaxBatchSize {
		writeError(w, http.StatusBadRequest, "Batch too large")
		return
	}

	ins := make([]session.EventInput, len(req.Events))
	for i, ev := range req.Events {
		ins[i] = ev.toInput()
	}

	n, res, err := s.registry.AppendBatch(req.SessionID, ins)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"eventsAdded":    n,
		"integrityScore": res.Score,
		"message":        "Events added successfully",
	})
}

// handleSignal ingests one raw perception tick through the debouncer. The
// response says whether this tick confirmed a violation; non-confirming
// ticks are the common case and return an empty accepted response.
type signalRequest struct {
	Category     string  `json:"category"`
	SignalActive bool    `json:"signalActive"`
	Confidence   float64 `json:"confidence"`
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	id := chi.URLParam(r, "sessionID")
	sess, err := s.registry.Get(id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if sess.IsTerminal() {
		writeRegistryError(w, session.ErrSessionTerminal)
		return
	}

	cat, ok := session.ParseEventType(req.Category)
	if !ok {
		// The debouncer ignores unknown categories; the caller logs them.
		s.logger.Debug().Str("category", req.Category).Msg("ignoring unknown signal category")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"confirmed": false,
		})
		return
	}

	v, confirmed := s.tracker.Tick(id, cat, req.SignalActive, req.Confidence)
	if !confirmed {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"confirmed": false,
		})
		return
	}

	res, err := s.registry.AppendEvent(id, session.EventInput{
		Type:            v.Category.String(),
		Timestamp:       v.At,
		DurationSeconds: v.DurationSeconds,
		Confidence:      v.Confidence,
		Description:     v.Description,
	})
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"confirmed":      true,
		"event":          res.Event,
		"integrityScore": res.Score,
		"summary":        res.Summary,
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	q := r.URL.Query()
	filtered := make([]session.Event, 0, len(sess.Events))
	var (
		typeFilter, hasType = session.ParseEventType(q.Get("eventType"))
		sevFilter, hasSev   = session.ParseSeverity(q.Get("severity"))
		start, startErr     = time.Parse(time.RFC3339, q.Get("startTime"))
		end, endErr         = time.Parse(time.RFC3339, q.Get("endTime"))
	)
	hasWindow := startErr == nil && endErr == nil

	for _, ev := range sess.Events {
		if hasType && ev.Type != typeFilter {
			continue
		}
		if hasSev && ev.Severity != sevFilter {
			continue
		}
		if hasWindow && (ev.Timestamp.Before(start) || ev.Timestamp.After(end)) {
			continue
		}
		filtered = append(filtered, ev)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"events":      filtered,
		"totalEvents": len(filtered),
	})
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	byType := make(map[string]int)
	bySeverity := map[string]int{"low": 0, "medium": 0, "high": 0}
	totalConfidence := 0.0
	confidenceCount := 0

	for _, ev := range sess.Events {
		byType[ev.Type.String()]++
		bySeverity[ev.Severity.String()]++
		if ev.Confidence > 0 {
			totalConfidence += ev.Confidence
			confidenceCount++
		}
	}

	avgConfidence := 0.0
	if confidenceCount > 0 {
		avgConfidence = math.Round(totalConfidence/float64(confidenceCount)*100) / 100
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats": map[string]interface{}{
			"totalEvents":       len(sess.Events),
			"eventsByType":      byType,
			"eventsBySeverity":  bySeverity,
			"averageConfidence": avgConfidence,
		},
	})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.DeleteEvent(chi.URLParam(r, "sessionID"), chi.URLParam(r, "eventID"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"message":        "Event deleted successfully",
		"integrityScore": res.Score,
	})
}
