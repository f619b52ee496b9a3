package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/proctorwatch/backend/internal/report"
	"github.com/proctorwatch/backend/internal/session"
)

// sessionForReport resolves a session from the live registry first, falling
// back to the archive for sessions that ended before a restart.
func (s *Server) sessionForReport(id string) (*session.Session, error) {
	sess, err := s.registry.Get(id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) || s.archive == nil {
		return nil, err
	}

	archived, aerr := s.archive.List(time.Time{}, time.Time{})
	if aerr != nil {
		return nil, err
	}
	for _, a := range archived {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, err
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionForReport(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  report.Generate(sess),
	})
}

func (s *Server) handleReportCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.sessionForReport(id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	data, err := report.RenderCSV(sess)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("csv render failed")
		writeError(w, http.StatusInternalServerError, "Failed to generate CSV report")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "proctoring_report_"+id+".csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleAnalytics aggregates over live and archived sessions. Optional
// startDate/endDate query params (RFC 3339) bound the window by start time.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	if v := r.URL.Query().Get("startDate"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := r.URL.Query().Get("endDate"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}

	live, _ := s.registry.List(1, 1<<30)
	seen := make(map[string]bool, len(live))
	var sessions []*session.Session
	for _, sess := range live {
		if !from.IsZero() && sess.StartTime.Before(from) {
			continue
		}
		if !to.IsZero() && sess.StartTime.After(to) {
			continue
		}
		sessions = append(sessions, sess)
		seen[sess.ID] = true
	}

	if s.archive != nil {
		archived, err := s.archive.List(from, to)
		if err != nil {
			s.logger.Error().Err(err).Msg("archive read failed, analytics from live sessions only")
		} else {
			for _, sess := range archived {
				if !seen[sess.ID] {
					sessions = append(sessions, sess)
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"analytics":     report.Aggregate(sessions),
		"totalSessions": len(sessions),
	})
}
