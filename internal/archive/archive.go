// Package archive persists terminal sessions to SQLite so cross-session
// analytics survive restarts. The in-memory registry remains the source of
// truth for live sessions; a failed archive write is logged and counted,
// never surfaced into the mutation path.
package archive

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/proctorwatch/backend/internal/log"
	"github.com/proctorwatch/backend/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	candidate_name TEXT NOT NULL,
	candidate_email TEXT NOT NULL,
	interviewer_name TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT,
	duration_minutes INTEGER NOT NULL,
	status TEXT NOT NULL,
	integrity_score INTEGER NOT NULL,
	notes TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	severity TEXT NOT NULL,
	description TEXT NOT NULL,
	confidence REAL NOT NULL,
	position INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, position);
CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);
`

// timeLayout is fixed-width (no trimmed fractional zeros, UTC only) so the
// TEXT columns compare and sort lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Archive is a SQLite-backed store of terminal sessions.
type Archive struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open creates or opens the archive database and applies the schema.
func Open(path string) (*Archive, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}
	return &Archive{db: db, logger: log.WithComponent("archive")}, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Save upserts a session and replaces its event rows in one transaction.
func (a *Archive) Save(s *session.Session) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	endTime := sql.NullString{}
	if s.EndTime != nil {
		endTime = sql.NullString{String: s.EndTime.UTC().Format(timeLayout), Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO sessions (id, candidate_name, candidate_email, interviewer_name,
			start_time, end_time, duration_minutes, status, integrity_score, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_time = excluded.end_time,
			duration_minutes = excluded.duration_minutes,
			status = excluded.status,
			integrity_score = excluded.integrity_score,
			notes = excluded.notes`,
		s.ID, s.CandidateName, s.CandidateEmail, s.InterviewerName,
		s.StartTime.UTC().Format(timeLayout), endTime,
		s.DurationMinutes, s.Status.String(), s.IntegrityScore, s.Notes)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", s.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM events WHERE session_id = ?`, s.ID); err != nil {
		return fmt.Errorf("clear events for %s: %w", s.ID, err)
	}
	for i, ev := range s.Events {
		_, err := tx.Exec(`
			INSERT INTO events (id, session_id, event_type, timestamp,
				duration_seconds, severity, description, confidence, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, s.ID, ev.Type.String(), ev.Timestamp.UTC().Format(timeLayout),
			ev.DurationSeconds, ev.Severity.String(), ev.Description, ev.Confidence, i)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}

	return tx.Commit()
}

// List returns archived sessions whose start time falls in [from, to].
// Zero bounds mean unbounded. Events are loaded in log order and the derived
// summary is recomputed rather than stored.
func (a *Archive) List(from, to time.Time) ([]*session.Session, error) {
	query := `SELECT id, candidate_name, candidate_email, interviewer_name,
		start_time, end_time, duration_minutes, status, integrity_score, notes
		FROM sessions`
	var args []interface{}
	switch {
	case !from.IsZero() && !to.IsZero():
		query += ` WHERE start_time >= ? AND start_time <= ?`
		args = append(args, from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
	case !from.IsZero():
		query += ` WHERE start_time >= ?`
		args = append(args, from.UTC().Format(timeLayout))
	case !to.IsZero():
		query += ` WHERE start_time <= ?`
		args = append(args, to.UTC().Format(timeLayout))
	}
	query += ` ORDER BY start_time DESC`

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archived sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range sessions {
		if err := a.loadEvents(s); err != nil {
			return nil, err
		}
		s.Summary = session.Summarize(s.Events)
	}
	return sessions, nil
}

func scanSession(rows *sql.Rows) (*session.Session, error) {
	var (
		s         session.Session
		start     string
		end       sql.NullString
		statusStr string
	)
	if err := rows.Scan(&s.ID, &s.CandidateName, &s.CandidateEmail, &s.InterviewerName,
		&start, &end, &s.DurationMinutes, &statusStr, &s.IntegrityScore, &s.Notes); err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	t, err := time.Parse(timeLayout, start)
	if err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	s.StartTime = t

	if end.Valid {
		t, err := time.Parse(timeLayout, end.String)
		if err != nil {
			return nil, fmt.Errorf("parse end_time: %w", err)
		}
		s.EndTime = &t
	}

	if st, ok := session.ParseStatus(statusStr); ok {
		s.Status = st
	}
	return &s, nil
}

func (a *Archive) loadEvents(s *session.Session) error {
	rows, err := a.db.Query(`SELECT id, event_type, timestamp, duration_seconds,
		severity, description, confidence
		FROM events WHERE session_id = ? ORDER BY position`, s.ID)
	if err != nil {
		return fmt.Errorf("query events for %s: %w", s.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev      session.Event
			typeStr string
			ts      string
			sevStr  string
		)
		if err := rows.Scan(&ev.ID, &typeStr, &ts, &ev.DurationSeconds,
			&sevStr, &ev.Description, &ev.Confidence); err != nil {
			return fmt.Errorf("scan event row: %w", err)
		}
		if t, ok := session.ParseEventType(typeStr); ok {
			ev.Type = t
		}
		parsed, err := time.Parse(timeLayout, ts)
		if err != nil {
			return fmt.Errorf("parse event timestamp: %w", err)
		}
		ev.Timestamp = parsed
		ev.Severity = session.DefaultSeverity(ev.Type)
		if sev, ok := session.ParseSeverity(sevStr); ok {
			ev.Severity = sev
		}
		s.Events = append(s.Events, ev)
	}
	return rows.Err()
}
