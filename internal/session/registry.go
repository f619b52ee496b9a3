package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/proctorwatch/backend/internal/log"
	"github.com/proctorwatch/backend/internal/metrics"
)

// Publisher receives events after they have been durably appended. Publishing
// is fire-and-forget: a failing or absent publisher never affects the log.
type Publisher interface {
	Publish(sessionID string, ev Event)
}

// Archiver persists terminal sessions. Failures are logged and counted; the
// in-memory registry stays authoritative.
type Archiver interface {
	Save(s *Session) error
}

// EventInput is an append request as received from the debouncer or the API.
type EventInput struct {
	Type            string
	Timestamp       time.Time // zero means now
	DurationSeconds float64
	Confidence      float64 // zero means unreported; defaults to 0.8
	Severity        string  // empty means the fixed lookup decides
	Description     string
}

// AppendResult reports the outcome of a successful append.
type AppendResult struct {
	Event   Event
	Score   int
	Summary Summary
}

// Registry owns all sessions and their event logs. Every mutation for a given
// session is serialized: at most one proceeds at a time, and its score/summary
// recomputation completes before the next one starts. Concurrent callers wait
// up to lockWait and then fail with ErrMutationTimeout.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    map[string]chan struct{}

	lockWait  time.Duration
	publisher Publisher
	archiver  Archiver
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRegistry creates a registry with the given mutation lock bound.
func NewRegistry(lockWait time.Duration) *Registry {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &Registry{
		sessions: make(map[string]*Session),
		locks:    make(map[string]chan struct{}),
		lockWait: lockWait,
		now:      time.Now,
		logger:   log.WithComponent("registry"),
	}
}

// SetPublisher wires the broadcast hub. Must be called before traffic.
func (r *Registry) SetPublisher(p Publisher) { r.publisher = p }

// SetArchiver wires the session archive. Must be called before traffic.
func (r *Registry) SetArchiver(a Archiver) { r.archiver = a }

// SetClock replaces the wall clock, for tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// acquire takes the per-session mutation lock, waiting at most lockWait.
// The returned release func must be called exactly once.
func (r *Registry) acquire(id string) (func(), error) {
	r.mu.Lock()
	ch, ok := r.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[id] = ch
	}
	r.mu.Unlock()

	timer := time.NewTimer(r.lockWait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		metrics.MutationTimeouts.Inc()
		return nil, ErrMutationTimeout
	}
}

// snapshot returns a deep copy of the session, or ErrSessionNotFound.
func (r *Registry) snapshot(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// commit swaps the stored session for the mutated clone.
func (r *Registry) commit(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Create starts a new session and appends its session_start event.
func (r *Registry) Create(candidateName, candidateEmail, interviewerName string) (*Session, error) {
	candidateName = strings.TrimSpace(candidateName)
	candidateEmail = strings.ToLower(strings.TrimSpace(candidateEmail))
	interviewerName = strings.TrimSpace(interviewerName)
	if candidateName == "" || candidateEmail == "" || interviewerName == "" {
		return nil, fmt.Errorf("%w: candidateName, candidateEmail and interviewerName are required", ErrInvalidSession)
	}

	now := r.now()
	s := &Session{
		ID:              uuid.NewString(),
		CandidateName:   candidateName,
		CandidateEmail:  candidateEmail,
		InterviewerName: interviewerName,
		StartTime:       now,
		Status:          Active,
		Events: []Event{{
			ID:          uuid.NewString(),
			Type:        SessionStart,
			Timestamp:   now,
			Severity:    Low,
			Description: "Interview session started",
		}},
	}
	s.IntegrityScore = Score(s.Events)
	s.Summary = Summarize(s.Events)

	r.commit(s)
	r.logger.Info().Str("session_id", s.ID).Str("candidate", candidateName).Msg("session created")
	return s.Clone(), nil
}

// Get returns a copy of the session.
func (r *Registry) Get(id string) (*Session, error) {
	return r.snapshot(id)
}

// List returns one page of sessions, newest first, plus the total count.
func (r *Registry) List(page, limit int) ([]*Session, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].StartTime.Equal(all[j].StartTime) {
			return all[i].ID < all[j].ID
		}
		return all[i].StartTime.After(all[j].StartTime)
	})

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return []*Session{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total
}

// ActiveCount returns the number of non-terminal sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if !s.IsTerminal() {
			count++
		}
	}
	return count
}

// buildEvent validates an EventInput and materializes it.
func (r *Registry) buildEvent(in EventInput) (Event, error) {
	t, ok := ParseEventType(in.Type)
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, in.Type)
	}
	if in.DurationSeconds < 0 {
		return Event{}, fmt.Errorf("%w: negative duration", ErrInvalidEvent)
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return Event{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidEvent, in.Confidence)
	}

	confidence := in.Confidence
	if confidence == 0 {
		confidence = 0.8
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	severity := DefaultSeverity(t)
	if s, ok := severityFromName[in.Severity]; ok && in.Severity != "" {
		severity = s
	}
	description := in.Description
	if description == "" {
		description = strings.ReplaceAll(in.Type, "_", " ") + " detected"
	}

	return Event{
		ID:              uuid.NewString(),
		Type:            t,
		Timestamp:       ts,
		DurationSeconds: in.DurationSeconds,
		Severity:        severity,
		Description:     description,
		Confidence:      confidence,
	}, nil
}

// AppendEvent appends one event and recomputes score and summary. The event
// is published only after the append has succeeded.
func (r *Registry) AppendEvent(id string, in EventInput) (AppendResult, error) {
	release, err := r.acquire(id)
	if err != nil {
		return AppendResult{}, err
	}
	defer release()

	s, err := r.snapshot(id)
	if err != nil {
		return AppendResult{}, err
	}
	if s.IsTerminal() {
		return AppendResult{}, ErrSessionTerminal
	}

	ev, err := r.buildEvent(in)
	if err != nil {
		return AppendResult{}, err
	}

	s.Events = append(s.Events, ev)
	s.IntegrityScore = Score(s.Events)
	s.Summary = Summarize(s.Events)
	r.commit(s)

	metrics.EventsAppended.WithLabelValues(ev.Type.String()).Inc()
	r.publish(id, ev)

	return AppendResult{Event: ev, Score: s.IntegrityScore, Summary: s.Summary}, nil
}

// AppendBatch appends multiple events in one serialized mutation. Either all
// inputs are valid and appended or none are.
func (r *Registry) AppendBatch(id string, ins []EventInput) (int, AppendResult, error) {
	release, err := r.acquire(id)
	if err != nil {
		return 0, AppendResult{}, err
	}
	defer release()

	s, err := r.snapshot(id)
	if err != nil {
		return 0, AppendResult{}, err
	}
	if s.IsTerminal() {
		return 0, AppendResult{}, ErrSessionTerminal
	}

	evs := make([]Event, 0, len(ins))
	for _, in := range ins {
		ev, err := r.buildEvent(in)
		if err != nil {
			return 0, AppendResult{}, err
		}
		evs = append(evs, ev)
	}

	s.Events = append(s.Events, evs...)
	s.IntegrityScore = Score(s.Events)
	s.Summary = Summarize(s.Events)
	r.commit(s)

	for _, ev := range evs {
		metrics.EventsAppended.WithLabelValues(ev.Type.String()).Inc()
		r.publish(id, ev)
	}

	res := AppendResult{Score: s.IntegrityScore, Summary: s.Summary}
	if len(evs) > 0 {
		res.Event = evs[len(evs)-1]
	}
	return len(evs), res, nil
}

// DeleteEvent removes one event administratively and recomputes score and
// summary, so the derived values can never go stale.
func (r *Registry) DeleteEvent(id, eventID string) (AppendResult, error) {
	release, err := r.acquire(id)
	if err != nil {
		return AppendResult{}, err
	}
	defer release()

	s, err := r.snapshot(id)
	if err != nil {
		return AppendResult{}, err
	}

	idx := -1
	for i, ev := range s.Events {
		if ev.ID == eventID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return AppendResult{}, ErrEventNotFound
	}

	s.Events = append(s.Events[:idx], s.Events[idx+1:]...)
	s.IntegrityScore = Score(s.Events)
	s.Summary = Summarize(s.Events)
	r.commit(s)

	return AppendResult{Score: s.IntegrityScore, Summary: s.Summary}, nil
}

// End completes an active session: sets the end time, appends exactly one
// session_end event and recomputes the duration. Ending a session twice is
// rejected with ErrSessionTerminal.
func (r *Registry) End(id, notes string) (*Session, error) {
	release, err := r.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	s, err := r.snapshot(id)
	if err != nil {
		return nil, err
	}
	if s.IsTerminal() {
		return nil, ErrSessionTerminal
	}

	now := r.now()
	s.EndTime = &now
	s.Status = Completed
	s.Notes = notes
	s.UpdateDuration()

	ev := Event{
		ID:          uuid.NewString(),
		Type:        SessionEnd,
		Timestamp:   now,
		Severity:    Low,
		Description: "Interview session ended",
	}
	s.Events = append(s.Events, ev)
	s.IntegrityScore = Score(s.Events)
	s.Summary = Summarize(s.Events)
	r.commit(s)

	metrics.EventsAppended.WithLabelValues(ev.Type.String()).Inc()
	r.publish(id, ev)
	r.archive(s)

	r.logger.Info().Str("session_id", id).Int("score", s.IntegrityScore).Msg("session completed")
	return s.Clone(), nil
}

// Terminate aborts an active session administratively. No transition is
// defined out of it; nothing in the pipeline invokes this on its own.
func (r *Registry) Terminate(id, reason string) (*Session, error) {
	release, err := r.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	s, err := r.snapshot(id)
	if err != nil {
		return nil, err
	}
	if s.IsTerminal() {
		return nil, ErrSessionTerminal
	}

	now := r.now()
	s.EndTime = &now
	s.Status = Terminated
	if reason != "" {
		s.Notes = reason
	}
	s.UpdateDuration()
	r.commit(s)

	r.archive(s)
	r.logger.Warn().Str("session_id", id).Str("reason", reason).Msg("session terminated")
	return s.Clone(), nil
}

// Remove deletes a session. It takes the per-session lock like any other
// mutation, so an in-flight append can never commit its clone back after the
// delete. The lock entry itself is kept: dropping it would hand a waiter a
// fresh semaphore while the old one is still held.
func (r *Registry) Remove(id string) error {
	release, err := r.acquire(id)
	if err != nil {
		return err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

// publish hands the event to the hub. Called only after a successful append,
// while the per-session lock is still held so per-topic order matches log
// order. Never blocks and never fails the append.
func (r *Registry) publish(id string, ev Event) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(id, ev)
}

// archive persists a terminal session off the mutation path.
func (r *Registry) archive(s *Session) {
	if r.archiver == nil {
		return
	}
	clone := s.Clone()
	go func() {
		if err := r.archiver.Save(clone); err != nil {
			metrics.ArchiveFailures.Inc()
			r.logger.Error().Err(err).Str("session_id", clone.ID).Msg("archive write failed")
		}
	}()
}
