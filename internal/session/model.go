package session

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// EventType classifies proctoring events. The set is closed: anything the
// perception side reports outside of it is rejected before reaching the log.
type EventType int

const (
	FaceNotDetected EventType = iota
	MultipleFaces
	LookingAway
	PhoneDetected
	BookDetected
	DeviceDetected
	EyesClosed
	AudioDetected
	SessionStart
	SessionEnd
)

var eventTypeNames = map[EventType]string{
	FaceNotDetected: "face_not_detected",
	MultipleFaces:   "multiple_faces",
	LookingAway:     "looking_away",
	PhoneDetected:   "phone_detected",
	BookDetected:    "book_detected",
	DeviceDetected:  "device_detected",
	EyesClosed:      "eyes_closed",
	AudioDetected:   "audio_detected",
	SessionStart:    "session_start",
	SessionEnd:      "session_end",
}

var eventTypeFromName = map[string]EventType{
	"face_not_detected": FaceNotDetected,
	"multiple_faces":    MultipleFaces,
	"looking_away":      LookingAway,
	"phone_detected":    PhoneDetected,
	"book_detected":     BookDetected,
	"device_detected":   DeviceDetected,
	"eyes_closed":       EyesClosed,
	"audio_detected":    AudioDetected,
	"session_start":     SessionStart,
	"session_end":       SessionEnd,
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseEventType maps a wire name to its EventType. ok is false for names
// outside the closed set.
func ParseEventType(name string) (EventType, bool) {
	t, ok := eventTypeFromName[name]
	return t, ok
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := eventTypeFromName[s]
	if !ok {
		return fmt.Errorf("unknown event type %q", s)
	}
	*t = v
	return nil
}

// Severity grades how serious an event is.
type Severity int

const (
	Low Severity = iota
	Medium
	High
)

var severityNames = map[Severity]string{
	Low:    "low",
	Medium: "medium",
	High:   "high",
}

var severityFromName = map[string]Severity{
	"low":    Low,
	"medium": Medium,
	"high":   High,
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return "medium"
}

// ParseSeverity maps a wire name to its Severity.
func ParseSeverity(name string) (Severity, bool) {
	s, ok := severityFromName[name]
	return s, ok
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	v, ok := severityFromName[str]
	if !ok {
		return fmt.Errorf("unknown severity %q", str)
	}
	*s = v
	return nil
}

// severityTable is the single source of truth for default severities. Both
// the append path and the broadcast path consult it; nothing else may carry
// its own copy.
var severityTable = map[EventType]Severity{
	FaceNotDetected: High,
	MultipleFaces:   High,
	LookingAway:     Medium,
	PhoneDetected:   High,
	BookDetected:    High,
	DeviceDetected:  High,
	EyesClosed:      Medium,
	AudioDetected:   Medium,
}

// DefaultSeverity returns the severity for an event type when the adapter
// does not supply one. Types outside the table default to medium.
func DefaultSeverity(t EventType) Severity {
	if s, ok := severityTable[t]; ok {
		return s
	}
	return Medium
}

// BroadcastSeverity is the lookup used for live alerts, where unlisted types
// fall back to low instead of medium.
func BroadcastSeverity(t EventType) Severity {
	if s, ok := severityTable[t]; ok {
		return s
	}
	return Low
}

// Status is the session lifecycle state.
type Status int

const (
	Active Status = iota
	Completed
	Terminated
)

var statusNames = map[Status]string{
	Active:     "active",
	Completed:  "completed",
	Terminated: "terminated",
}

var statusFromName = map[string]Status{
	"active":     Active,
	"completed":  Completed,
	"terminated": Terminated,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseStatus maps a wire name to its Status.
func ParseStatus(name string) (Status, bool) {
	s, ok := statusFromName[name]
	return s, ok
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	v, ok := statusFromName[str]
	if !ok {
		return fmt.Errorf("unknown status %q", str)
	}
	*s = v
	return nil
}

// Event is one entry in a session's log. Events are immutable once appended.
type Event struct {
	ID              string    `json:"id"`
	Type            EventType `json:"eventType"`
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"durationSeconds"`
	Severity        Severity  `json:"severity"`
	Description     string    `json:"description"`
	Confidence      float64   `json:"confidence"`
}

// Summary holds the per-session violation counters.
type Summary struct {
	TotalViolations    int `json:"totalViolations"`
	FocusLostEvents    int `json:"focusLostEvents"`
	UnauthorizedItems  int `json:"unauthorizedItems"`
	MultipleFaceEvents int `json:"multipleFaceEvents"`
	NoFaceEvents       int `json:"noFaceEvents"`
}

// Session is one monitored exam/interview session and its event log.
// IntegrityScore and Summary are derived from Events and never mutated
// independently.
type Session struct {
	ID              string     `json:"sessionId"`
	CandidateName   string     `json:"candidateName"`
	CandidateEmail  string     `json:"candidateEmail"`
	InterviewerName string     `json:"interviewerName"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationMinutes int        `json:"durationMinutes"`
	Status          Status     `json:"status"`
	IntegrityScore  int        `json:"integrityScore"`
	Summary         Summary    `json:"summary"`
	Events          []Event    `json:"events"`
	Notes           string     `json:"notes,omitempty"`
}

// Clone returns a deep copy so the caller can read or mutate it without
// racing the registry's copy.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if len(s.Events) > 0 {
		c.Events = make([]Event, len(s.Events))
		copy(c.Events, s.Events)
	}
	return &c
}

// IsTerminal reports whether the session reached a state that permits no
// further transitions or log mutations.
func (s *Session) IsTerminal() bool {
	return s.Status == Completed || s.Status == Terminated
}

// UpdateDuration recomputes DurationMinutes from the start/end pair.
func (s *Session) UpdateDuration() {
	if s.EndTime == nil {
		return
	}
	s.DurationMinutes = int(math.Round(s.EndTime.Sub(s.StartTime).Minutes()))
}
