package session

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventTypeMarshalJSON(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  string
	}{
		{FaceNotDetected, `"face_not_detected"`},
		{MultipleFaces, `"multiple_faces"`},
		{LookingAway, `"looking_away"`},
		{PhoneDetected, `"phone_detected"`},
		{BookDetected, `"book_detected"`},
		{DeviceDetected, `"device_detected"`},
		{EyesClosed, `"eyes_closed"`},
		{AudioDetected, `"audio_detected"`},
		{SessionStart, `"session_start"`},
		{SessionEnd, `"session_end"`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.eventType)
		if err != nil {
			t.Errorf("Marshal(%v) error: %v", tt.eventType, err)
			continue
		}
		if string(data) != tt.expected {
			t.Errorf("Marshal(%v) = %s, want %s", tt.eventType, data, tt.expected)
		}
	}
}

func TestParseEventType(t *testing.T) {
	if _, ok := ParseEventType("phone_detected"); !ok {
		t.Error("ParseEventType(phone_detected) not ok")
	}
	if _, ok := ParseEventType("keyboard_detected"); ok {
		t.Error("ParseEventType accepted a name outside the closed set")
	}
	if _, ok := ParseEventType(""); ok {
		t.Error("ParseEventType accepted empty string")
	}
}

func TestUnmarshalRejectsUnknownNames(t *testing.T) {
	var et EventType
	if err := json.Unmarshal([]byte(`"keyboard_detected"`), &et); err == nil {
		t.Error("EventType unmarshal accepted a name outside the closed set")
	}
	if err := json.Unmarshal([]byte(`"phone_detected"`), &et); err != nil {
		t.Errorf("EventType unmarshal rejected a valid name: %v", err)
	}
	if et != PhoneDetected {
		t.Errorf("EventType = %v, want phone_detected", et)
	}

	var sev Severity
	if err := json.Unmarshal([]byte(`"critical"`), &sev); err == nil {
		t.Error("Severity unmarshal accepted an unknown name")
	}

	var st Status
	if err := json.Unmarshal([]byte(`"paused"`), &st); err == nil {
		t.Error("Status unmarshal accepted an unknown name")
	}
}

func TestDefaultSeverity(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      Severity
	}{
		{FaceNotDetected, High},
		{MultipleFaces, High},
		{LookingAway, Medium},
		{PhoneDetected, High},
		{BookDetected, High},
		{DeviceDetected, High},
		{EyesClosed, Medium},
		{AudioDetected, Medium},
		{SessionStart, Medium}, // outside the table, append-path default
	}

	for _, tt := range tests {
		if got := DefaultSeverity(tt.eventType); got != tt.want {
			t.Errorf("DefaultSeverity(%v) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestBroadcastSeverityFallback(t *testing.T) {
	if got := BroadcastSeverity(SessionEnd); got != Low {
		t.Errorf("BroadcastSeverity(session_end) = %v, want low", got)
	}
	if got := BroadcastSeverity(PhoneDetected); got != High {
		t.Errorf("BroadcastSeverity(phone_detected) = %v, want high", got)
	}
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(Completed)
	if err != nil {
		t.Fatalf("Marshal(Completed) error: %v", err)
	}
	if string(data) != `"completed"` {
		t.Errorf("Marshal(Completed) = %s, want %q", data, "completed")
	}

	var st Status
	if err := json.Unmarshal([]byte(`"terminated"`), &st); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if st != Terminated {
		t.Errorf("Unmarshal(terminated) = %v, want Terminated", st)
	}
}

func TestSessionIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{Active, false},
		{Completed, true},
		{Terminated, true},
	}

	for _, tt := range tests {
		s := &Session{Status: tt.status}
		if got := s.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%v) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestUpdateDuration(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		want int
	}{
		{"exact hour", start.Add(60 * time.Minute), 60},
		{"rounds down", start.Add(29*time.Minute + 20*time.Second), 29},
		{"rounds up", start.Add(29*time.Minute + 40*time.Second), 30},
		{"sub minute", start.Add(20 * time.Second), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end := tt.end
			s := &Session{StartTime: start, EndTime: &end}
			s.UpdateDuration()
			if s.DurationMinutes != tt.want {
				t.Errorf("DurationMinutes = %d, want %d", s.DurationMinutes, tt.want)
			}
		})
	}
}

func TestUpdateDurationWithoutEnd(t *testing.T) {
	s := &Session{StartTime: time.Now(), DurationMinutes: 7}
	s.UpdateDuration()
	if s.DurationMinutes != 7 {
		t.Errorf("DurationMinutes changed with no end time: %d", s.DurationMinutes)
	}
}

func TestSessionClone(t *testing.T) {
	end := time.Now()
	s := &Session{
		ID:      "s1",
		EndTime: &end,
		Events:  []Event{{ID: "e1", Type: PhoneDetected}},
	}

	c := s.Clone()
	c.Events[0].Description = "mutated"
	*c.EndTime = end.Add(time.Hour)
	c.Events = append(c.Events, Event{ID: "e2"})

	if s.Events[0].Description == "mutated" {
		t.Error("clone shares event storage with original")
	}
	if !s.EndTime.Equal(end) {
		t.Error("clone shares EndTime pointer with original")
	}
	if len(s.Events) != 1 {
		t.Errorf("original event count changed: %d", len(s.Events))
	}
}

func TestEventJSONShape(t *testing.T) {
	ev := Event{
		ID:              "e1",
		Type:            LookingAway,
		Timestamp:       time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
		DurationSeconds: 6.5,
		Severity:        Medium,
		Description:     "looking away detected",
		Confidence:      0.9,
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded["eventType"] != "looking_away" {
		t.Errorf("eventType = %v, want looking_away", decoded["eventType"])
	}
	if decoded["severity"] != "medium" {
		t.Errorf("severity = %v, want medium", decoded["severity"])
	}
	if decoded["durationSeconds"] != 6.5 {
		t.Errorf("durationSeconds = %v, want 6.5", decoded["durationSeconds"])
	}
}
