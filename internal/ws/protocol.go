package ws

import (
	"time"

	"github.com/proctorwatch/backend/internal/session"
)

type MessageType string

const (
	MsgViolation MessageType = "violation"
	MsgSignal    MessageType = "signal"
	MsgError     MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// AlertPayload is the live violation alert delivered to observers.
type AlertPayload struct {
	EventType string                 `json:"eventType"`
	Severity  string                 `json:"severity"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// SignalPayload is one raw perception tick sent by a candidate connection.
type SignalPayload struct {
	Category     string  `json:"category"`
	SignalActive bool    `json:"signalActive"`
	Confidence   float64 `json:"confidence"`
}

// ErrorPayload reports a non-fatal problem back on the socket.
type ErrorPayload struct {
	Message string `json:"message"`
}

// alertFromEvent builds the broadcast message for a confirmed event. The
// severity fallback for broadcast contexts is low, not medium.
func alertFromEvent(ev session.Event) AlertPayload {
	return AlertPayload{
		EventType: ev.Type.String(),
		Severity:  session.BroadcastSeverity(ev.Type).String(),
		Data: map[string]interface{}{
			"durationSeconds": ev.DurationSeconds,
			"description":     ev.Description,
			"confidence":      ev.Confidence,
		},
		Timestamp: ev.Timestamp,
	}
}
