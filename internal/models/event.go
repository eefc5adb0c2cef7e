package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies recognition events emitted by a capture session.
type EventType string

const (
	EventFacePending        EventType = "face_pending"         // matched, debounce not yet satisfied
	EventFaceUnknown        EventType = "face_unknown"         // probe matched nothing
	EventAttendanceMarked   EventType = "attendance_marked"    // ledger accepted the record
	EventAttendanceRepeated EventType = "attendance_repeated"  // person already marked today
	EventLivenessProgress   EventType = "liveness_progress"    // blink/turn state advanced
	EventNoEncodings        EventType = "no_encodings"         // enrolled set is empty
)

// RecognitionEvent is published to the WebSocket hub and, when configured,
// to the NATS event feed.
type RecognitionEvent struct {
	Type      EventType `json:"type"`
	SessionID uuid.UUID `json:"session_id"`
	TokenNo   string    `json:"token_no,omitempty"`
	Name      string    `json:"name,omitempty"`
	Distance  float64   `json:"distance,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
