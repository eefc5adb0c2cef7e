package dto

import "github.com/google/uuid"

type StartCaptureRequest struct {
	// Mode is "attendance" (default) or "liveness".
	Mode string `json:"mode"`
}

type SessionResponse struct {
	ID        uuid.UUID `json:"id"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	StartedAt string    `json:"started_at,omitempty"`
}
