package models

import "time"

// Student is an enrolled identity. Rows are immutable apart from the display
// name; re-registration under an existing token is rejected, not merged.
type Student struct {
	TokenNo      string    `json:"token_no" db:"token_no"`
	Name         string    `json:"name" db:"name"`
	PhotoKey     string    `json:"photo_key" db:"photo_key"`
	EncodingPath string    `json:"encoding_path" db:"encoding_path"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
