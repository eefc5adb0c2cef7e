package models

import "time"

// Status classifies an attendance record against the late cutoff.
type Status string

const (
	StatusOnTime Status = "On Time"
	StatusLate   Status = "Late"
)

const (
	// DayFormat is the calendar-day key used for the (token, day) uniqueness.
	DayFormat = "2006-01-02"
	// ClockFormat is the wall-clock representation stored alongside a record.
	ClockFormat = "15:04:05"
)

// AttendanceRecord is one person's attendance for one calendar day.
// At most one record exists per (TokenNo, Day); the store enforces this.
type AttendanceRecord struct {
	TokenNo   string `json:"token_no" db:"token_no"`
	Name      string `json:"name" db:"name"`
	Day       string `json:"day" db:"day"`
	TimeOfDay string `json:"time_of_day" db:"time_of_day"`
	Status    Status `json:"status" db:"status"`
}

// NewAttendanceRecord builds a record for now, classified against cutoff.
// A mark at exactly the cutoff is still on time.
func NewAttendanceRecord(tokenNo, name string, now time.Time, cutoff string) AttendanceRecord {
	status := StatusOnTime
	if now.Format(ClockFormat) > cutoff {
		status = StatusLate
	}
	return AttendanceRecord{
		TokenNo:   tokenNo,
		Name:      name,
		Day:       now.Format(DayFormat),
		TimeOfDay: now.Format(ClockFormat),
		Status:    status,
	}
}
