package dto

type AttendanceEntry struct {
	TokenNo string `json:"token_no"`
	Name    string `json:"name"`
	Day     string `json:"day"`
	Time    string `json:"time"`
	Status  string `json:"status"`
}

type AttendanceDayResponse struct {
	Day     string            `json:"day"`
	Present []AttendanceEntry `json:"present"`
	Absent  []StudentResponse `json:"absent"`
}

type AttendanceSummary struct {
	Day      string `json:"day"`
	Enrolled int    `json:"enrolled"`
	Present  int    `json:"present"`
	OnTime   int    `json:"on_time"`
	Late     int    `json:"late"`
	Absent   int    `json:"absent"`
}
