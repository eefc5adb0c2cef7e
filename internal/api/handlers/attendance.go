package handlers

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceroll/internal/models"
	"github.com/your-org/faceroll/internal/storage"
	"github.com/your-org/faceroll/pkg/dto"
)

type AttendanceHandler struct {
	db *storage.PostgresStore
}

func NewAttendanceHandler(db *storage.PostgresStore) *AttendanceHandler {
	return &AttendanceHandler{db: db}
}

// day resolves the ?date= query, defaulting to today.
func day(c *gin.Context) (string, error) {
	d := c.Query("date")
	if d == "" {
		return time.Now().Format(models.DayFormat), nil
	}
	if _, err := time.Parse(models.DayFormat, d); err != nil {
		return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD", d)
	}
	return d, nil
}

// ByDay returns who was present and who was absent on a given day.
func (h *AttendanceHandler) ByDay(c *gin.Context) {
	d, err := day(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	present, err := h.db.ListAttendanceByDay(c.Request.Context(), d)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	absent, err := h.db.ListAbsentByDay(c.Request.Context(), d)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.AttendanceDayResponse{Day: d}
	resp.Present = make([]dto.AttendanceEntry, 0, len(present))
	for _, r := range present {
		resp.Present = append(resp.Present, attendanceEntry(r))
	}
	resp.Absent = make([]dto.StudentResponse, 0, len(absent))
	for _, s := range absent {
		resp.Absent = append(resp.Absent, studentResponse(s))
	}
	c.JSON(http.StatusOK, resp)
}

// Summary returns headline counts for a day.
func (h *AttendanceHandler) Summary(c *gin.Context) {
	d, err := day(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enrolled, err := h.db.CountStudents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	present, err := h.db.ListAttendanceByDay(c.Request.Context(), d)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	summary := dto.AttendanceSummary{
		Day:      d,
		Enrolled: enrolled,
		Present:  len(present),
		Absent:   enrolled - len(present),
	}
	for _, r := range present {
		switch r.Status {
		case models.StatusOnTime:
			summary.OnTime++
		case models.StatusLate:
			summary.Late++
		}
	}
	c.JSON(http.StatusOK, summary)
}

// ExportCSV streams the day's sheet as CSV.
func (h *AttendanceHandler) ExportCSV(c *gin.Context) {
	d, err := day(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	present, err := h.db.ListAttendanceByDay(c.Request.Context(), d)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	absent, err := h.db.ListAbsentByDay(c.Request.Context(), d)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="attendance_%s.csv"`, d))

	if err := writeAttendanceCSV(c.Writer, d, present, absent); err != nil {
		// Headers are already on the wire; the truncation can only be
		// logged, not reported as a status.
		slog.Error("write attendance export", "day", d, "error", err)
	}
}

// writeAttendanceCSV writes the day's sheet: everyone who was marked, then
// the absentees with an Absent status and no time.
func writeAttendanceCSV(w io.Writer, day string, present []models.AttendanceRecord, absent []models.Student) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"token_no", "name", "day", "time", "status"}); err != nil {
		return err
	}
	for _, r := range present {
		if err := cw.Write([]string{r.TokenNo, r.Name, r.Day, r.TimeOfDay, string(r.Status)}); err != nil {
			return err
		}
	}
	for _, s := range absent {
		if err := cw.Write([]string{s.TokenNo, s.Name, day, "", "Absent"}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func attendanceEntry(r models.AttendanceRecord) dto.AttendanceEntry {
	return dto.AttendanceEntry{
		TokenNo: r.TokenNo,
		Name:    r.Name,
		Day:     r.Day,
		Time:    r.TimeOfDay,
		Status:  string(r.Status),
	}
}
