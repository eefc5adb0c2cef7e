package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceroll/internal/capture"
	"github.com/your-org/faceroll/pkg/dto"
)

type CaptureHandler struct {
	manager *capture.Manager
	// baseCtx outlives individual requests; a session started over HTTP
	// must not die with the request that started it.
	baseCtx context.Context
}

func NewCaptureHandler(manager *capture.Manager, baseCtx context.Context) *CaptureHandler {
	return &CaptureHandler{manager: manager, baseCtx: baseCtx}
}

// Start opens the camera and begins a recognition session.
func (h *CaptureHandler) Start(c *gin.Context) {
	var req dto.StartCaptureRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	mode := capture.ModeAttendance
	switch req.Mode {
	case "", string(capture.ModeAttendance):
	case string(capture.ModeLiveness):
		mode = capture.ModeLiveness
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown mode %q", req.Mode)})
		return
	}

	session, err := h.manager.Start(h.baseCtx, mode)
	if err != nil {
		if errors.Is(err, capture.ErrNoCamera) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no camera available"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, sessionResponse(session))
}

// Stop halts a running session.
func (h *CaptureHandler) Stop(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	h.manager.Stop(id)
	c.Status(http.StatusNoContent)
}

// Status reports the current session, if any.
func (h *CaptureHandler) Status(c *gin.Context) {
	session := h.manager.Current()
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true, "session": sessionResponse(session)})
}

// Stream serves the annotated live feed as MJPEG
// (multipart/x-mixed-replace), the format browsers render natively in an
// <img> tag.
func (h *CaptureHandler) Stream(c *gin.Context) {
	session := h.manager.Current()
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session running"})
		return
	}

	frames, cancel := session.AttachViewer()
	defer cancel()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-session.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			_, err := fmt.Fprintf(c.Writer,
				"--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
			if err != nil {
				return
			}
			if _, err := c.Writer.Write(frame); err != nil {
				return
			}
			if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func sessionResponse(s *capture.Session) dto.SessionResponse {
	resp := dto.SessionResponse{
		ID:    s.ID,
		Mode:  string(s.Mode()),
		State: s.State().String(),
	}
	if !s.StartedAt().IsZero() {
		resp.StartedAt = s.StartedAt().UTC().Format(time.RFC3339)
	}
	return resp
}
