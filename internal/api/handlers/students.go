package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceroll/internal/encoding"
	"github.com/your-org/faceroll/internal/models"
	"github.com/your-org/faceroll/internal/storage"
	"github.com/your-org/faceroll/internal/vision"
	"github.com/your-org/faceroll/pkg/dto"
)

// StudentStore is the slice of the database the student endpoints need.
// *storage.PostgresStore satisfies it.
type StudentStore interface {
	CreateStudent(ctx context.Context, st *models.Student, embedding []float32) error
	GetStudent(ctx context.Context, tokenNo string) (*models.Student, error)
	ListStudents(ctx context.Context) ([]models.Student, error)
	UpdateStudentName(ctx context.Context, tokenNo, name string) error
	DeleteStudent(ctx context.Context, tokenNo string) error
	SearchStudents(ctx context.Context, embedding []float32, limit int) ([]storage.StudentMatch, error)
}

// ObjectStore persists enrollment photos. *storage.MinIOStore satisfies it.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

type StudentHandler struct {
	db        StudentStore
	minio     ObjectStore
	encodings *encoding.Store
	// EmbedFn extracts a face embedding from photo bytes.
	EmbedFn     func(imageData []byte) ([]float32, float32, error)
	PhotoPrefix string
}

func NewStudentHandler(db StudentStore, minio ObjectStore, encodings *encoding.Store) *StudentHandler {
	return &StudentHandler{db: db, minio: minio, encodings: encodings}
}

// Register enrolls a student from a multipart form: token_no, name, photo.
// The photo must contain exactly one recognizable face.
func (h *StudentHandler) Register(c *gin.Context) {
	tokenNo := strings.TrimSpace(c.PostForm("token_no"))
	name := strings.TrimSpace(c.PostForm("name"))
	if tokenNo == "" || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token_no and name are required"})
		return
	}

	fileHeader, err := c.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	photoData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision models not loaded"})
		return
	}
	embedding, confidence, err := h.EmbedFn(photoData)
	if err != nil {
		if errors.Is(err, vision.ErrNoFaceDetected) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected in photo"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	photoKey := fmt.Sprintf("%s/%s.jpg", h.PhotoPrefix, tokenNo)
	student := &models.Student{
		TokenNo:      tokenNo,
		Name:         name,
		PhotoKey:     photoKey,
		EncodingPath: filepath.Join(h.encodings.Dir(), tokenNo+".json"),
	}

	// Database first: its unique key decides who owns the token, so a
	// losing concurrent registration cannot clobber the winner's encoding.
	if err := h.db.CreateStudent(c.Request.Context(), student, embedding); err != nil {
		if errors.Is(err, storage.ErrDuplicateToken) {
			c.JSON(http.StatusConflict, gin.H{"error": "token already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.encodings.WriteRecord(tokenNo, name, embedding); err != nil {
		h.rollbackRegistration(c.Request.Context(), tokenNo, false)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.minio.PutObject(c.Request.Context(), photoKey, photoData, "image/jpeg"); err != nil {
		h.rollbackRegistration(c.Request.Context(), tokenNo, true)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Pick the new enrollment up without waiting for the idle reload.
	if _, _, err := h.encodings.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.RegisterStudentResponse{
		StudentResponse: dto.StudentResponse{
			TokenNo:   tokenNo,
			Name:      name,
			PhotoKey:  photoKey,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
		Confidence: confidence,
	})
}

// rollbackRegistration undoes a half-finished enrollment. A token left
// behind with no usable encoding would be permanently blocked: duplicate
// checks reject it, but the face can never match.
func (h *StudentHandler) rollbackRegistration(ctx context.Context, tokenNo string, removeEncoding bool) {
	if err := h.db.DeleteStudent(ctx, tokenNo); err != nil {
		slog.Warn("rollback enrollment row", "token", tokenNo, "error", err)
	}
	if removeEncoding {
		if err := h.encodings.RemoveRecord(tokenNo); err != nil {
			slog.Warn("rollback encoding record", "token", tokenNo, "error", err)
		}
	}
}

func (h *StudentHandler) List(c *gin.Context) {
	students, err := h.db.ListStudents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.StudentResponse, 0, len(students))
	for _, s := range students {
		resp = append(resp, studentResponse(s))
	}
	c.JSON(http.StatusOK, dto.StudentListResponse{Students: resp, Total: len(resp)})
}

func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.db.GetStudent(c.Request.Context(), c.Param("token"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if student == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	c.JSON(http.StatusOK, studentResponse(*student))
}

// Update renames a student, keeping the enrolled encoding in sync.
func (h *StudentHandler) Update(c *gin.Context) {
	tokenNo := c.Param("token")

	var req dto.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.UpdateStudentName(c.Request.Context(), tokenNo, req.Name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	// Rewrite the encoding file so live matches show the new name.
	set := h.encodings.Snapshot()
	for i, id := range set.IDs {
		if id == tokenNo {
			if _, err := h.encodings.WriteRecord(tokenNo, req.Name, set.Embeddings[i]); err == nil {
				_, _, _ = h.encodings.Reload()
			}
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{"token_no": tokenNo, "name": req.Name})
}

// Delete removes the student and every artifact tied to the token: the
// database row, the enrollment photo and the encoding file.
func (h *StudentHandler) Delete(c *gin.Context) {
	tokenNo := c.Param("token")

	student, err := h.db.GetStudent(c.Request.Context(), tokenNo)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if student == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}

	if err := h.db.DeleteStudent(c.Request.Context(), tokenNo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.encodings.RemoveRecord(tokenNo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if student.PhotoKey != "" {
		if err := h.minio.DeleteObject(c.Request.Context(), student.PhotoKey); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if _, _, err := h.encodings.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// Photo streams the stored enrollment photo.
func (h *StudentHandler) Photo(c *gin.Context) {
	student, err := h.db.GetStudent(c.Request.Context(), c.Param("token"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if student == nil || student.PhotoKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), student.PhotoKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Search finds the enrolled students nearest to the face in an uploaded
// photo, by embedding distance.
func (h *StudentHandler) Search(c *gin.Context) {
	fileHeader, err := c.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	photoData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision models not loaded"})
		return
	}
	embedding, _, err := h.EmbedFn(photoData)
	if err != nil {
		if errors.Is(err, vision.ErrNoFaceDetected) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected in photo"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	matches, err := h.db.SearchStudents(c.Request.Context(), embedding, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.SearchResponse{Matches: make([]dto.SearchMatch, 0, len(matches))}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, dto.SearchMatch{
			TokenNo:  m.TokenNo,
			Name:     m.Name,
			Distance: m.Distance,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func studentResponse(s models.Student) dto.StudentResponse {
	return dto.StudentResponse{
		TokenNo:   s.TokenNo,
		Name:      s.Name,
		PhotoKey:  s.PhotoKey,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
}
