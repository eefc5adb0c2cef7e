package handlers

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceroll/internal/encoding"
	"github.com/your-org/faceroll/internal/models"
	"github.com/your-org/faceroll/internal/storage"
)

type fakeStudentStore struct {
	mu       sync.Mutex
	students map[string]models.Student
	deleted  []string
}

func newFakeStudentStore() *fakeStudentStore {
	return &fakeStudentStore{students: make(map[string]models.Student)}
}

func (s *fakeStudentStore) CreateStudent(ctx context.Context, st *models.Student, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.students[st.TokenNo]; exists {
		return storage.ErrDuplicateToken
	}
	s.students[st.TokenNo] = *st
	return nil
}

func (s *fakeStudentStore) GetStudent(ctx context.Context, tokenNo string) (*models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[tokenNo]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *fakeStudentStore) ListStudents(ctx context.Context) ([]models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Student, 0, len(s.students))
	for _, st := range s.students {
		out = append(out, st)
	}
	return out, nil
}

func (s *fakeStudentStore) UpdateStudentName(ctx context.Context, tokenNo, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[tokenNo]
	if !ok {
		return errors.New("student not found")
	}
	st.Name = name
	s.students[tokenNo] = st
	return nil
}

func (s *fakeStudentStore) DeleteStudent(ctx context.Context, tokenNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.students, tokenNo)
	s.deleted = append(s.deleted, tokenNo)
	return nil
}

func (s *fakeStudentStore) SearchStudents(ctx context.Context, embedding []float32, limit int) ([]storage.StudentMatch, error) {
	return nil, nil
}

func (s *fakeStudentStore) has(tokenNo string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.students[tokenNo]
	return ok
}

func (s *fakeStudentStore) deletedTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

type fakeObjectStore struct {
	objects map[string][]byte
	putErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = data
	return nil
}

func (s *fakeObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (s *fakeObjectStore) DeleteObject(ctx context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func stubEmbedFn([]byte) ([]float32, float32, error) {
	emb := make([]float32, 16)
	emb[0] = 1
	return emb, 0.95, nil
}

func registerRouter(h *StudentHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/students", h.Register)
	return r
}

func enrollmentRequest(t *testing.T, tokenNo, name string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if err := w.WriteField("token_no", tokenNo); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := w.WriteField("name", name); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := w.CreateFormFile("photo", "face.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("photo bytes")); err != nil {
		t.Fatalf("write photo: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/students", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestRegisterStoresRowEncodingAndPhoto(t *testing.T) {
	db := newFakeStudentStore()
	objects := newFakeObjectStore()
	dir := t.TempDir()
	encodings := encoding.NewStore(dir)

	h := NewStudentHandler(db, objects, encodings)
	h.EmbedFn = stubEmbedFn
	h.PhotoPrefix = "photos"

	w := httptest.NewRecorder()
	registerRouter(h).ServeHTTP(w, enrollmentRequest(t, "S001", "Alice"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if !db.has("S001") {
		t.Error("student row missing")
	}
	if _, err := os.Stat(filepath.Join(dir, "S001.json")); err != nil {
		t.Errorf("encoding file missing: %v", err)
	}
	if _, ok := objects.objects["photos/S001.jpg"]; !ok {
		t.Error("photo object missing")
	}
}

func TestRegisterDuplicateTokenConflicts(t *testing.T) {
	db := newFakeStudentStore()
	h := NewStudentHandler(db, newFakeObjectStore(), encoding.NewStore(t.TempDir()))
	h.EmbedFn = stubEmbedFn
	h.PhotoPrefix = "photos"
	r := registerRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, enrollmentRequest(t, "S001", "Alice"))
	if w.Code != http.StatusCreated {
		t.Fatalf("first enrollment: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, enrollmentRequest(t, "S001", "Impostor"))
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate enrollment: status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestRegisterRollsBackRowWhenPhotoUploadFails(t *testing.T) {
	db := newFakeStudentStore()
	objects := newFakeObjectStore()
	objects.putErr = errors.New("object store down")
	dir := t.TempDir()

	h := NewStudentHandler(db, objects, encoding.NewStore(dir))
	h.EmbedFn = stubEmbedFn
	h.PhotoPrefix = "photos"

	w := httptest.NewRecorder()
	registerRouter(h).ServeHTTP(w, enrollmentRequest(t, "S001", "Alice"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if db.has("S001") {
		t.Error("student row must be rolled back so the token can re-enroll")
	}
	if got := db.deletedTokens(); len(got) != 1 || got[0] != "S001" {
		t.Errorf("deleted tokens = %v, want [S001]", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "S001.json")); !os.IsNotExist(err) {
		t.Errorf("encoding file must be rolled back, stat err = %v", err)
	}
}

func TestRegisterRollsBackRowWhenEncodingWriteFails(t *testing.T) {
	db := newFakeStudentStore()

	// Point the encoding store below a regular file so writes fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	encodings := encoding.NewStore(filepath.Join(blocker, "encodings"))

	h := NewStudentHandler(db, newFakeObjectStore(), encodings)
	h.EmbedFn = stubEmbedFn
	h.PhotoPrefix = "photos"

	w := httptest.NewRecorder()
	registerRouter(h).ServeHTTP(w, enrollmentRequest(t, "S001", "Alice"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if db.has("S001") {
		t.Error("student row must be rolled back so the token can re-enroll")
	}
}
