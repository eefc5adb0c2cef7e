package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // enrollment photos are not always JPEG
	"log/slog"
	"path/filepath"
	"time"

	"github.com/your-org/faceroll/internal/config"
	"github.com/your-org/faceroll/internal/observability"
)

// ErrNoFaceDetected is returned when an enrollment photo contains no
// detectable face.
var ErrNoFaceDetected = errors.New("no face detected in image")

// Engine bundles the detector and embedder behind the two operations the
// rest of the system needs: find faces in a frame, and turn a face into
// an embedding.
type Engine struct {
	detector *Detector
	embedder *Embedder
}

// NewEngine loads both ONNX models from cfg.ModelsDir.
func NewEngine(cfg config.VisionConfig) (*Engine, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("vision engine ready")

	return &Engine{detector: det, embedder: emb}, nil
}

// Detect finds all faces in the image.
func (e *Engine) Detect(img image.Image) ([]Detection, error) {
	bounds := img.Bounds()

	start := time.Now()
	detInput := preprocessForDetection(img, e.detector.inputW, e.detector.inputH)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	detections, err := e.detector.Detect(detInput, bounds.Dx(), bounds.Dy())
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return detections, nil
}

// Embed crops the detected face out of the image and extracts its embedding.
func (e *Engine) Embed(img image.Image, det Detection) ([]float32, error) {
	faceCrop := CropFace(img, det.BBox)
	if faceCrop == nil {
		return nil, fmt.Errorf("degenerate face box %v", det.BBox)
	}

	start := time.Now()
	embInput := preprocessForEmbedding(faceCrop, e.embedder.inputW, e.embedder.inputH)
	embedding, err := e.embedder.Extract(embInput)
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return embedding, nil
}

// EmbedImage extracts an embedding from a standalone photo, used at
// enrollment time. When the photo contains several faces the highest
// confidence one wins. Returns ErrNoFaceDetected when there is none.
func (e *Engine) EmbedImage(imageData []byte) ([]float32, float32, error) {
	img, err := jpeg.Decode(bytes.NewReader(imageData))
	if err != nil {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, 0, fmt.Errorf("decode image: %w", err)
		}
	}

	detections, err := e.Detect(img)
	if err != nil {
		return nil, 0, fmt.Errorf("detect: %w", err)
	}
	if len(detections) == 0 {
		return nil, 0, ErrNoFaceDetected
	}

	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}

	embedding, err := e.Embed(img, best)
	if err != nil {
		return nil, 0, fmt.Errorf("embed: %w", err)
	}

	return embedding, best.Confidence, nil
}

// EmbeddingDim returns the embedding vector dimension.
func (e *Engine) EmbeddingDim() int {
	return e.embedder.EmbeddingDim()
}

// Close releases both ONNX sessions.
func (e *Engine) Close() {
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
}
