package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

func TestNonMaxSuppressKeepsDistinctBoxes(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.9},
		{BBox: [4]float32{300, 300, 400, 400}, Confidence: 0.8},
	}
	got := nonMaxSuppress(dets, 0.4)
	if len(got) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(got))
	}
}

func TestNonMaxSuppressDropsOverlap(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.6},
		{BBox: [4]float32{5, 5, 105, 105}, Confidence: 0.9},
		{BBox: [4]float32{2, 2, 98, 98}, Confidence: 0.7},
	}
	got := nonMaxSuppress(dets, 0.4)
	if len(got) != 1 {
		t.Fatalf("expected 1 detection after suppression, got %d", len(got))
	}
	if got[0].Confidence != 0.9 {
		t.Errorf("expected highest confidence box to survive, got %v", got[0].Confidence)
	}
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b [4]float32
		want float32
	}{
		{"identical", [4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}, 1},
		{"disjoint", [4]float32{0, 0, 10, 10}, [4]float32{20, 20, 30, 30}, 0},
		{"half overlap", [4]float32{0, 0, 10, 10}, [4]float32{5, 0, 15, 10}, 1.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := iou(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-5 {
				t.Errorf("iou = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCropFacePadsAndClamps(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	crop := CropFace(img, [4]float32{10, 10, 50, 50})
	if crop == nil {
		t.Fatal("expected a crop")
	}
	b := crop.Bounds()
	// 40px box with 10% padding on each side.
	if b.Dx() != 48 || b.Dy() != 48 {
		t.Errorf("crop size = %dx%d, want 48x48", b.Dx(), b.Dy())
	}

	// Box hanging over the edge clamps instead of failing.
	crop = CropFace(img, [4]float32{-20, -20, 30, 30})
	if crop == nil {
		t.Fatal("expected a clamped crop")
	}
}

func TestCropFaceDegenerateBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	if crop := CropFace(img, [4]float32{50, 50, 50, 50}); crop != nil {
		t.Error("expected nil for a zero-area box")
	}
	if crop := CropFace(img, [4]float32{60, 60, 40, 40}); crop != nil {
		t.Error("expected nil for an inverted box")
	}
}

func TestDownscale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	half := Downscale(img, 2)
	if b := half.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
		t.Errorf("downscaled size = %dx%d, want 320x240", b.Dx(), b.Dy())
	}
	same := Downscale(img, 1)
	if b := same.Bounds(); b.Dx() != 640 {
		t.Errorf("factor 1 should leave the image unchanged, got width %d", b.Dx())
	}
}

func TestImageToFloat32CHWNormalization(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 128, A: 255})
		}
	}
	data := imageToFloat32CHW(img, 4, 4, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
	if len(data) != 3*4*4 {
		t.Fatalf("len = %d, want 48", len(data))
	}
	if math.Abs(float64(data[0]-1.0)) > 1e-5 {
		t.Errorf("R channel = %v, want 1.0", data[0])
	}
	if math.Abs(float64(data[16]+1.0)) > 1e-5 {
		t.Errorf("G channel = %v, want -1.0", data[16])
	}
}

func TestDecodeAcceptsPNGPhotos(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if _, format, err := image.Decode(&buf); err != nil || format != "png" {
		t.Fatalf("decode png: format=%q err=%v", format, err)
	}
}

func TestEyeOpennessDistinguishesPupil(t *testing.T) {
	// Light face with dark pupils at the eye landmarks.
	open := image.NewRGBA(image.Rect(0, 0, 200, 200))
	closed := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			open.Set(x, y, color.RGBA{R: 220, G: 190, B: 170, A: 255})
			closed.Set(x, y, color.RGBA{R: 220, G: 190, B: 170, A: 255})
		}
	}
	for _, eye := range [][2]int{{70, 80}, {130, 80}} {
		for y := eye[1] - 4; y <= eye[1]+4; y++ {
			for x := eye[0] - 4; x <= eye[0]+4; x++ {
				open.Set(x, y, color.RGBA{R: 10, G: 10, B: 10, A: 255})
			}
		}
	}

	lm := [5][2]float32{{70, 80}, {130, 80}, {100, 110}, {80, 140}, {120, 140}}
	openScore := EyeOpenness(open, lm)
	closedScore := EyeOpenness(closed, lm)
	if math.IsNaN(openScore) || math.IsNaN(closedScore) {
		t.Fatalf("unexpected NaN: open=%v closed=%v", openScore, closedScore)
	}
	if openScore <= closedScore {
		t.Errorf("open eyes should score higher: open=%v closed=%v", openScore, closedScore)
	}
}

func TestEyeOpennessOutOfBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	lm := [5][2]float32{{2, 2}, {48, 2}, {25, 25}, {10, 40}, {40, 40}}
	if !math.IsNaN(EyeOpenness(img, lm)) {
		t.Error("expected NaN when the eye patch leaves the image")
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	normalize(v)
	if math.Abs(float64(v[0]-0.6)) > 1e-5 || math.Abs(float64(v[1]-0.8)) > 1e-5 {
		t.Errorf("normalize = %v, want [0.6 0.8]", v)
	}

	zero := []float32{0, 0}
	normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Error("zero vector must stay zero")
	}
}
