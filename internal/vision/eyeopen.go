package vision

import (
	"image"
	"math"
)

// EyeOpenness estimates how open the subject's eyes are, in [0, 1].
//
// The detector's five landmarks give eye centers but no eyelid contour, so
// the classic aspect-ratio measure is not available here. Instead we sample
// a patch around each eye center and measure the fraction of dark pixels:
// an open eye shows the pupil and iris, a closed one mostly skin. The score
// is the smaller of the two eyes, so a wink does not count as open.
//
// Returns NaN when the landmarks fall outside the image, which callers
// treat as "no reading this frame".
func EyeOpenness(img image.Image, landmarks [5][2]float32) float64 {
	leftEye := landmarks[0]
	rightEye := landmarks[1]

	// Patch radius scales with the distance between the eyes so the
	// measure is stable across subject distance.
	dx := float64(rightEye[0] - leftEye[0])
	dy := float64(rightEye[1] - leftEye[1])
	interocular := math.Sqrt(dx*dx + dy*dy)
	radius := int(interocular * 0.18)
	if radius < 2 {
		return math.NaN()
	}

	left := darkFraction(img, int(leftEye[0]), int(leftEye[1]), radius)
	right := darkFraction(img, int(rightEye[0]), int(rightEye[1]), radius)
	if math.IsNaN(left) || math.IsNaN(right) {
		return math.NaN()
	}
	return math.Min(left, right)
}

// darkFraction returns the share of pixels in the patch darker than half
// the patch's mean luma. NaN when the patch is outside the image.
func darkFraction(img image.Image, cx, cy, radius int) float64 {
	bounds := img.Bounds()
	x1 := cx - radius
	y1 := cy - radius
	x2 := cx + radius
	y2 := cy + radius
	if x1 < bounds.Min.X || y1 < bounds.Min.Y || x2 > bounds.Max.X || y2 > bounds.Max.Y {
		return math.NaN()
	}

	var total, count float64
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			total += luma(img, x, y)
			count++
		}
	}
	if count == 0 {
		return math.NaN()
	}
	mean := total / count

	var dark float64
	threshold := mean * 0.5
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			if luma(img, x, y) < threshold {
				dark++
			}
		}
	}
	return dark / count
}

func luma(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}
