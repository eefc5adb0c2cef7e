package capture

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Annotation colors for the live stream overlay.
var (
	colorPending = color.RGBA{R: 255, G: 200, B: 0, A: 255}   // seen, not yet confirmed
	colorMarked  = color.RGBA{R: 0, G: 200, B: 80, A: 255}    // attendance recorded
	colorUnknown = color.RGBA{R: 220, G: 40, B: 40, A: 255}   // face did not match anyone
	colorInfo    = color.RGBA{R: 200, G: 200, B: 200, A: 255} // status banner text
)

// annotateFace draws one face box plus label onto the canvas in place, so
// a frame with several faces carries every overlay at once.
func annotateFace(canvas *image.RGBA, bbox [4]float32, label string, col color.RGBA) {
	drawBox(canvas, bbox, col)
	if label != "" {
		drawLabel(canvas, int(bbox[0]), int(bbox[1])-4, label, col)
	}
}

// annotateBanner copies the frame and draws a status line in the top-left
// corner, used when there is no face box to anchor text to.
func annotateBanner(img image.Image, text string) *image.RGBA {
	canvas := toRGBA(img)
	drawLabel(canvas, 8, 20, text, colorInfo)
	return canvas
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		out := image.NewRGBA(rgba.Bounds())
		draw.Draw(out, out.Bounds(), rgba, rgba.Bounds().Min, draw.Src)
		return out
	}
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)
	return out
}

// drawBox draws a 2px rectangle outline clipped to the image.
func drawBox(img *image.RGBA, bbox [4]float32, col color.RGBA) {
	x1, y1 := int(bbox[0]), int(bbox[1])
	x2, y2 := int(bbox[2]), int(bbox[3])

	for t := 0; t < 2; t++ {
		for x := x1; x <= x2; x++ {
			setClipped(img, x, y1+t, col)
			setClipped(img, x, y2-t, col)
		}
		for y := y1; y <= y2; y++ {
			setClipped(img, x1+t, y, col)
			setClipped(img, x2-t, y, col)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, text string, col color.RGBA) {
	if y < basicfont.Face7x13.Ascent {
		y = basicfont.Face7x13.Ascent
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func setClipped(img *image.RGBA, x, y int, col color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, col)
	}
}
