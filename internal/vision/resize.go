package vision

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Letterbox canvas dimensions expected by the analysis endpoint.
const (
	letterboxWidth  = 768
	letterboxHeight = 1024
)

// Letterbox scales src to fit the canvas while preserving aspect ratio and
// centers it on a white background.
func Letterbox(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	scaledW := letterboxWidth
	scaledH := srcH * letterboxWidth / srcW
	if scaledH > letterboxHeight {
		scaledH = letterboxHeight
		scaledW = srcW * letterboxHeight / srcH
	}
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, letterboxWidth, letterboxHeight))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	offsetX := (letterboxWidth - scaledW) / 2
	offsetY := (letterboxHeight - scaledH) / 2
	target := image.Rect(offsetX, offsetY, offsetX+scaledW, offsetY+scaledH)
	draw.CatmullRom.Scale(dst, target, src, bounds, draw.Over, nil)
	return dst
}
