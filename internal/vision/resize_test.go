package vision

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestLetterboxCanvasDimensions(t *testing.T) {
	dst := Letterbox(solidImage(100, 100, color.RGBA{R: 255, A: 255}))
	bounds := dst.Bounds()
	if bounds.Dx() != letterboxWidth || bounds.Dy() != letterboxHeight {
		t.Fatalf("canvas = %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), letterboxWidth, letterboxHeight)
	}
}

func TestLetterboxCentersWideImage(t *testing.T) {
	// A 2:1 source scales to 768x384 and sits vertically centered, leaving
	// white bands above and below.
	red := color.RGBA{R: 255, A: 255}
	dst := Letterbox(solidImage(200, 100, red))

	r, g, b, _ := dst.At(letterboxWidth/2, letterboxHeight/2).RGBA()
	if r>>8 < 200 || g>>8 > 50 || b>>8 > 50 {
		t.Fatalf("center pixel = (%d,%d,%d), want red source content", r>>8, g>>8, b>>8)
	}

	r, g, b, _ = dst.At(letterboxWidth/2, 10).RGBA()
	if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Fatalf("top band pixel = (%d,%d,%d), want white", r>>8, g>>8, b>>8)
	}
}

func TestLetterboxCentersTallImage(t *testing.T) {
	blue := color.RGBA{B: 255, A: 255}
	dst := Letterbox(solidImage(100, 400, blue))

	_, _, b, _ := dst.At(letterboxWidth/2, letterboxHeight/2).RGBA()
	if b>>8 < 200 {
		t.Fatalf("center pixel blue = %d, want blue source content", b>>8)
	}

	r, g, b, _ := dst.At(10, letterboxHeight/2).RGBA()
	if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Fatalf("side band pixel = (%d,%d,%d), want white", r>>8, g>>8, b>>8)
	}
}
