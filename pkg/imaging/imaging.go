// Package imaging holds small image-decoding, cropping and scaling helpers
// shared by the template store, the OCR port, the detectors and the advisor.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/questbot/engine/pkg/model"
)

// Decode reads an image file (PNG/JPEG) from disk.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// ToRGBA copies any image.Image into a concrete *image.RGBA for fast,
// uniform pixel access in the matcher and contour heuristics.
func ToRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Scale resizes src to width x height using bilinear interpolation.
func Scale(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// Crop copies the region of src covered by bbox into a fresh RGBA image
// with zero-based bounds.
func Crop(src image.Image, bbox model.Bbox) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, bbox.Width(), bbox.Height()))
	b := src.Bounds()
	draw.Draw(dst, dst.Bounds(), src, image.Pt(b.Min.X+bbox.X1, b.Min.Y+bbox.Y1), draw.Src)
	return dst
}

// AlphaMask extracts a binary opacity mask from an RGBA image: true where
// alpha > 128. Returns nil if the image has no meaningful
// transparency (every pixel alpha == 255).
func AlphaMask(img *image.RGBA) []bool {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := make([]bool, w*h)
	hasTransparency := false
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			_, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			alpha8 := uint8(a >> 8)
			if alpha8 <= 128 {
				hasTransparency = true
			}
			mask[y*w+x] = alpha8 > 128
		}
	}
	if !hasTransparency {
		return nil
	}
	return mask
}

// HSV converts an 8-bit RGB triple to (H in [0,360), S in [0,1], V in [0,1]).
func HSV(c color.Color) (h, s, v float64) {
	r32, g32, b32, _ := c.RGBA()
	r := float64(r32>>8) / 255
	g := float64(g32>>8) / 255
	b := float64(b32>>8) / 255

	max := r
	if g > max {
		max = g
	}
	if b > max {
		max = b
	}
	min := r
	if g < min {
		min = g
	}
	if b < min {
		min = b
	}
	v = max
	delta := max - min
	if max == 0 {
		s = 0
	} else {
		s = delta / max
	}
	if delta == 0 {
		h = 0
		return
	}
	switch max {
	case r:
		h = 60 * (((g - b) / delta))
	case g:
		h = 60 * ((b-r)/delta + 2)
	case b:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return
}

// HSVOpenCV converts to OpenCV's 8-bit HSV convention (H in [0,180), S
// and V in [0,255]), which is what the detector thresholds are written in.
func HSVOpenCV(c color.Color) (h, s, v float64) {
	h360, s01, v01 := HSV(c)
	return h360 / 2, s01 * 255, v01 * 255
}
