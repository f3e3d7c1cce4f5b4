package matcher

import (
	"image"
	"image/color"
	"testing"

	"github.com/questbot/engine/pkg/model"
)

func solidTemplate(name string, w, h int, c color.RGBA) model.Template {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return model.Template{Name: name, Img: img, Width: w, Height: h}
}

func frameWithPatch(w, h, px, py, pw, ph int, bg, fg color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, bg)
		}
	}
	for y := py; y < py+ph; y++ {
		for x := px; x < px+pw; x++ {
			img.Set(x, y, fg)
		}
	}
	return img
}

// MatchOne finds an exact solid-color patch with near-1.0 confidence.
func TestMatchOne_FindsExactPatch(t *testing.T) {
	tmpl := solidTemplate("patch", 10, 10, color.RGBA{200, 50, 50, 255})
	frame := frameWithPatch(100, 100, 30, 40, 10, 10, color.RGBA{10, 10, 10, 255}, color.RGBA{200, 50, 50, 255})

	m, ok := MatchOne(frame, nil, tmpl, DefaultThreshold)
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Bbox.X1 != 30 || m.Bbox.Y1 != 40 {
		t.Errorf("expected bbox at (30,40), got (%d,%d)", m.Bbox.X1, m.Bbox.Y1)
	}
	if m.Confidence < 0.99 {
		t.Errorf("expected near-1.0 confidence, got %v", m.Confidence)
	}
}

// MatchOne returns false when no region of the frame resembles the template.
func TestMatchOne_NoMatchBelowThreshold(t *testing.T) {
	tmpl := solidTemplate("patch", 10, 10, color.RGBA{0, 255, 0, 255})
	frame := image.NewRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			frame.Set(x, y, color.RGBA{255, 0, 0, 255})
		}
	}
	_, ok := MatchOne(frame, nil, tmpl, DefaultThreshold)
	if ok {
		t.Error("expected no match for a uniformly different-colored frame")
	}
}

// MatchMulti never returns two results overlapping by more than half a
// template dimension on either axis.
func TestMatchMulti_NonOverlapping(t *testing.T) {
	tmpl := solidTemplate("dot", 10, 10, color.RGBA{0, 0, 255, 255})
	frame := image.NewRGBA(image.Rect(0, 0, 200, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 200; x++ {
			frame.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	for _, px := range []int{10, 60, 120} {
		for y := 5; y < 15; y++ {
			for x := px; x < px+10; x++ {
				frame.Set(x, y, color.RGBA{0, 0, 255, 255})
			}
		}
	}

	results := MatchMulti(frame, nil, tmpl, DefaultThreshold, 10)
	if len(results) < 2 {
		t.Fatalf("expected at least 2 matches, got %d", len(results))
	}
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[i].Bbox.OverlapsHalfDimension(results[j].Bbox) {
				t.Errorf("matches %d and %d overlap by more than half a template dimension", i, j)
			}
		}
	}
}

// A template whose mask has zero opaque area is always rejected.
func TestMatchOne_RejectsZeroMaskArea(t *testing.T) {
	tmpl := solidTemplate("empty-mask", 10, 10, color.RGBA{1, 2, 3, 255})
	tmpl.Mask = make([]bool, 100) // all false
	frame := frameWithPatch(50, 50, 5, 5, 10, 10, color.RGBA{0, 0, 0, 255}, color.RGBA{1, 2, 3, 255})

	_, ok := MatchOne(frame, nil, tmpl, DefaultThreshold)
	if ok {
		t.Error("expected zero-mask-area template to be rejected")
	}
}
