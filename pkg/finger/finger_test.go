package finger

import (
	"image"
	"image/color"
	"testing"

	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/template"
)

// fakeVariants serves a hand-built orientation set.
type fakeVariants map[string]model.Template

func (f fakeVariants) OrientationTemplates(baseName string) map[string]model.Template {
	return f
}

// stripeTemplate builds a 20x20 template whose central 10x10 is opaque with
// alternating red/white pixel rows, structured enough that only an exact
// placement correlates fully.
func stripeTemplate(name string) model.Template {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	mask := make([]bool, 20*20)
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			if x >= 5 && x < 15 && y >= 5 && y < 15 {
				mask[y*20+x] = true
				if y%2 == 0 {
					img.SetRGBA(x, y, color.RGBA{R: 230, G: 30, B: 30, A: 255})
				} else {
					img.SetRGBA(x, y, color.RGBA{R: 250, G: 250, B: 250, A: 255})
				}
			}
		}
	}
	return model.Template{Name: name, Img: img, Mask: mask, Width: 20, Height: 20}
}

// paintTemplateAt copies tmpl's opaque pixels into frame with the
// template's top-left at (ox, oy).
func paintTemplateAt(frame *image.RGBA, tmpl model.Template, ox, oy int) {
	src := tmpl.Img.(*image.RGBA)
	for y := 0; y < tmpl.Height; y++ {
		for x := 0; x < tmpl.Width; x++ {
			if tmpl.MaskAt(x, y) {
				frame.Set(ox+x, oy+y, src.At(x, y))
			}
		}
	}
}

// An exact on-screen replica of the glyph survives both stages and yields
// the fingertip at center plus the normal-orientation offset.
func TestDetectFindsGlyphAndFingertip(t *testing.T) {
	tmpl := stripeTemplate("icons/tutorial_finger")
	frame := image.NewRGBA(image.Rect(0, 0, 200, 200))
	paintTemplateAt(frame, tmpl, 90, 90) // center lands on (100,100)

	d := NewDetector(fakeVariants{template.VariantNormal: tmpl}, 0, 0)
	res, ok := d.Detect(frame)
	if !ok {
		t.Fatal("exact replica should be detected")
	}
	if res.Match.CenterX != 100 || res.Match.CenterY != 100 {
		t.Errorf("center = (%d,%d), want (100,100)", res.Match.CenterX, res.Match.CenterY)
	}
	if res.FingertipX != 75 || res.FingertipY != 143 {
		t.Errorf("fingertip = (%d,%d), want (75,143)", res.FingertipX, res.FingertipY)
	}
	if res.Orientation != "normal" {
		t.Errorf("orientation = %q, want normal", res.Orientation)
	}
}

// A flat glyph on a flat background scores a perfect stage-1 correlation
// but has no stage-2 NCC signal; the detector must reject it.
func TestDetectRejectsStageTwoFailure(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	mask := make([]bool, 20*20)
	for i := range mask {
		mask[i] = true
		img.SetRGBA(i%20, i/20, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	}
	flat := model.Template{Name: "icons/tutorial_finger", Img: img, Mask: mask, Width: 20, Height: 20}

	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			frame.SetRGBA(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}

	d := NewDetector(fakeVariants{template.VariantNormal: flat}, 0, 0)
	if _, ok := d.Detect(frame); ok {
		t.Fatal("a background-correlated candidate without NCC signal must be rejected")
	}
}

// The fingertip clamps to the frame bounds.
func TestFingertipClamped(t *testing.T) {
	tmpl := stripeTemplate("icons/tutorial_finger")
	frame := image.NewRGBA(image.Rect(0, 0, 60, 60))
	paintTemplateAt(frame, tmpl, 0, 38) // center (10,48); raw fingertip y = 91 > 59

	d := NewDetector(fakeVariants{template.VariantNormal: tmpl}, 0, 0)
	res, ok := d.Detect(frame)
	if !ok {
		t.Fatal("glyph should be detected")
	}
	if res.FingertipY != 59 {
		t.Errorf("fingertip y = %d, want clamped 59", res.FingertipY)
	}
	if res.FingertipX != 0 {
		t.Errorf("fingertip x = %d, want clamped 0", res.FingertipX)
	}
}
