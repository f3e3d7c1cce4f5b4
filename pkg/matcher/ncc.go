package matcher

import (
	"image"
	"math"

	"github.com/questbot/engine/pkg/model"
)

// MaskedNCC computes normalized cross-correlation restricted to the
// template's opaque pixels, at a single candidate placement (ox, oy) in
// frame, used by the Finger Detector's stage-2 verification: for
// each RGB channel, subtract the per-channel mean over opaque pixels,
// divide by sqrt(sum(t^2) * sum(s^2)), then average the three channel
// scores. Returns false if the template has no mask or no opaque pixels
// fall inside the candidate window.
func MaskedNCC(frame *image.RGBA, tmpl model.Template, ox, oy int) (float64, bool) {
	if !tmpl.HasMask() {
		return 0, false
	}
	timg := ensureRGBA(tmpl)
	fb := frame.Bounds()
	if ox < 0 || oy < 0 || ox+tmpl.Width > fb.Dx() || oy+tmpl.Height > fb.Dy() {
		return 0, false
	}

	var sumTR, sumTG, sumTB float64
	var sumSR, sumSG, sumSB float64
	n := 0
	for ty := 0; ty < tmpl.Height; ty++ {
		for tx := 0; tx < tmpl.Width; tx++ {
			if !tmpl.MaskAt(tx, ty) {
				continue
			}
			n++
			tr, tg, tb, _ := timg.At(tx, ty).RGBA()
			sr, sg, sb, _ := frame.At(fb.Min.X+ox+tx, fb.Min.Y+oy+ty).RGBA()
			sumTR += float64(tr >> 8)
			sumTG += float64(tg >> 8)
			sumTB += float64(tb >> 8)
			sumSR += float64(sr >> 8)
			sumSG += float64(sg >> 8)
			sumSB += float64(sb >> 8)
		}
	}
	if n == 0 {
		return 0, false
	}
	meanTR, meanTG, meanTB := sumTR/float64(n), sumTG/float64(n), sumTB/float64(n)
	meanSR, meanSG, meanSB := sumSR/float64(n), sumSG/float64(n), sumSB/float64(n)

	var numR, numG, numB float64
	var t2R, t2G, t2B float64
	var s2R, s2G, s2B float64
	for ty := 0; ty < tmpl.Height; ty++ {
		for tx := 0; tx < tmpl.Width; tx++ {
			if !tmpl.MaskAt(tx, ty) {
				continue
			}
			tr, tg, tb, _ := timg.At(tx, ty).RGBA()
			sr, sg, sb, _ := frame.At(fb.Min.X+ox+tx, fb.Min.Y+oy+ty).RGBA()

			dtr, dtg, dtb := float64(tr>>8)-meanTR, float64(tg>>8)-meanTG, float64(tb>>8)-meanTB
			dsr, dsg, dsb := float64(sr>>8)-meanSR, float64(sg>>8)-meanSG, float64(sb>>8)-meanSB

			numR += dtr * dsr
			numG += dtg * dsg
			numB += dtb * dsb
			t2R += dtr * dtr
			t2G += dtg * dtg
			t2B += dtb * dtb
			s2R += dsr * dsr
			s2G += dsg * dsg
			s2B += dsb * dsb
		}
	}

	score := 0.0
	channels := 0
	for _, c := range []struct{ num, t2, s2 float64 }{{numR, t2R, s2R}, {numG, t2G, s2G}, {numB, t2B, s2B}} {
		denom := math.Sqrt(c.t2 * c.s2)
		if denom == 0 {
			continue
		}
		score += c.num / denom
		channels++
	}
	if channels == 0 {
		return 0, false
	}
	return score / float64(channels), true
}
