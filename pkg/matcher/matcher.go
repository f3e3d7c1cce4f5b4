// Package matcher performs normalized template cross-correlation with an
// optional mask: single-best, multi-non-overlapping, and category scans,
// hand-rolled over image.RGBA planes. The regions it scans are small
// enough that a cgo computer-vision binding would buy nothing.
package matcher

import (
	"image"
	"math"

	"github.com/questbot/engine/pkg/model"
)

// DefaultThreshold is the match confidence threshold used when callers don't
// override it.
const DefaultThreshold = 0.8

// gray returns the luma-ish grayscale intensity in [0,255] for pixel (x,y).
func gray(img *image.RGBA, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

// correlateAt computes the match confidence of tmpl placed with its
// top-left corner at (ox, oy) in frame. When tmpl has a mask, this is
// CCORR_NORMED restricted to opaque pixels; otherwise CCOEFF_NORMED
// (mean-subtracted) over the full template.
func correlateAt(frame *image.RGBA, fb image.Rectangle, tmpl model.Template, timg *image.RGBA, ox, oy int) (float64, bool) {
	w, h := tmpl.Width, tmpl.Height
	if ox < 0 || oy < 0 || ox+w > fb.Dx() || oy+h > fb.Dy() {
		return 0, false
	}

	if tmpl.HasMask() {
		return ccorrNormedMasked(frame, fb, timg, tmpl, ox, oy)
	}
	return ccoeffNormed(frame, fb, timg, w, h, ox, oy)
}

func ccorrNormedMasked(frame *image.RGBA, fb image.Rectangle, timg *image.RGBA, tmpl model.Template, ox, oy int) (float64, bool) {
	var num, sumT2, sumS2 float64
	n := 0
	for ty := 0; ty < tmpl.Height; ty++ {
		for tx := 0; tx < tmpl.Width; tx++ {
			if !tmpl.MaskAt(tx, ty) {
				continue
			}
			n++
			tv := gray(timg, tx, ty)
			sv := gray(frame, fb.Min.X+ox+tx, fb.Min.Y+oy+ty)
			num += tv * sv
			sumT2 += tv * tv
			sumS2 += sv * sv
		}
	}
	if n == 0 || sumT2 == 0 || sumS2 == 0 {
		return 0, false
	}
	return num / math.Sqrt(sumT2*sumS2), true
}

func ccoeffNormed(frame *image.RGBA, fb image.Rectangle, timg *image.RGBA, w, h, ox, oy int) (float64, bool) {
	n := float64(w * h)
	var sumT, sumS float64
	for ty := 0; ty < h; ty++ {
		for tx := 0; tx < w; tx++ {
			sumT += gray(timg, tx, ty)
			sumS += gray(frame, fb.Min.X+ox+tx, fb.Min.Y+oy+ty)
		}
	}
	meanT := sumT / n
	meanS := sumS / n

	var num, sumT2, sumS2 float64
	for ty := 0; ty < h; ty++ {
		for tx := 0; tx < w; tx++ {
			dt := gray(timg, tx, ty) - meanT
			ds := gray(frame, fb.Min.X+ox+tx, fb.Min.Y+oy+ty) - meanS
			num += dt * ds
			sumT2 += dt * dt
			sumS2 += ds * ds
		}
	}
	// A flat template or window has no variance to correlate; rounding in the
	// means leaves a tiny residue rather than an exact zero. Two flat patches
	// score 1 when their intensities agree and are rejected otherwise.
	flat := 1e-6 * n
	if sumT2 < flat || sumS2 < flat {
		if sumT2 < flat && sumS2 < flat && math.Abs(meanT-meanS) < 0.5 {
			return 1, true
		}
		return 0, false
	}
	return num / math.Sqrt(sumT2*sumS2), true
}

// scanResult is an internal best-match candidate before MatchResult framing.
type scanResult struct {
	ox, oy int
	conf   float64
}

// scan slides tmpl over the region [region] of frame (region nil = whole
// frame), returning every position where the confidence is defined (caller
// filters by threshold).
func scan(frame *image.RGBA, region *model.Bbox, tmpl model.Template, timg *image.RGBA) []scanResult {
	fb := frame.Bounds()
	minX, minY := 0, 0
	maxX, maxY := fb.Dx()-tmpl.Width, fb.Dy()-tmpl.Height
	if region != nil {
		minX, minY = region.X1, region.Y1
		maxX = min(maxX, region.X2-tmpl.Width)
		maxY = min(maxY, region.Y2-tmpl.Height)
	}
	if maxX < minX || maxY < minY {
		return nil
	}

	var results []scanResult
	for oy := minY; oy <= maxY; oy++ {
		for ox := minX; ox <= maxX; ox++ {
			conf, ok := correlateAt(frame, fb, tmpl, timg, ox, oy)
			if !ok {
				continue
			}
			results = append(results, scanResult{ox: ox, oy: oy, conf: conf})
		}
	}
	return results
}

func toMatchResult(tmpl model.Template, r scanResult) model.MatchResult {
	bbox := model.Bbox{X1: r.ox, Y1: r.oy, X2: r.ox + tmpl.Width, Y2: r.oy + tmpl.Height}
	cx, cy := bbox.Center()
	return model.MatchResult{
		TemplateName: tmpl.Name,
		Confidence:   r.conf,
		CenterX:      cx,
		CenterY:      cy,
		Bbox:         bbox,
	}
}

// MatchOne finds the single best match of tmpl in frame, restricted to
// region if given. Returns false if nothing clears threshold. A MatchResult
// whose mask-area is zero is always rejected.
func MatchOne(frame *image.RGBA, region *model.Bbox, tmpl model.Template, threshold float64) (model.MatchResult, bool) {
	if tmpl.HasMask() && tmpl.MaskArea() == 0 {
		return model.MatchResult{}, false
	}
	timg := ensureRGBA(tmpl)
	best := scanResult{conf: -1}
	found := false
	for _, r := range scan(frame, region, tmpl, timg) {
		if r.conf > best.conf {
			best = r
			found = true
		}
	}
	if !found || best.conf < threshold {
		return model.MatchResult{}, false
	}
	return toMatchResult(tmpl, best), true
}

// MatchMulti returns up to maxMatches non-overlapping matches of tmpl in
// frame above threshold: each iteration picks the argmax, records it,
// then suppresses a window of half-template-size around the hit before
// re-scanning.
func MatchMulti(frame *image.RGBA, region *model.Bbox, tmpl model.Template, threshold float64, maxMatches int) []model.MatchResult {
	if tmpl.HasMask() && tmpl.MaskArea() == 0 {
		return nil
	}
	timg := ensureRGBA(tmpl)
	candidates := scan(frame, region, tmpl, timg)

	var results []model.MatchResult
	suppressed := make([]bool, len(candidates))
	for len(results) < maxMatches {
		bestIdx := -1
		bestConf := threshold
		for i, c := range candidates {
			if suppressed[i] || c.conf < bestConf {
				continue
			}
			bestConf = c.conf
			bestIdx = i
		}
		if bestIdx < 0 {
			break
		}
		best := candidates[bestIdx]
		results = append(results, toMatchResult(tmpl, best))

		// Suppress a window of half-template-size around the hit.
		halfW, halfH := tmpl.Width/2, tmpl.Height/2
		for i, c := range candidates {
			if suppressed[i] {
				continue
			}
			if abs(c.ox-best.ox) <= halfW && abs(c.oy-best.oy) <= halfH {
				suppressed[i] = true
			}
		}
	}
	return results
}

// MatchCategory matches each named template (looked up through get) against frame,
// returning only those above threshold, sorted by descending confidence.
func MatchCategory(frame *image.RGBA, names []string, get func(string) (model.Template, bool), threshold float64) []model.MatchResult {
	var out []model.MatchResult
	for _, name := range names {
		tmpl, ok := get(name)
		if !ok {
			continue
		}
		if m, ok := MatchOne(frame, nil, tmpl, threshold); ok {
			out = append(out, m)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Confidence > out[j-1].Confidence; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func ensureRGBA(tmpl model.Template) *image.RGBA {
	if rgba, ok := tmpl.Img.(*image.RGBA); ok {
		return rgba
	}
	rgba := image.NewRGBA(tmpl.Img.Bounds())
	b := tmpl.Img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			rgba.Set(x, y, tmpl.Img.At(x, y))
		}
	}
	return rgba
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
