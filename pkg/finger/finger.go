// Package finger detects the in-game tutorial hand glyph: a sensitive
// masked correlation pass across orientation variants, then a masked NCC
// verification that rejects background-correlated false positives.
package finger

import (
	"image"

	"github.com/questbot/engine/pkg/matcher"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/template"
)

// Default thresholds.
const (
	DefaultCCorrMin = 0.85
	DefaultNCCMin   = 0.45
)

// Result is a surviving finger candidate: its match, orientation tag, and
// the computed fingertip tap point.
type Result struct {
	Match         model.MatchResult
	Orientation   string
	FingertipX    int
	FingertipY    int
}

// fingertipOffsets gives the per-orientation (dx, dy) offset from the
// matched center to the fingertip, applied before clamping to frame
// bounds. Values are empirical per the base icon's glyph geometry.
var fingertipOffsets = map[string][2]int{
	template.VariantNormal: {-25, 43},
	template.VariantFlipH:  {25, 43},
	template.VariantFlipV:  {-25, -43},
	template.VariantFlipHV: {25, -43},
	template.VariantRotCW:  {34, 30},
}

// VariantSource supplies the orientation variant set; the template store
// satisfies it.
type VariantSource interface {
	OrientationTemplates(baseName string) map[string]model.Template
}

// Detector runs the two-stage pipeline against the "icons/tutorial_finger"
// orientation variant set loaded by the template store.
type Detector struct {
	Templates VariantSource
	CCorrMin  float64
	NCCMin    float64
	BaseName  string
}

func NewDetector(templates VariantSource, ccorrMin, nccMin float64) *Detector {
	if ccorrMin == 0 {
		ccorrMin = DefaultCCorrMin
	}
	if nccMin == 0 {
		nccMin = DefaultNCCMin
	}
	return &Detector{Templates: templates, CCorrMin: ccorrMin, NCCMin: nccMin, BaseName: "icons/tutorial_finger"}
}

// Detect runs stage 1 (sensitive masked CCORR_NORMED) then stage 2 (masked
// NCC verification) across every orientation variant, returning the
// highest-confidence surviving candidate; a result whose stage-2 NCC is
// below threshold is never returned, regardless of stage-1 confidence.
func (d *Detector) Detect(frame *image.RGBA) (Result, bool) {
	variants := d.Templates.OrientationTemplates(d.BaseName)
	if len(variants) == 0 {
		return Result{}, false
	}

	var best Result
	found := false
	for variant, tmpl := range variants {
		m, ok := matcher.MatchOne(frame, nil, tmpl, d.CCorrMin)
		if !ok {
			continue
		}
		nccScore, ok := matcher.MaskedNCC(frame, tmpl, m.Bbox.X1, m.Bbox.Y1)
		if !ok || nccScore < d.NCCMin {
			continue
		}
		if !found || m.Confidence > best.Match.Confidence {
			dx, dy := offsetFor(variant)
			fx := clamp(m.CenterX+dx, 0, frame.Bounds().Dx()-1)
			fy := clamp(m.CenterY+dy, 0, frame.Bounds().Dy()-1)
			best = Result{Match: m, Orientation: variantLabel(variant), FingertipX: fx, FingertipY: fy}
			found = true
		}
	}
	return best, found
}

func offsetFor(variant string) (int, int) {
	if off, ok := fingertipOffsets[variant]; ok {
		return off[0], off[1]
	}
	return 0, 0
}

func variantLabel(variant string) string {
	if variant == template.VariantNormal {
		return "normal"
	}
	return variant
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
