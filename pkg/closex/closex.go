// Package closex locates popup close buttons: a multi-candidate template
// match plus HSV red-pixel verification to reject false positives.
package closex

import (
	"image"

	ximaging "github.com/questbot/engine/pkg/imaging"
	"github.com/questbot/engine/pkg/matcher"
	"github.com/questbot/engine/pkg/model"
)

const (
	maxCandidates  = 50
	redOpaqueMin   = 0.15
	redBgMax       = 0.30
	matchThreshold = 0.7
)

// TemplateSource supplies the close-x template; the template store
// satisfies it.
type TemplateSource interface {
	GetWithPrefixes(name string, prefixes []string) (model.Template, bool)
}

// Verifier locates "buttons/close_x" candidates and rejects false positives
// by HSV red-pixel ratio.
type Verifier struct {
	Templates TemplateSource
}

func NewVerifier(templates TemplateSource) *Verifier {
	return &Verifier{Templates: templates}
}

func isRedOpenCV(h, s, v float64) bool {
	return (h <= 10 || h >= 170) && s >= 80 && v >= 80
}

// Verify scans up to 50 close_x candidates and picks the one maximizing
// red_opaque - red_bg, requiring red_opaque >= 0.15 and red_bg <= 0.30,
// and that the match lie in the top 35% / right 55% of the frame.
func (v *Verifier) Verify(frame *image.RGBA) (model.MatchResult, bool) {
	if v.Templates == nil {
		return model.MatchResult{}, false
	}
	tmpl, ok := v.Templates.GetWithPrefixes("buttons/close_x", nil)
	if !ok {
		return model.MatchResult{}, false
	}

	candidates := matcher.MatchMulti(frame, nil, tmpl, matchThreshold, maxCandidates)

	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	topLimit := int(0.35 * float64(h))
	rightLimit := int(0.45 * float64(w)) // right 55% == x >= 45% of width

	var best model.MatchResult
	bestScore := -1.0
	found := false
	for _, c := range candidates {
		if c.Bbox.Y2 > topLimit || c.Bbox.X1 < rightLimit {
			continue
		}
		redOpaque, redBg := redRatios(frame, tmpl, c.Bbox)
		if redOpaque < redOpaqueMin || redBg > redBgMax {
			continue
		}
		score := redOpaque - redBg
		if !found || score > bestScore {
			best = c
			bestScore = score
			found = true
		}
	}
	return best, found
}

// redRatios computes red_opaque (fraction of opaque template pixels that
// are red) and red_bg (same fraction on transparent pixels).
func redRatios(frame *image.RGBA, tmpl model.Template, bbox model.Bbox) (redOpaque, redBg float64) {
	b := frame.Bounds()
	var opaqueTotal, opaqueRed, bgTotal, bgRed int
	for ty := 0; ty < tmpl.Height; ty++ {
		for tx := 0; tx < tmpl.Width; tx++ {
			fx, fy := bbox.X1+tx, bbox.Y1+ty
			if fx < 0 || fy < 0 || fx >= b.Dx() || fy >= b.Dy() {
				continue
			}
			hh, ss, vv := ximaging.HSVOpenCV(frame.At(b.Min.X+fx, b.Min.Y+fy))
			red := isRedOpenCV(hh, ss, vv)
			if tmpl.MaskAt(tx, ty) {
				opaqueTotal++
				if red {
					opaqueRed++
				}
			} else {
				bgTotal++
				if red {
					bgRed++
				}
			}
		}
	}
	if opaqueTotal > 0 {
		redOpaque = float64(opaqueRed) / float64(opaqueTotal)
	}
	if bgTotal > 0 {
		redBg = float64(bgRed) / float64(bgTotal)
	}
	return
}
