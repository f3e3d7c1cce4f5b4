// Package questbar detects the quest-bar strip at the bottom of the main
// city screen: the scroll icon, its red badge, the current quest text, the
// green completion check, and any tutorial finger.
package questbar

import (
	"image"

	ximaging "github.com/questbot/engine/pkg/imaging"
	"github.com/questbot/engine/pkg/matcher"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/ocr"
	"github.com/questbot/engine/pkg/template"
)

// Detector finds the quest-bar strip and its contents.
type Detector struct {
	Templates *template.Store
	OCR       *ocr.Port
	Threshold float64
}

func NewDetector(templates *template.Store, ocrPort *ocr.Port, threshold float64) *Detector {
	return &Detector{Templates: templates, OCR: ocrPort, Threshold: threshold}
}

func isRedBadge(h, s, v float64) bool {
	return (h >= 0 && h <= 10 || h >= 170 && h <= 180) && s >= 120 && v >= 150
}

func isGreenCheck(h, s, v float64) bool {
	return h >= 50 && h <= 85 && s >= 100 && v >= 100
}

func countHSV(frame *image.RGBA, region model.Bbox, predicate func(h, s, v float64) bool) int {
	b := frame.Bounds()
	count := 0
	for y := region.Y1; y < region.Y2; y++ {
		for x := region.X1; x < region.X2; x++ {
			if x < 0 || y < 0 || x >= b.Dx() || y >= b.Dy() {
				continue
			}
			h, s, v := ximaging.HSVOpenCV(frame.At(b.Min.X+x, b.Min.Y+y))
			if predicate(h, s, v) {
				count++
			}
		}
	}
	return count
}

// Detect runs the full quest-bar pipeline over frame.
func (d *Detector) Detect(frame *image.RGBA) model.QuestBarInfo {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	info := model.QuestBarInfo{}

	if d.Templates == nil {
		return info
	}
	scrollTmpl, ok := d.Templates.GetWithPrefixes("quest_bar/scroll", nil)
	if !ok {
		return info
	}
	m, ok := matcher.MatchOne(frame, nil, scrollTmpl, d.Threshold)
	if !ok {
		return info
	}
	// Require center Y in [0.82H, 0.92H] band.
	bandMin := int(0.82 * float64(h))
	bandMax := int(0.92 * float64(h))
	if m.CenterY < bandMin || m.CenterY > bandMax {
		return info
	}

	info.Visible = true
	info.ScrollIconCenterX = m.CenterX
	info.ScrollIconCenterY = m.CenterY
	info.ScrollIconBbox = m.Bbox

	// Red badge: upper-right quadrant of scroll bbox.
	badgeRegion := model.Bbox{
		X1: m.Bbox.X1 + m.Bbox.Width()/2, Y1: m.Bbox.Y1,
		X2: m.Bbox.X2, Y2: m.Bbox.Y1 + m.Bbox.Height()/2,
	}
	info.HasRedBadge = countHSV(frame, badgeRegion, isRedBadge) >= 50

	// Quest text OCR band.
	if d.OCR != nil {
		pad := 10
		textRegion := model.Bbox{
			X1: m.Bbox.X2, Y1: maxInt(m.Bbox.Y1-pad, 0),
			X2: int(0.9 * float64(w)), Y2: minInt(m.Bbox.Y2+pad, h),
		}
		if textRegion.Valid() {
			results, err := d.OCR.Detect(frame, &textRegion)
			if err == nil && len(results) > 0 {
				best := results[0]
				for _, r := range results[1:] {
					if r.Confidence > best.Confidence {
						best = r
					}
				}
				info.CurrentQuestText = best.Text
				info.CurrentQuestBbox = best.Bbox

				// Green check to the right of quest bbox, width ~= 2*bbox-height
				checkW := 2 * best.Bbox.Height()
				checkRegion := model.Bbox{
					X1: best.Bbox.X2, Y1: best.Bbox.Y1,
					X2: best.Bbox.X2 + checkW, Y2: best.Bbox.Y2,
				}
				info.HasGreenCheck = countHSV(frame, checkRegion, isGreenCheck) >= 50
			}
		}
	}

	// Tutorial finger present anywhere at default threshold.
	if fingerTmpl, ok := d.Templates.GetWithPrefixes("icons/tutorial_finger", nil); ok {
		if fm, ok := matcher.MatchOne(frame, nil, fingerTmpl, d.Threshold); ok {
			info.HasTutorialFinger = true
			info.TutorialFingerCenterX = fm.CenterX
			info.TutorialFingerCenterY = fm.CenterY
		}
	}

	return info
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Decode is a convenience for callers holding an image.Image rather than an
// already-converted *image.RGBA.
func Decode(img image.Image) *image.RGBA {
	return ximaging.ToRGBA(img)
}
