package workflow

import (
	"image"
	"strings"
	"unicode/utf8"

	"github.com/questbot/engine/pkg/element"
	ximaging "github.com/questbot/engine/pkg/imaging"
	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/model"
)

const (
	// popupDismissDelayS / fingertipDelayS pace taps so the scene settles
	// before the next capture.
	popupDismissDelayS = 1.0
	fingertipDelayS    = 1.5

	// saturatedMeanMin is the mean-saturation floor distinguishing a
	// colored button background from body text.
	saturatedMeanMin = 90.0
)

// PopupFilter runs the ordered popup-dismiss ladder, shared between quest
// execution, the return-to-city phase, and the auto-loop's popup handling:
// stage A known dismiss texts on saturated backgrounds, stage B verified
// close-x, stage C tutorial finger inside the popup, stage D primary-button
// contour. Returns (actions, true) when a stage produced a dismissal.
func (w *Workflow) PopupFilter(frame *image.RGBA) ([]model.Action, bool) {
	// Stage A: known dismiss texts, but only on a colored button
	// background; OCR body text reuses the same words.
	results := w.perceptor.OCRDetect(frame, nil)
	for _, text := range w.profile.PopupDismissTexts {
		for _, r := range results {
			if !containsFold(r.Text, text) {
				continue
			}
			if !onSaturatedBackground(frame, r.Bbox) {
				continue
			}
			w.dismissedThisTick = true
			return []model.Action{model.TapDelayed(r.CenterX, r.CenterY, popupDismissDelayS, "dismiss_popup:"+text)}, true
		}
	}

	// Stage B: verified close-x in the top-right region.
	if w.closeX != nil {
		if m, ok := w.closeX.Verify(frame); ok {
			return []model.Action{model.TapDelayed(m.CenterX, m.CenterY, popupDismissDelayS, "dismiss_popup:close_x")}, true
		}
	}

	// Stage C: tutorial finger inside the popup. Text is unreliable here
	// because the finger covers button labels.
	if w.finger != nil {
		if f, ok := w.finger.Detect(frame); ok {
			return []model.Action{model.TapDelayed(f.FingertipX, f.FingertipY, fingertipDelayS, "dismiss_popup:finger")}, true
		}
	}

	// Stage D: primary-button contour with a short-text filter; a long
	// label is body text that happened to sit on a colored region.
	if el, ok := element.PrimaryButton(frame); ok {
		if w.buttonTextIsShort(frame, results, el.Bbox) {
			return []model.Action{model.TapDelayed(el.CenterX, el.CenterY, popupDismissDelayS, "dismiss_popup:primary_button")}, true
		}
	}

	return nil, false
}

// PopupEscalate is the ladder run when every PopupFilter stage failed,
// counted by popupBackCount: back-arrow or a low blank tap, then
// frame center, then the LLM advisor.
func (w *Workflow) PopupEscalate(frame *image.RGBA) []model.Action {
	w.popupBackCount++
	b := frame.Bounds()

	switch {
	case w.popupBackCount <= 2:
		if m, ok := w.perceptor.Match(frame, "buttons/back_arrow", 1); ok {
			return []model.Action{model.TapDelayed(m.CenterX, m.CenterY, popupDismissDelayS, "popup_escalate:back")}
		}
		return []model.Action{model.TapDelayed(b.Dx()/2, int(0.85*float64(b.Dy())), popupDismissDelayS, "popup_escalate:blank_low")}
	case w.popupBackCount <= 4:
		return []model.Action{model.TapDelayed(b.Dx()/2, b.Dy()/2, popupDismissDelayS, "popup_escalate:center")}
	default:
		if acts := w.consultAdvisor(frame, "A popup cannot be dismissed by template, text, finger or contour detection. Find the control that closes it."); len(acts) > 0 {
			return acts
		}
		logger.WarnC("workflow", "popup escalation exhausted without advisor")
		return []model.Action{model.TapDelayed(b.Dx()/2, b.Dy()/2, popupDismissDelayS, "popup_escalate:center")}
	}
}

// buttonTextIsShort reports whether the OCR text sitting inside bbox is
// short enough to be a button label (or absent entirely).
func (w *Workflow) buttonTextIsShort(frame *image.RGBA, results []model.OCRResult, bbox model.Bbox) bool {
	for _, r := range results {
		if r.CenterX < bbox.X1 || r.CenterX > bbox.X2 || r.CenterY < bbox.Y1 || r.CenterY > bbox.Y2 {
			continue
		}
		if utf8.RuneCountInString(strings.TrimSpace(r.Text)) > 6 {
			return false
		}
	}
	return true
}

// onSaturatedBackground samples the bbox and reports whether its mean HSV
// saturation clears the colored-button floor.
func onSaturatedBackground(frame *image.RGBA, bbox model.Bbox) bool {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()

	sum, n := 0.0, 0
	for y := bbox.Y1; y < bbox.Y2; y++ {
		for x := bbox.X1; x < bbox.X2; x++ {
			if x < 0 || y < 0 || x >= w || y >= h {
				continue
			}
			_, s, _ := ximaging.HSVOpenCV(frame.At(b.Min.X+x, b.Min.Y+y))
			sum += s
			n++
		}
	}
	if n == 0 {
		return false
	}
	return sum/float64(n) >= saturatedMeanMin
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
