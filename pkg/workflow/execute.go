package workflow

import (
	"image"
	"unicode/utf8"

	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/questscript"
)

// stepExecuteQuest is the workhorse phase: popup
// ladder, finger, story dialogue, script rule, action-button search with
// fatigue, close-x, advisor, center tap, in that order, bounded by
// MaxExecuteIterations.
func (w *Workflow) stepExecuteQuest(frame *image.RGBA, sc model.Scene) []model.Action {
	w.executeIters++
	if w.executeIters > w.cfg.MaxExecuteIterations {
		logger.WarnCF("workflow", "execute iterations exhausted", map[string]interface{}{"quest": w.targetQuest})
		w.phase = PhaseReturnToCity
		return nil
	}

	// 1. A scene change clears the exhausted-button set and counters.
	if !w.sceneSeen || sc != w.lastExecScene {
		w.exhausted = map[string]bool{}
		w.buttonTaps = map[string]int{}
		w.lastExecScene = sc
		w.sceneSeen = true
	}

	// 2. Popup handling.
	if sc == model.ScenePopup {
		if acts, ok := w.PopupFilter(frame); ok {
			return acts
		}
		return w.PopupEscalate(frame)
	}

	// 3. Finger anywhere on the frame.
	if w.finger != nil {
		if f, ok := w.finger.Detect(frame); ok {
			return []model.Action{model.TapDelayed(f.FingertipX, f.FingertipY, fingertipDelayS, "execute:finger")}
		}
	}

	// 4. Story dialogue: skip text, else continue triangle, else center.
	if sc == model.SceneStoryDialogue {
		return w.skipStoryDialogue(frame)
	}

	// 5. Back in the main city: check whether the quest completed.
	if sc == model.SceneMainCity {
		w.phase = PhaseCheckCompletion
		return nil
	}

	// 6. Quest-script rule match.
	if acts, handled := w.stepScript(frame); handled {
		return acts
	}

	// 7. Action-button search (strict then relaxed OCR pass, with fatigue).
	if acts, found := w.findActionButton(frame); found {
		return acts
	}

	// 8. Everything exhausted and no button: head home.
	if w.allKeywordsExhausted() {
		w.phase = PhaseReturnToCity
		return nil
	}

	// 9. Non-popup close-x in the expected region.
	if w.closeX != nil {
		if m, ok := w.closeX.Verify(frame); ok {
			return []model.Action{model.TapDelayed(m.CenterX, m.CenterY, popupDismissDelayS, "execute:close_x")}
		}
	}

	// 10. Advisor.
	if acts := w.consultAdvisor(frame, "Quest \""+w.targetQuest+"\" is in progress but no actionable element was detected on this screen."); len(acts) > 0 {
		return acts
	}

	// 11. Last resort.
	b := frame.Bounds()
	return []model.Action{model.TapDelayed(b.Dx()/2, b.Dy()/2, popupDismissDelayS, "execute:center")}
}

func (w *Workflow) skipStoryDialogue(frame *image.RGBA) []model.Action {
	results := w.perceptor.OCRDetect(frame, nil)
	for _, skip := range []string{"跳过", "skip"} {
		for _, r := range results {
			if containsFold(r.Text, skip) {
				return []model.Action{model.TapDelayed(r.CenterX, r.CenterY, popupDismissDelayS, "story:skip")}
			}
		}
	}
	if m, ok := w.perceptor.Match(frame, "icons/continue_triangle", 1); ok {
		return []model.Action{model.TapDelayed(m.CenterX, m.CenterY, popupDismissDelayS, "story:continue")}
	}
	b := frame.Bounds()
	return []model.Action{model.TapDelayed(b.Dx()/2, b.Dy()/2, popupDismissDelayS, "story:center")}
}

// stepScript loads the first quest script whose pattern matches the target
// quest and drives it one step per iteration; an aborted script falls
// through to generic handling.
func (w *Workflow) stepScript(frame *image.RGBA) ([]model.Action, bool) {
	if !w.scriptActive {
		script, ok := w.profile.ScriptFor(w.targetQuest)
		if !ok {
			return nil, false
		}
		w.runner.Load(script)
		w.scriptActive = true
		logger.InfoCF("workflow", "quest script loaded", map[string]interface{}{
			"quest": w.targetQuest, "script": script.Name, "steps": len(script.Steps),
		})
	}

	res := w.runner.ExecuteOne(frame)
	switch res.Status {
	case questscript.StatusAborted:
		logger.WarnCF("workflow", "quest script aborted", map[string]interface{}{
			"quest": w.targetQuest, "reason": w.runner.AbortReason(),
		})
		w.scriptActive = false
		return nil, false
	case questscript.StatusDone:
		w.scriptActive = false
		w.phase = PhaseReturnToCity
		return nil, true
	case questscript.StatusWaiting:
		return nil, true
	default:
		if w.runner.IsDone() {
			w.scriptActive = false
			w.phase = PhaseReturnToCity
		}
		return res.Actions, true
	}
}

// findActionButton runs the two OCR action-button passes. Strict: the
// candidate text is at most keyword-length+4 runes and sits on a colored
// button background. Relaxed: at most keyword-length+1 runes, bottom half
// of the screen, no background check. Candidates de-duplicate by keyword;
// the profile's list order is the priority order.
func (w *Workflow) findActionButton(frame *image.RGBA) ([]model.Action, bool) {
	results := w.perceptor.OCRDetect(frame, nil)
	if len(results) == 0 {
		return nil, false
	}
	halfY := frame.Bounds().Dy() / 2

	pick := func(strict bool) ([]model.Action, bool) {
		for _, keyword := range w.profile.ActionButtonKeywords {
			if w.exhausted[keyword] {
				continue
			}
			if w.dismissedThisTick && w.isDismissText(keyword) {
				continue
			}
			kwLen := utf8.RuneCountInString(keyword)
			for _, r := range results {
				if !containsFold(r.Text, keyword) {
					continue
				}
				textLen := utf8.RuneCountInString(r.Text)
				if strict {
					if textLen > kwLen+4 || !onSaturatedBackground(frame, r.Bbox) {
						continue
					}
				} else {
					if textLen > kwLen+1 || r.CenterY < halfY {
						continue
					}
				}
				return w.tapButton(keyword, r), true
			}
		}
		return nil, false
	}

	if acts, ok := pick(true); ok {
		return acts, true
	}
	return pick(false)
}

// tapButton emits the tap and advances the keyword's fatigue counter:
// ActionButtonExhaust consecutive taps without a scene change mark it
// exhausted.
func (w *Workflow) tapButton(keyword string, r model.OCRResult) []model.Action {
	w.buttonTaps[keyword]++
	if w.buttonTaps[keyword] >= w.cfg.ActionButtonExhaust {
		w.exhausted[keyword] = true
		logger.DebugCF("workflow", "action button exhausted", map[string]interface{}{"keyword": keyword})
	}
	return []model.Action{model.TapDelayed(r.CenterX, r.CenterY, popupDismissDelayS, "action_button:"+keyword)}
}

func (w *Workflow) allKeywordsExhausted() bool {
	if len(w.profile.ActionButtonKeywords) == 0 {
		return false
	}
	for _, k := range w.profile.ActionButtonKeywords {
		if !w.exhausted[k] {
			return false
		}
	}
	return true
}

func (w *Workflow) isDismissText(keyword string) bool {
	for _, t := range w.profile.PopupDismissTexts {
		if t == keyword {
			return true
		}
	}
	return false
}
