// Package autohandler is the opportunistic rule engine consulted by the
// auto-loop when no workflow is active and no higher-priority path
// matched: a small ordered list of predicate-to-action rules over the
// live GameState and the current frame.
package autohandler

import (
	"image"
	"strings"

	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/ocr"
)

// Rule is one opportunistic behavior: When gates it on state/scene, Build
// produces the actions given the current frame (nil = rule passes).
type Rule struct {
	Name  string
	When  func(state *model.GameState, sc model.Scene) bool
	Build func(frame *image.RGBA, state *model.GameState) []model.Action
}

// Handler evaluates rules in order and returns the first match's actions.
type Handler struct {
	OCR   *ocr.Port
	rules []Rule
}

// New builds a handler with the default rule set: tap visible collect
// banners in the main city, tap the quest bar when it shows a green check,
// and tap the first claim text on a popup.
func New(ocrPort *ocr.Port, claimTexts []string) *Handler {
	h := &Handler{OCR: ocrPort}
	h.rules = []Rule{
		{
			Name: "claim_collect_banner",
			When: func(state *model.GameState, sc model.Scene) bool {
				return sc == model.SceneMainCity
			},
			Build: func(frame *image.RGBA, state *model.GameState) []model.Action {
				return h.tapFirstText(frame, []string{"一键收取", "收取", "collect all"}, "auto:collect")
			},
		},
		{
			Name: "claim_quest_reward",
			When: func(state *model.GameState, sc model.Scene) bool {
				return sc == model.SceneMainCity && state.QuestBar.Visible && state.QuestBar.HasGreenCheck
			},
			Build: func(frame *image.RGBA, state *model.GameState) []model.Action {
				cx, cy := state.QuestBar.CurrentQuestBbox.Center()
				return []model.Action{model.TapDelayed(cx, cy, 1.0, "auto:claim_quest")}
			},
		},
		{
			Name: "dismiss_reward_popup",
			When: func(state *model.GameState, sc model.Scene) bool {
				return sc == model.ScenePopup
			},
			Build: func(frame *image.RGBA, state *model.GameState) []model.Action {
				return h.tapFirstText(frame, claimTexts, "auto:claim")
			},
		},
	}
	return h
}

// AddRule appends a custom rule after the defaults.
func (h *Handler) AddRule(rule Rule) {
	h.rules = append(h.rules, rule)
}

// Handle runs the rule list, returning the first matching rule's actions.
func (h *Handler) Handle(frame *image.RGBA, state *model.GameState, sc model.Scene) []model.Action {
	for _, rule := range h.rules {
		if rule.When != nil && !rule.When(state, sc) {
			continue
		}
		if acts := rule.Build(frame, state); len(acts) > 0 {
			logger.DebugCF("autohandler", "rule matched", map[string]interface{}{"rule": rule.Name})
			return acts
		}
	}
	return nil
}

func (h *Handler) tapFirstText(frame *image.RGBA, texts []string, reason string) []model.Action {
	if h.OCR == nil {
		return nil
	}
	results, err := h.OCR.Detect(frame, nil)
	if err != nil {
		return nil
	}
	for _, text := range texts {
		if text == "" {
			continue
		}
		for _, r := range results {
			if strings.Contains(strings.ToLower(r.Text), strings.ToLower(text)) {
				return []model.Action{model.TapDelayed(r.CenterX, r.CenterY, 1.0, reason+":"+text)}
			}
		}
	}
	return nil
}
