// Package advisor is the optional external LLM advisor the quest workflow
// consults at the final popup-escalation rung and as ExecuteQuest's last
// resort. It sends the current frame plus a situation prompt to a
// vision-capable model and parses a bounded action list from the reply,
// failing over between a primary and a fallback provider.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"strings"

	"github.com/questbot/engine/pkg/model"
)

// Advice is a parsed advisor reply: a bounded list of device actions plus
// the model's own summary of why, for the action log.
type Advice struct {
	Actions []model.Action
	Summary string
}

// Advisor is the contract the workflow and auto-loop consume. A nil Advisor
// simply disables the escalation rung.
type Advisor interface {
	Consult(ctx context.Context, frame image.Image, situation string) (Advice, error)
}

// provider is one LLM backend. Implementations wrap a vendor SDK.
type provider interface {
	Name() string
	Model() string
	// Consult sends the PNG-encoded frame and prompts, returning the raw
	// reply text and token usage (zeroes if the vendor didn't report it).
	Consult(ctx context.Context, framePNG []byte, system, prompt string) (string, tokenUsage, error)
}

type tokenUsage struct {
	Prompt     int
	Completion int
}

const systemPrompt = `You are the recovery advisor for an Android game automation agent.
You are shown a screenshot of the current game screen and a description of
what the agent was trying to do. Reply with ONLY a JSON array of at most 3
actions, no prose. Each action is one of:
  {"kind":"tap","x":<int>,"y":<int>,"reason":"<short>"}
  {"kind":"swipe","x":<int>,"y":<int>,"x2":<int>,"y2":<int>,"duration_ms":<int>,"reason":"<short>"}
  {"kind":"key","key_code":"<android keycode name>","reason":"<short>"}
  {"kind":"wait","delay_s":<float>,"reason":"<short>"}
Coordinates are pixels in the screenshot. If nothing useful can be done,
reply with [].`

const maxAdvisedActions = 3

// parseAdvice extracts the first JSON array from reply and converts it to
// actions, dropping anything malformed or beyond the action cap.
func parseAdvice(reply string) (Advice, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return Advice{}, fmt.Errorf("advisor reply contains no JSON array")
	}

	var raw []struct {
		Kind       string  `json:"kind"`
		X          int     `json:"x"`
		Y          int     `json:"y"`
		X2         int     `json:"x2"`
		Y2         int     `json:"y2"`
		DurationMS int     `json:"duration_ms"`
		KeyCode    string  `json:"key_code"`
		DelayS     float64 `json:"delay_s"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return Advice{}, fmt.Errorf("parsing advisor reply: %w", err)
	}

	advice := Advice{}
	var reasons []string
	for _, r := range raw {
		if len(advice.Actions) >= maxAdvisedActions {
			break
		}
		var a model.Action
		switch model.ActionKind(r.Kind) {
		case model.ActionTap:
			a = model.Tap(r.X, r.Y, "advisor:"+r.Reason)
		case model.ActionSwipe:
			dur := r.DurationMS
			if dur < 1 {
				dur = 300
			}
			a = model.Swipe(r.X, r.Y, r.X2, r.Y2, dur, "advisor:"+r.Reason)
		case model.ActionKey:
			if r.KeyCode == "" {
				continue
			}
			a = model.Key(r.KeyCode, "advisor:"+r.Reason)
		case model.ActionWait:
			if r.DelayS <= 0 || r.DelayS > 60 {
				continue
			}
			a = model.Wait(r.DelayS, "advisor:"+r.Reason)
		default:
			continue
		}
		advice.Actions = append(advice.Actions, a)
		if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	advice.Summary = strings.Join(reasons, "; ")
	return advice, nil
}

// isRateLimited classifies a provider error as a rate limit, the trigger
// for a failover switch with hold.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "overloaded")
}
