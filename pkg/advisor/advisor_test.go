package advisor

import (
	"errors"
	"testing"

	"github.com/questbot/engine/pkg/model"
)

// A well-formed reply parses into capped, reason-tagged actions.
func TestParseAdviceActions(t *testing.T) {
	reply := `Here is what I would do:
[{"kind":"tap","x":400,"y":1600,"reason":"close button"},
 {"kind":"wait","delay_s":2,"reason":"let it settle"}]`

	advice, err := parseAdvice(reply)
	if err != nil {
		t.Fatal(err)
	}
	if len(advice.Actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(advice.Actions))
	}
	if advice.Actions[0].Kind != model.ActionTap || advice.Actions[0].X != 400 {
		t.Errorf("action 0: %+v", advice.Actions[0])
	}
	if advice.Actions[0].Reason != "advisor:close button" {
		t.Errorf("reason = %q", advice.Actions[0].Reason)
	}
	if advice.Actions[1].Kind != model.ActionWait || advice.Actions[1].DelayS != 2 {
		t.Errorf("action 1: %+v", advice.Actions[1])
	}
}

// The action count is capped and junk entries are dropped.
func TestParseAdviceCapsAndFilters(t *testing.T) {
	reply := `[
		{"kind":"tap","x":1,"y":1},
		{"kind":"teleport","x":9,"y":9},
		{"kind":"wait","delay_s":999},
		{"kind":"tap","x":2,"y":2},
		{"kind":"tap","x":3,"y":3},
		{"kind":"tap","x":4,"y":4}
	]`
	advice, err := parseAdvice(reply)
	if err != nil {
		t.Fatal(err)
	}
	if len(advice.Actions) != maxAdvisedActions {
		t.Fatalf("got %d actions, want %d", len(advice.Actions), maxAdvisedActions)
	}
	for _, a := range advice.Actions {
		if a.Kind != model.ActionTap {
			t.Errorf("unexpected kind %q survived", a.Kind)
		}
	}
}

// A reply with no JSON array is an error, and an empty array is fine.
func TestParseAdviceEdges(t *testing.T) {
	if _, err := parseAdvice("I cannot help with that."); err == nil {
		t.Error("prose-only reply should error")
	}
	advice, err := parseAdvice("[]")
	if err != nil || len(advice.Actions) != 0 {
		t.Errorf("empty array should parse: %v %+v", err, advice)
	}
}

// Rate-limit classification keys the failover switch.
func TestIsRateLimited(t *testing.T) {
	if !isRateLimited(errors.New("request failed: 429 Too Many Requests")) {
		t.Error("429 should classify as rate limited")
	}
	if !isRateLimited(errors.New("anthropic: overloaded_error")) {
		t.Error("overloaded should classify as rate limited")
	}
	if isRateLimited(errors.New("connection refused")) {
		t.Error("transport errors are not rate limits")
	}
	if isRateLimited(nil) {
		t.Error("nil is not rate limited")
	}
}
