package questscript

import (
	"encoding/json"
	"testing"
)

// A representative script parses with one verb per step and all modifiers.
func TestParseScriptSample(t *testing.T) {
	data := `{
		"name": "expedition",
		"pattern": "出征.*",
		"steps": [
			{"tap_xy": [100, 200], "delay": 1.0, "description": "open"},
			{"tap_text": ["开始战斗"], "delay": 1.5},
			{"wait_text": "战斗成功"},
			{"ensure_main_city": [10], "description": "go home"},
			{"read_text": [540, 800, "lvl", 200, 60]},
			{"eval": ["next", "{lvl} + 1"]},
			{"tap_icon": ["nav_bar/expedition"]},
			{"find_building": ["兵营", {"scroll": true, "max_attempts": 3}]}
		]
	}`
	s, err := ParseScript([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Steps) != 8 {
		t.Fatalf("got %d steps, want 8", len(s.Steps))
	}
	if s.Steps[0].Verb != VerbTapXY || s.Steps[0].TapXY.X != 100 {
		t.Errorf("step 0: %+v", s.Steps[0])
	}
	if s.Steps[1].Delay != 1.5 {
		t.Errorf("step 1 delay = %v, want 1.5", s.Steps[1].Delay)
	}
	if s.Steps[2].Verb != VerbWaitText || s.Steps[2].WaitText.Text != "战斗成功" {
		t.Errorf("step 2: %+v", s.Steps[2])
	}
	if s.Steps[3].Ensure.MaxRetries != 10 || s.Steps[3].Description != "go home" {
		t.Errorf("step 3: %+v", s.Steps[3])
	}
	if rt := s.Steps[4].ReadText; rt.X != 540 || rt.Var != "lvl" || rt.W != 200 || rt.H != 60 {
		t.Errorf("step 4: %+v", rt)
	}
	if ev := s.Steps[5].Eval; ev.Var != "next" || ev.Expr != "{lvl} + 1" {
		t.Errorf("step 5: %+v", ev)
	}
	if fb := s.Steps[7].FindBuilding; fb.Name != "兵营" || !fb.Scroll || fb.MaxAttempts != 3 {
		t.Errorf("step 7: %+v", fb)
	}
}

// A step needs exactly one verb key: zero or two is a parse error.
func TestParseStepVerbCardinality(t *testing.T) {
	var s Step
	if err := json.Unmarshal([]byte(`{"delay": 1.0}`), &s); err == nil {
		t.Error("step without a verb should fail")
	}
	if err := json.Unmarshal([]byte(`{"tap_xy": [1,2], "swipe": [1,2,3,4]}`), &s); err == nil {
		t.Error("step with two verbs should fail")
	}
}

// Modifier defaults: delay 1.0, repeat 1, not optional.
func TestParseStepDefaults(t *testing.T) {
	var s Step
	if err := json.Unmarshal([]byte(`{"tap_xy": [1, 2]}`), &s); err != nil {
		t.Fatal(err)
	}
	if s.Delay != 1.0 || s.Repeat != 1 || s.Optional {
		t.Errorf("defaults wrong: %+v", s)
	}
}

// The region modifier maps to a bbox for tap_text.
func TestParseStepRegion(t *testing.T) {
	var s Step
	if err := json.Unmarshal([]byte(`{"tap_text": ["确定"], "region": [0, 900, 1080, 1920]}`), &s); err != nil {
		t.Fatal(err)
	}
	if s.Region == nil || s.Region.Y1 != 900 || s.Region.X2 != 1080 {
		t.Errorf("region: %+v", s.Region)
	}
}

// repeat below 1 is rejected.
func TestParseStepRepeatFloor(t *testing.T) {
	var s Step
	if err := json.Unmarshal([]byte(`{"tap_xy": [1,2], "repeat": 0}`), &s); err == nil {
		t.Error("repeat 0 should fail")
	}
}
