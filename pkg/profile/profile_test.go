package profile

import (
	"os"
	"path/filepath"
	"testing"
)

// Exact script-name equality wins over regex pattern order.
func TestScriptForNameBeforePattern(t *testing.T) {
	p := Default()
	if err := p.SetQuestScripts([]byte(`[
		{"name": "catch_all", "pattern": ".*", "steps": [{"tap_xy": [1, 1]}]},
		{"name": "出征讨伐", "pattern": "^$", "steps": [{"tap_xy": [2, 2]}]}
	]`)); err != nil {
		t.Fatal(err)
	}

	s, ok := p.ScriptFor("出征讨伐")
	if !ok || s.Name != "出征讨伐" {
		t.Fatalf("got %+v, want the exact-name script", s)
	}

	s, ok = p.ScriptFor("别的任务")
	if !ok || s.Name != "catch_all" {
		t.Fatalf("got %+v, want the pattern script", s)
	}
}

// An invalid pattern is skipped, not fatal, and the rest still match.
func TestScriptForSkipsInvalidPattern(t *testing.T) {
	p := Default()
	if err := p.SetQuestScripts([]byte(`[
		{"name": "broken", "pattern": "([", "steps": [{"tap_xy": [1, 1]}]},
		{"name": "ok", "pattern": "升级", "steps": [{"tap_xy": [2, 2]}]}
	]`)); err != nil {
		t.Fatal(err)
	}

	s, ok := p.ScriptFor("升级城墙")
	if !ok || s.Name != "ok" {
		t.Fatalf("got %+v, want the valid script", s)
	}
}

// A missing profile file yields the defaults in degraded mode.
func TestLoadMissingFileUsesDefaults(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(p.PopupDismissTexts) == 0 || p.PopupDismissTexts[0] != "返回领地" {
		t.Fatalf("defaults missing: %+v", p.PopupDismissTexts)
	}
}

// A profile file overlays onto the defaults without wiping unset sections.
func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	data := `{"grid_cols": 10, "finger_ncc_min": 0.5}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.GridCols != 10 || p.FingerNCCMin != 0.5 {
		t.Errorf("overrides not applied: cols=%d ncc=%v", p.GridCols, p.FingerNCCMin)
	}
	if len(p.ClaimTexts) == 0 {
		t.Error("unset sections should keep defaults")
	}
}

// Battle keywords classify result text.
func TestBattleKeywords(t *testing.T) {
	p := Default()
	if !p.IsBattleVictory("战斗胜利!") {
		t.Error("胜利 should classify as victory")
	}
	if !p.IsBattleDefeat("战斗失败") {
		t.Error("失败 should classify as defeat")
	}
	if p.IsBattleVictory("加载中") {
		t.Error("unrelated text should not classify")
	}
}

// The city layout loads building positions; a missing file disables it.
func TestLoadCityLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	if err := os.WriteFile(path, []byte(`{"兵营": {"x": 320, "y": 840}}`), 0644); err != nil {
		t.Fatal(err)
	}
	layout, err := LoadCityLayout(path)
	if err != nil {
		t.Fatal(err)
	}
	if pos, ok := layout["兵营"]; !ok || pos.X != 320 || pos.Y != 840 {
		t.Fatalf("layout = %+v", layout)
	}

	missing, err := LoadCityLayout(filepath.Join(t.TempDir(), "none.json"))
	if err != nil || missing != nil {
		t.Fatalf("missing layout should be (nil, nil): %v %v", missing, err)
	}
}
