package gamestate

import "testing"

func TestParseResourceAmount_Comma(t *testing.T) {
	v, ok := ParseResourceAmount("1,234")
	if !ok || v != 1234 {
		t.Errorf("got %d,%v want 1234,true", v, ok)
	}
}

func TestParseResourceAmount_MillionSuffix(t *testing.T) {
	v, ok := ParseResourceAmount("1.5M")
	if !ok || v != 1_500_000 {
		t.Errorf("got %d,%v want 1500000,true", v, ok)
	}
}

func TestParseResourceAmount_KiloSuffix(t *testing.T) {
	v, ok := ParseResourceAmount("100K")
	if !ok || v != 100_000 {
		t.Errorf("got %d,%v want 100000,true", v, ok)
	}
}

func TestParseResourceAmount_Empty(t *testing.T) {
	_, ok := ParseResourceAmount("")
	if ok {
		t.Error("expected failure on empty input")
	}
}

func TestParseResourceAmount_Garbage(t *testing.T) {
	_, ok := ParseResourceAmount("???")
	if ok {
		t.Error("expected failure on garbage input")
	}
}

func TestParseBuildingLevel_LvDot(t *testing.T) {
	lvl, ok := ParseBuildingLevel("Lv.12")
	if !ok || lvl != 12 {
		t.Errorf("got %d,%v want 12,true", lvl, ok)
	}
}

func TestParseBuildingLevel_LevelWord(t *testing.T) {
	lvl, ok := ParseBuildingLevel("Level 7 Barracks")
	if !ok || lvl != 7 {
		t.Errorf("got %d,%v want 7,true", lvl, ok)
	}
}

func TestParseMarchTimer(t *testing.T) {
	secs, ok := ParseMarchTimer("returning in 01:02:03")
	if !ok || secs != 3723 {
		t.Errorf("got %d,%v want 3723,true", secs, ok)
	}
}

func TestClassifyBattleResult_Victory(t *testing.T) {
	if ClassifyBattleResult("VICTORY!") != "victory" {
		t.Error("expected victory")
	}
}

func TestNearestTextDelta_WithinBounds(t *testing.T) {
	if !NearestTextDelta(150, 80) {
		t.Error("expected within bounds")
	}
	if NearestTextDelta(250, 80) {
		t.Error("expected out of bounds on dx")
	}
}
