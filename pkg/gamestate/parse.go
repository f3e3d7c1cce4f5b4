// Package gamestate turns classified frames and detected elements into
// updates of the live GameState, and persists it as an atomic JSON
// snapshot so a restart resumes from the last good state.
package gamestate

import (
	"regexp"
	"strconv"
	"strings"
)

var suffixMultiplier = map[byte]int64{
	'K': 1_000,
	'M': 1_000_000,
	'B': 1_000_000_000,
}

// ParseResourceAmount parses a resource text like "1,234", "1.5M", "100K"
// into an integer amount. Returns (0, false) for empty or unparseable input.
func ParseResourceAmount(text string) (int64, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return 0, false
	}
	t = strings.ReplaceAll(t, ",", "")
	t = strings.ReplaceAll(t, " ", "")

	last := t[len(t)-1]
	if mult, ok := suffixMultiplier[strings.ToUpper(string(last))[0]]; ok {
		numPart := t[:len(t)-1]
		f, err := strconv.ParseFloat(numPart, 64)
		if err != nil {
			return 0, false
		}
		return int64(f * float64(mult)), true
	}

	i, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		f, err2 := strconv.ParseFloat(t, 64)
		if err2 != nil {
			return 0, false
		}
		return int64(f), true
	}
	return i, true
}

var buildingLevelRe = regexp.MustCompile(`(?i)(?:Lv\.?|Level)\s*(\d+)`)

// ParseBuildingLevel extracts a level number from text like "Lv.12" or
// "Level 7". Returns (0, false) if no level marker is present.
func ParseBuildingLevel(text string) (int, bool) {
	m := buildingLevelRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	lvl, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return lvl, true
}

var marchTimerRe = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})`)

// ParseMarchTimer parses an "hh:mm:ss" countdown into total seconds.
// Returns (0, false) if the text doesn't contain a timer.
func ParseMarchTimer(text string) (int, bool) {
	m := marchTimerRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss, _ := strconv.Atoi(m[3])
	return hh*3600 + mm*60 + ss, true
}

var battleResultKeywords = map[string]bool{
	"victory": true,
	"defeat":  true,
	"draw":    true,
}

// ClassifyBattleResult returns the recognized battle-result keyword found in
// text (case-insensitive), or "" if none match.
func ClassifyBattleResult(text string) string {
	lower := strings.ToLower(text)
	for kw := range battleResultKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

// NearestTextDelta reports whether (dx, dy) between a building-level label
// and a candidate name label is close enough to pair them
// (dx <= 200, dy <= 100).
func NearestTextDelta(dx, dy int) bool {
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx <= 200 && dy <= 100
}
