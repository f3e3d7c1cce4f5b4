// Package profile loads the game profile: resource defaults and
// ordering, locale keyword lists, action-button priorities, scene and grid
// configuration, detector threshold overrides, OCR corrections, the
// quest-script table, and the city-layout table consumed by the building
// finder.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/questscript"
)

// Profile is the persisted game profile. Its format is in scope; its values
// are game-specific configuration inputs.
type Profile struct {
	ResourceDefaults map[string]int64 `json:"resource_defaults"`
	ResourceOrder    []string         `json:"resource_order"`

	PopupDismissTexts []string `json:"popup_dismiss_texts"`
	ClaimTexts        []string `json:"claim_texts"`
	CloseTexts        []string `json:"close_texts"`

	BattleVictoryKeywords []string `json:"battle_victory_keywords"`
	BattleDefeatKeywords  []string `json:"battle_defeat_keywords"`

	// ActionButtonKeywords is the ExecuteQuest step-7 candidate list in
	// priority order; ActionButtonTemplates names template fallbacks.
	ActionButtonKeywords  []string `json:"action_button_keywords"`
	ActionButtonTemplates []string `json:"action_button_templates"`

	SceneTemplates []string `json:"scene_templates"`

	GridCols int `json:"grid_cols"`
	GridRows int `json:"grid_rows"`

	// FingerNCCMin overrides the finger detector's stage-2 threshold when
	// non-zero.
	FingerNCCMin float64 `json:"finger_ncc_min"`

	OCRCorrections map[string]string `json:"ocr_corrections"`

	QuestScripts []*questscript.Script `json:"quest_scripts"`

	// compiled per-script patterns, built on load.
	patterns []*regexp.Regexp
}

// CityLayout maps a building name to its approximate position in the city
// view, used by find_building's press-drag-read.
type CityLayout map[string]struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Default returns the built-in profile used when no profile file is
// configured, carrying the keyword lists the workflow depends on.
func Default() *Profile {
	p := &Profile{
		ResourceDefaults: map[string]int64{
			"food": 0, "wood": 0, "stone": 0, "gold": 0,
		},
		ResourceOrder:         []string{"food", "wood", "stone", "gold"},
		PopupDismissTexts:     []string{"返回领地", "返回", "确定", "确认", "关闭"},
		ClaimTexts:            []string{"领取", "确定"},
		CloseTexts:            []string{"关闭", "取消"},
		BattleVictoryKeywords: []string{"胜利", "victory"},
		BattleDefeatKeywords:  []string{"失败", "defeat"},
		ActionButtonKeywords:  []string{"前往", "开始战斗", "一键上阵", "出征", "升级", "建造", "确定"},
		GridCols:              8,
		GridRows:              16,
		OCRCorrections:        map[string]string{},
	}
	p.compilePatterns()
	return p
}

// Load reads a profile JSON file, overlaying it on the defaults. A missing
// file is not an error: the defaults are returned and the condition logged
// once; the engine then runs on built-in keyword lists.
func Load(path string) (*Profile, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.WarnCF("profile", "profile file not found, using defaults", map[string]interface{}{"path": path})
			return p, nil
		}
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	p.compilePatterns()
	return p, nil
}

// LoadCityLayout reads the city-layout table. A missing file disables the
// building finder (degraded mode) rather than failing start-up.
func LoadCityLayout(path string) (CityLayout, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.WarnCF("profile", "city layout not found, building finder disabled", map[string]interface{}{"path": path})
			return nil, nil
		}
		return nil, fmt.Errorf("reading city layout %s: %w", path, err)
	}
	var layout CityLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("parsing city layout %s: %w", path, err)
	}
	return layout, nil
}

func (p *Profile) compilePatterns() {
	p.patterns = make([]*regexp.Regexp, len(p.QuestScripts))
	for i, s := range p.QuestScripts {
		if s.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			logger.WarnCF("profile", "invalid quest script pattern", map[string]interface{}{
				"name": s.Name, "pattern": s.Pattern, "error": err.Error(),
			})
			continue
		}
		p.patterns[i] = re
	}
}

// SetQuestScripts replaces the profile's quest-script table from a
// standalone persisted table and recompiles the patterns.
func (p *Profile) SetQuestScripts(data []byte) error {
	scripts, err := questscript.ParseScripts(data)
	if err != nil {
		return err
	}
	p.QuestScripts = scripts
	p.compilePatterns()
	logger.InfoCF("profile", "quest scripts loaded", map[string]interface{}{"count": len(scripts)})
	return nil
}

// ScriptFor returns the first quest script matching questName: exact name
// equality is tried before the regex pattern, so bilingual aliases win
// over catch-all patterns.
func (p *Profile) ScriptFor(questName string) (*questscript.Script, bool) {
	for _, s := range p.QuestScripts {
		if s.Name != "" && s.Name == questName {
			return s, true
		}
	}
	for i, s := range p.QuestScripts {
		if p.patterns[i] != nil && p.patterns[i].MatchString(questName) {
			return s, true
		}
	}
	return nil, false
}

// IsBattleVictory reports whether text contains a configured victory
// keyword; IsBattleDefeat likewise for defeat.
func (p *Profile) IsBattleVictory(text string) bool { return containsAny(text, p.BattleVictoryKeywords) }
func (p *Profile) IsBattleDefeat(text string) bool  { return containsAny(text, p.BattleDefeatKeywords) }

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}
