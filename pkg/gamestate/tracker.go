package gamestate

import (
	"image"
	"time"

	"github.com/questbot/engine/pkg/element"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/ocr"
	"github.com/questbot/engine/pkg/questbar"
	"github.com/questbot/engine/pkg/scene"
)

// Tracker owns the single live GameState and updates it from each new
// frame. It is the only writer of GameState outside the quest workflow and
// the auto-loop.
type Tracker struct {
	State *model.GameState

	Scene     *scene.Classifier
	QuestBar  *questbar.Detector
	OCR       *ocr.Port
	Detector  *element.Detector

	resourceNames []string
}

func NewTracker(state *model.GameState, sceneClassifier *scene.Classifier, questBar *questbar.Detector, ocrPort *ocr.Port, detector *element.Detector, resourceNames []string) *Tracker {
	return &Tracker{
		State:         state,
		Scene:         sceneClassifier,
		QuestBar:      questBar,
		OCR:           ocrPort,
		Detector:      detector,
		resourceNames: resourceNames,
	}
}

// Update classifies frame, refreshes the quest bar, and opportunistically
// parses resource totals via OCR, then stamps LastUpdate/LoopCount.
func (t *Tracker) Update(frame *image.RGBA) {
	if t.Scene != nil {
		result := t.Scene.Classify(frame)
		t.State.Scene = result.Scene
	}

	if t.QuestBar != nil {
		t.State.QuestBar = t.QuestBar.Detect(frame)
	}

	if t.OCR != nil {
		switch t.State.Scene {
		case model.SceneMainCity:
			t.updateResources(frame)
			t.updateBuildings(frame)
		case model.SceneWorldMap:
			t.updateMarches(frame)
		case model.SceneBattle:
			t.updateBattleResult(frame)
		}
	}

	t.State.LoopCount++
	t.State.LastUpdate = time.Now()
}

// updateResources reads the resource bar with one OCR call over the top 8%
// of the frame and assigns the tokens that parse as amounts, in reading
// order, to the configured resource names by position. Tokens that do not
// parse are dropped before assignment; a resource left without a token
// keeps its prior value.
func (t *Tracker) updateResources(frame *image.RGBA) {
	b := frame.Bounds()
	w := b.Dx()
	topBand := model.Bbox{X1: 0, Y1: 0, X2: w, Y2: int(0.08 * float64(b.Dy()))}
	if !topBand.Valid() {
		return
	}
	results, err := t.OCR.Detect(frame, &topBand)
	if err != nil {
		return
	}
	ocr.SortReadingOrder(results)

	// Keep only numeric-looking tokens, then assign by the configured
	// resource order (keyword association rarely survives the tiny icon
	// labels, so positional assignment is the reliable path).
	var amounts []int64
	for _, r := range results {
		if amount, ok := ParseResourceAmount(r.Text); ok {
			amounts = append(amounts, amount)
		}
	}
	for i, name := range t.resourceNames {
		if i >= len(amounts) {
			break
		}
		if t.State.Resources == nil {
			t.State.Resources = make(map[string]int64)
		}
		t.State.Resources[name] = amounts[i]
	}
}

// updateBuildings pairs "Lv.<n>" style labels with the nearest text as the
// building name.
func (t *Tracker) updateBuildings(frame *image.RGBA) {
	results, err := t.OCR.Detect(frame, nil)
	if err != nil {
		return
	}
	for _, r := range results {
		lvl, ok := ParseBuildingLevel(r.Text)
		if !ok {
			continue
		}
		name := ""
		bestDist := 1 << 30
		for _, cand := range results {
			if cand == r {
				continue
			}
			if _, isLevel := ParseBuildingLevel(cand.Text); isLevel {
				continue
			}
			dx, dy := cand.CenterX-r.CenterX, cand.CenterY-r.CenterY
			if !NearestTextDelta(dx, dy) {
				continue
			}
			dist := dx*dx + dy*dy
			if dist < bestDist {
				bestDist = dist
				name = cand.Text
			}
		}
		if name == "" {
			continue
		}
		b := t.State.Buildings[name]
		if b == nil {
			b = &model.Building{Name: name}
			if t.State.Buildings == nil {
				t.State.Buildings = make(map[string]*model.Building)
			}
			t.State.Buildings[name] = b
		}
		b.Level = lvl
	}
}

// updateMarches reads "hh:mm:ss" countdowns off the world map into the
// march list.
func (t *Tracker) updateMarches(frame *image.RGBA) {
	results, err := t.OCR.Detect(frame, nil)
	if err != nil {
		return
	}
	var marches []model.March
	now := time.Now()
	for _, r := range results {
		secs, ok := ParseMarchTimer(r.Text)
		if !ok {
			continue
		}
		marches = append(marches, model.March{
			Target:     r.Text,
			Action:     "march",
			ReturnTime: now.Add(time.Duration(secs) * time.Second),
		})
	}
	if marches != nil {
		t.State.Marches = marches
	}
}

// updateBattleResult classifies victory/defeat keywords on the battle
// screen into the scene-local cooldown map for the rule engine.
func (t *Tracker) updateBattleResult(frame *image.RGBA) {
	results, err := t.OCR.Detect(frame, nil)
	if err != nil {
		return
	}
	for _, r := range results {
		if kw := ClassifyBattleResult(r.Text); kw != "" {
			t.SetCooldown("battle_result:"+kw, time.Now())
			return
		}
	}
}

// RecordAction appends an action with a fresh timestamp to the bounded ring.
func (t *Tracker) RecordAction(id, kind, reason string, success bool) {
	t.State.RecordAction(model.ActionRecord{
		ID:        id,
		Kind:      kind,
		Reason:    reason,
		Timestamp: time.Now(),
		Success:   success,
	})
}

// SetCooldown stamps a named cooldown expiry.
func (t *Tracker) SetCooldown(name string, until time.Time) {
	if t.State.Cooldowns == nil {
		t.State.Cooldowns = make(map[string]time.Time)
	}
	t.State.Cooldowns[name] = until
}

// OnCooldown reports whether name's cooldown has not yet elapsed.
func (t *Tracker) OnCooldown(name string) bool {
	until, ok := t.State.Cooldowns[name]
	if !ok {
		return false
	}
	return time.Now().Before(until)
}
