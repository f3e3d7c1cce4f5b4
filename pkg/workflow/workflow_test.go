package workflow

import (
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/questbot/engine/pkg/finger"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/profile"
)

type fakePerceptor struct {
	texts   []model.OCRResult
	matches map[string]model.MatchResult
	corner  model.Scene
}

func (f *fakePerceptor) OCRDetect(frame *image.RGBA, region *model.Bbox) []model.OCRResult {
	return f.texts
}

func (f *fakePerceptor) Match(frame *image.RGBA, name string, nth int) (model.MatchResult, bool) {
	m, ok := f.matches[name]
	return m, ok
}

func (f *fakePerceptor) CornerScene(frame *image.RGBA) (model.Scene, bool) {
	return f.corner, f.corner != model.SceneUnknown
}

type fakeQuestBar struct {
	info model.QuestBarInfo
}

func (f *fakeQuestBar) Detect(frame *image.RGBA) model.QuestBarInfo { return f.info }

type fakeFinger struct {
	result finger.Result
	found  bool
}

func (f *fakeFinger) Detect(frame *image.RGBA) (finger.Result, bool) { return f.result, f.found }

type fakeCloseX struct {
	match model.MatchResult
	found bool
}

func (f *fakeCloseX) Verify(frame *image.RGBA) (model.MatchResult, bool) { return f.match, f.found }

func testFrame() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 1080, 1920))
}

func fillRect(img *image.RGBA, bbox model.Bbox, c color.RGBA) {
	for y := bbox.Y1; y < bbox.Y2; y++ {
		for x := bbox.X1; x < bbox.X2; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func ocrAt(text string, x, y int) model.OCRResult {
	return model.OCRResult{
		Text: text, Confidence: 0.9,
		Bbox:    model.Bbox{X1: x - 60, Y1: y - 25, X2: x + 60, Y2: y + 25},
		CenterX: x, CenterY: y,
	}
}

func newTestWorkflow(p *fakePerceptor, bar *fakeQuestBar) *Workflow {
	return New(DefaultConfig(), p, bar, &fakeFinger{}, &fakeCloseX{}, profile.Default(), nil, nil)
}

// CheckCompletion transitions to ClaimReward iff the bar is visible with a
// green check.
func TestCheckCompletionGreenCheck(t *testing.T) {
	bar := &fakeQuestBar{info: model.QuestBarInfo{Visible: true, HasGreenCheck: true}}
	w := newTestWorkflow(&fakePerceptor{corner: model.SceneMainCity}, bar)
	w.phase = PhaseCheckCompletion

	w.Step(testFrame(), model.SceneMainCity)
	if w.phase != PhaseClaimReward {
		t.Fatalf("phase = %s, want claim_reward", w.phase)
	}
}

// Without the green check, CheckCompletion retries ClickQuest up to the
// limit, then aborts.
func TestCheckCompletionRetriesThenAborts(t *testing.T) {
	bar := &fakeQuestBar{info: model.QuestBarInfo{
		Visible:          true,
		CurrentQuestText: "建造民居",
		CurrentQuestBbox: model.Bbox{X1: 200, Y1: 1650, X2: 600, Y2: 1700},
	}}
	w := newTestWorkflow(&fakePerceptor{corner: model.SceneMainCity}, bar)
	w.targetQuest = "建造民居"

	for i := 0; i < w.cfg.MaxCheckRetries; i++ {
		w.phase = PhaseCheckCompletion
		w.Step(testFrame(), model.SceneMainCity)
		if w.phase != PhaseClickQuest {
			t.Fatalf("retry %d: phase = %s, want click_quest", i+1, w.phase)
		}
	}
	w.phase = PhaseCheckCompletion
	w.Step(testFrame(), model.SceneMainCity)
	if w.phase != PhaseIdle {
		t.Fatalf("phase = %s, want idle after abort", w.phase)
	}
}

// ShouldStart refuses the aborted quest name within the cooldown window
// unless a green check is present.
func TestShouldStartCooldown(t *testing.T) {
	w := newTestWorkflow(&fakePerceptor{}, &fakeQuestBar{})
	base := time.Now()
	w.now = func() time.Time { return base }

	w.targetQuest = "征讨野怪"
	w.Abort("test")

	if w.ShouldStart("征讨野怪", false) {
		t.Error("same quest inside cooldown should not start")
	}
	if !w.ShouldStart("别的任务", false) {
		t.Error("a different quest should start")
	}
	if !w.ShouldStart("征讨野怪", true) {
		t.Error("a green check overrides the cooldown")
	}

	w.now = func() time.Time { return base.Add(181 * time.Second) }
	if !w.ShouldStart("征讨野怪", false) {
		t.Error("cooldown expiry should allow the quest again")
	}
}

// Popup stage A taps a known dismiss text only when it sits on a saturated
// (colored button) background, with the dismiss reason recorded.
func TestPopupDismissSaturatedText(t *testing.T) {
	p := &fakePerceptor{texts: []model.OCRResult{ocrAt("返回领地", 400, 1600)}}
	w := newTestWorkflow(p, &fakeQuestBar{})
	frame := testFrame()

	// Body text on a gray background: stage A must not fire.
	if acts, ok := w.PopupFilter(frame); ok {
		t.Fatalf("unsaturated text should not dismiss: %+v", acts)
	}

	// Same text on a saturated button.
	fillRect(frame, p.texts[0].Bbox, color.RGBA{R: 220, G: 60, B: 40, A: 255})
	acts, ok := w.PopupFilter(frame)
	if !ok || len(acts) != 1 {
		t.Fatalf("saturated text should dismiss: %+v", acts)
	}
	if acts[0].X != 400 || acts[0].Y != 1600 {
		t.Errorf("tap at (%d,%d), want (400,1600)", acts[0].X, acts[0].Y)
	}
	if !strings.Contains(acts[0].Reason, "dismiss_popup:返回领地") {
		t.Errorf("reason %q should contain dismiss_popup:返回领地", acts[0].Reason)
	}
}

// The popup escalation ladder taps back-arrow or a low blank point on rungs
// 1-2 and the frame center on rung 3.
func TestPopupEscalationLadder(t *testing.T) {
	p := &fakePerceptor{matches: map[string]model.MatchResult{}}
	w := newTestWorkflow(p, &fakeQuestBar{})
	frame := testFrame()

	acts := w.PopupEscalate(frame)
	if acts[0].Y != int(0.85*1920) {
		t.Errorf("rung 1 without back-arrow should tap low blank: %+v", acts[0])
	}
	w.PopupEscalate(frame)
	acts = w.PopupEscalate(frame)
	if acts[0].X != 540 || acts[0].Y != 960 {
		t.Errorf("rung 3 should tap center: %+v", acts[0])
	}
}

// An action button tapped ActionButtonExhaust times without a scene change
// becomes exhausted and is skipped thereafter.
func TestActionButtonFatigue(t *testing.T) {
	frame := testFrame()
	btn := ocrAt("前往", 540, 1500)
	fillRect(frame, btn.Bbox, color.RGBA{R: 40, G: 90, B: 230, A: 255})

	p := &fakePerceptor{texts: []model.OCRResult{btn}, corner: model.SceneUnknown}
	w := newTestWorkflow(p, &fakeQuestBar{})
	w.begin()
	w.enterExecute()

	for i := 0; i < w.cfg.ActionButtonExhaust; i++ {
		acts := w.Step(frame, model.SceneWorldMap)
		if len(acts) != 1 || !strings.Contains(acts[0].Reason, "action_button:前往") {
			t.Fatalf("tap %d: %+v", i+1, acts)
		}
	}
	// Exhausted now: the same frame must not produce the button tap again.
	acts := w.Step(frame, model.SceneWorldMap)
	for _, a := range acts {
		if strings.Contains(a.Reason, "action_button:前往") {
			t.Fatalf("exhausted button tapped again: %+v", acts)
		}
	}

	// A scene change clears the fatigue set.
	acts = w.Step(frame, model.SceneBattle)
	if len(acts) != 1 || !strings.Contains(acts[0].Reason, "action_button:前往") {
		t.Fatalf("scene change should clear fatigue: %+v", acts)
	}
}

// Verify treats a changed quest name as success and returns to Idle.
func TestVerifyQuestNameChange(t *testing.T) {
	bar := &fakeQuestBar{info: model.QuestBarInfo{Visible: true, CurrentQuestText: "新任务"}}
	w := newTestWorkflow(&fakePerceptor{}, bar)
	w.phase = PhaseVerify
	w.targetQuest = "旧任务"
	w.verifyQuestName = "旧任务"

	w.Step(testFrame(), model.SceneMainCity)
	if w.phase != PhaseIdle {
		t.Fatalf("phase = %s, want idle on quest change", w.phase)
	}
}

// Verify with an unchanged name waits MaxVerifyRetries ticks, then gives
// up to Idle without recording an abort cooldown.
func TestVerifyExhaustsToIdle(t *testing.T) {
	bar := &fakeQuestBar{info: model.QuestBarInfo{Visible: true, CurrentQuestText: "旧任务"}}
	w := newTestWorkflow(&fakePerceptor{}, bar)
	w.phase = PhaseVerify
	w.targetQuest = "旧任务"
	w.verifyQuestName = "旧任务"

	for i := 0; i < w.cfg.MaxVerifyRetries; i++ {
		w.Step(testFrame(), model.SceneMainCity)
		if w.phase != PhaseVerify {
			t.Fatalf("tick %d: phase = %s, want verify", i+1, w.phase)
		}
	}
	w.Step(testFrame(), model.SceneMainCity)
	if w.phase != PhaseIdle {
		t.Fatalf("phase = %s, want idle after giving up", w.phase)
	}
	if !w.ShouldStart("旧任务", false) {
		t.Error("giving up on verify must not impose the abort cooldown")
	}
}

// ReadQuest aborts when the bar is invisible, routes to ClaimReward on a
// green check, and records the quest name otherwise.
func TestReadQuestRouting(t *testing.T) {
	bar := &fakeQuestBar{}
	w := newTestWorkflow(&fakePerceptor{}, bar)

	w.phase = PhaseReadQuest
	w.Step(testFrame(), model.SceneMainCity)
	if w.phase != PhaseIdle {
		t.Fatalf("invisible bar: phase = %s, want idle (abort)", w.phase)
	}

	bar.info = model.QuestBarInfo{Visible: true, HasGreenCheck: true}
	w.phase = PhaseReadQuest
	w.Step(testFrame(), model.SceneMainCity)
	if w.phase != PhaseClaimReward {
		t.Fatalf("green check: phase = %s, want claim_reward", w.phase)
	}

	bar.info = model.QuestBarInfo{Visible: true, CurrentQuestText: "升级城墙", HasRedBadge: true}
	w.phase = PhaseReadQuest
	w.Step(testFrame(), model.SceneMainCity)
	if w.phase != PhaseClickQuest || w.targetQuest != "升级城墙" {
		t.Fatalf("phase = %s target = %q", w.phase, w.targetQuest)
	}
}

// A popup scene during EnsureMainCity jumps straight to ExecuteQuest.
func TestEnsureMainCityPopupJumpsToExecute(t *testing.T) {
	w := newTestWorkflow(&fakePerceptor{corner: model.SceneWorldMap}, &fakeQuestBar{})
	w.Start()

	w.Step(testFrame(), model.ScenePopup)
	if w.phase != PhaseExecuteQuest {
		t.Fatalf("phase = %s, want execute_quest", w.phase)
	}
}

// ExecuteQuest bails to ReturnToCity once the iteration bound is exceeded.
func TestExecuteIterationBound(t *testing.T) {
	p := &fakePerceptor{corner: model.SceneUnknown}
	w := newTestWorkflow(p, &fakeQuestBar{})
	w.begin()
	w.enterExecute()
	w.executeIters = w.cfg.MaxExecuteIterations

	w.Step(testFrame(), model.SceneWorldMap)
	if w.phase != PhaseReturnToCity {
		t.Fatalf("phase = %s, want return_to_city", w.phase)
	}
}

// A matching quest script is loaded and its first step's tap drives
// ExecuteQuest.
func TestQuestScriptDrivesExecute(t *testing.T) {
	prof := profile.Default()
	if err := prof.SetQuestScripts([]byte(`[
		{"name": "expedition", "pattern": "出征", "steps": [{"tap_xy": [77, 88]}]}
	]`)); err != nil {
		t.Fatal(err)
	}
	p := &fakePerceptor{corner: model.SceneUnknown}
	w := New(DefaultConfig(), p, &fakeQuestBar{}, &fakeFinger{}, &fakeCloseX{}, prof, nil, nil)
	w.begin()
	w.targetQuest = "出征讨伐"
	w.enterExecute()

	acts := w.Step(testFrame(), model.SceneWorldMap)
	if len(acts) != 1 || acts[0].X != 77 || acts[0].Y != 88 {
		t.Fatalf("script step should emit its tap: %+v", acts)
	}
}
