package questscript

import (
	"image"
	"strings"
	"testing"

	"github.com/questbot/engine/pkg/model"
)

// fakePerceptor scripts the perception surface per test: OCR texts present
// on the "current frame", template matches by name, and the corner scene.
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

func ocrAt(text string, x, y int) model.OCRResult {
	return model.OCRResult{
		Text: text, Confidence: 0.9,
		Bbox:    model.Bbox{X1: x - 50, Y1: y - 20, X2: x + 50, Y2: y + 20},
		CenterX: x, CenterY: y,
	}
}

func matchAt(name string, x, y int) model.MatchResult {
	return model.MatchResult{
		TemplateName: name, Confidence: 0.95,
		CenterX: x, CenterY: y,
		Bbox: model.Bbox{X1: x - 20, Y1: y - 20, X2: x + 20, Y2: y + 20},
	}
}

func testFrame() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 1080, 1920))
}

func mustScript(t *testing.T, data string) *Script {
	t.Helper()
	s, err := ParseScript([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// The expedition script advances through all six steps when each target
// appears exactly when expected, ending done and not aborted.
func TestExpeditionScriptRunsToCompletion(t *testing.T) {
	script := mustScript(t, `{
		"name": "expedition",
		"pattern": "出征",
		"steps": [
			{"tap_icon": ["nav_bar/expedition"]},
			{"tap_text": ["开始战斗"]},
			{"tap_text": ["一键上阵"]},
			{"tap_xy": [900, 1870]},
			{"wait_text": "战斗成功"},
			{"tap_text": ["返回小镇"]}
		]
	}`)

	p := &fakePerceptor{matches: map[string]model.MatchResult{}}
	r := NewRunner(p)
	r.Load(script)
	frame := testFrame()

	// Step 1: icon present.
	p.matches["nav_bar/expedition"] = matchAt("nav_bar/expedition", 100, 1800)
	res := r.ExecuteOne(frame)
	if res.Status != StatusActed || !res.Advanced || len(res.Actions) != 1 {
		t.Fatalf("step 1: %+v", res)
	}

	// Steps 2-3: texts present.
	p.texts = []model.OCRResult{ocrAt("开始战斗", 540, 1600)}
	if res := r.ExecuteOne(frame); !res.Advanced {
		t.Fatalf("step 2: %+v", res)
	}
	p.texts = []model.OCRResult{ocrAt("一键上阵", 540, 1700)}
	if res := r.ExecuteOne(frame); !res.Advanced {
		t.Fatalf("step 3: %+v", res)
	}

	// Step 4: unconditional tap.
	if res := r.ExecuteOne(frame); !res.Advanced || res.Actions[0].X != 900 {
		t.Fatalf("step 4: %+v", res)
	}

	// Step 5a: target absent, runner waits on the same step.
	p.texts = nil
	res = r.ExecuteOne(frame)
	if res.Status != StatusWaiting || res.Actions != nil {
		t.Fatalf("step 5a should wait: %+v", res)
	}

	// Step 5b: target appears, advances with no device action.
	p.texts = []model.OCRResult{ocrAt("战斗成功", 540, 800)}
	res = r.ExecuteOne(frame)
	if res.Status != StatusActed || !res.Advanced || len(res.Actions) != 0 {
		t.Fatalf("step 5b should advance with empty actions: %+v", res)
	}

	// Step 6: final tap.
	p.texts = []model.OCRResult{ocrAt("返回小镇", 540, 1700)}
	if res := r.ExecuteOne(frame); !res.Advanced {
		t.Fatalf("step 6: %+v", res)
	}

	if !r.IsDone() || r.IsAborted() {
		t.Fatalf("done=%v aborted=%v, want done and not aborted", r.IsDone(), r.IsAborted())
	}
}

// ensure_main_city from the world map taps the territory nav icon without
// advancing, then advances silently once the corner shows the main city.
func TestEnsureMainCityFromWorldMap(t *testing.T) {
	script := mustScript(t, `{"steps": [{"ensure_main_city": [10]}]}`)
	p := &fakePerceptor{
		corner: model.SceneWorldMap,
		matches: map[string]model.MatchResult{
			"nav_bar/territory": matchAt("nav_bar/territory", 960, 1850),
		},
	}
	r := NewRunner(p)
	r.Load(script)
	frame := testFrame()

	res := r.ExecuteOne(frame)
	if res.Advanced {
		t.Fatal("ensure must not advance while off-scene")
	}
	if len(res.Actions) != 1 || res.Actions[0].X != 960 || res.Actions[0].Y != 1850 {
		t.Fatalf("expected nav tap at (960,1850): %+v", res.Actions)
	}

	p.corner = model.SceneMainCity
	res = r.ExecuteOne(frame)
	if !res.Advanced || len(res.Actions) != 0 {
		t.Fatalf("expected silent advance: %+v", res)
	}
	if !r.IsDone() {
		t.Fatal("script should be done")
	}
}

// ensure_* taps the blank point (500,600) after five failed attempts and
// aborts with a reason past max_retries.
func TestEnsureEscalatesAndAborts(t *testing.T) {
	script := mustScript(t, `{"steps": [{"ensure_main_city": [7]}]}`)
	p := &fakePerceptor{corner: model.ScenePopup, matches: map[string]model.MatchResult{}}
	r := NewRunner(p)
	r.Load(script)
	frame := testFrame()

	for i := 0; i < 5; i++ {
		res := r.ExecuteOne(frame)
		if res.Status != StatusActed {
			t.Fatalf("attempt %d: %+v", i+1, res)
		}
	}
	// Attempts 6-7 blank-tap.
	res := r.ExecuteOne(frame)
	if res.Actions[0].X != 500 || res.Actions[0].Y != 600 {
		t.Fatalf("attempt 6 should blank-tap (500,600): %+v", res.Actions)
	}
	r.ExecuteOne(frame)

	// Attempt 8 exceeds max_retries=7.
	res = r.ExecuteOne(frame)
	if res.Status != StatusAborted || !r.IsAborted() {
		t.Fatalf("expected abort: %+v", res)
	}
	if !strings.Contains(r.AbortReason(), "ensure_main_city") {
		t.Errorf("abort reason %q should name the verb", r.AbortReason())
	}
}

// repeat=k requires exactly k successful executions before the next step.
func TestRepeatCountsSuccesses(t *testing.T) {
	script := mustScript(t, `{"steps": [
		{"tap_xy": [10, 20], "repeat": 3},
		{"tap_xy": [30, 40]}
	]}`)
	r := NewRunner(&fakePerceptor{})
	r.Load(script)
	frame := testFrame()

	for i := 0; i < 2; i++ {
		res := r.ExecuteOne(frame)
		if res.Advanced {
			t.Fatalf("execution %d must not advance yet", i+1)
		}
	}
	res := r.ExecuteOne(frame)
	if !res.Advanced {
		t.Fatal("third success should advance")
	}
	res = r.ExecuteOne(frame)
	if res.Actions[0].X != 30 {
		t.Fatalf("should now be on step 2: %+v", res.Actions)
	}
}

// A waiting step advances only when absent AND optional.
func TestOptionalStepSkipsWhenAbsent(t *testing.T) {
	script := mustScript(t, `{"steps": [
		{"tap_text": ["不存在"], "optional": true},
		{"tap_xy": [11, 22]}
	]}`)
	r := NewRunner(&fakePerceptor{})
	r.Load(script)
	frame := testFrame()

	res := r.ExecuteOne(frame)
	if !res.Advanced || len(res.Actions) != 0 {
		t.Fatalf("optional absent step should skip: %+v", res)
	}
	res = r.ExecuteOne(frame)
	if res.Actions[0].X != 11 {
		t.Fatalf("expected step 2 tap: %+v", res.Actions)
	}
}

// read_text then eval: the read value feeds the restricted evaluator
// through {var} substitution.
func TestReadTextFeedsEval(t *testing.T) {
	script := mustScript(t, `{"steps": [
		{"read_text": [540, 800, "lvl", 200, 60]},
		{"eval": ["next", "{lvl} + 1"]}
	]}`)
	p := &fakePerceptor{texts: []model.OCRResult{ocrAt("7", 540, 800)}}
	r := NewRunner(p)
	r.Load(script)
	frame := testFrame()

	if res := r.ExecuteOne(frame); !res.Advanced {
		t.Fatalf("read_text: %+v", res)
	}
	if res := r.ExecuteOne(frame); !res.Advanced {
		t.Fatalf("eval: %+v", res)
	}
	if got := r.Vars()["next"].String(); got != "8" {
		t.Errorf("next = %q, want 8", got)
	}
}

// A malformed eval expression aborts the script with a recorded reason.
func TestEvalErrorAborts(t *testing.T) {
	script := mustScript(t, `{"steps": [{"eval": ["x", "__import__('os')"]}]}`)
	r := NewRunner(&fakePerceptor{})
	r.Load(script)

	res := r.ExecuteOne(testFrame())
	if res.Status != StatusAborted || !r.IsAborted() {
		t.Fatalf("expected abort: %+v", res)
	}
}

// tap_text picks the nth match in reading order, supporting negative
// indices from the end.
func TestTapTextNthSelection(t *testing.T) {
	script := mustScript(t, `{"steps": [{"tap_text": ["升级", -1]}]}`)
	p := &fakePerceptor{texts: []model.OCRResult{
		ocrAt("升级", 200, 600),
		ocrAt("升级", 200, 1200),
	}}
	r := NewRunner(p)
	r.Load(script)

	res := r.ExecuteOne(testFrame())
	if res.Actions[0].Y != 1200 {
		t.Fatalf("nth=-1 should pick the last match: %+v", res.Actions)
	}
}

// The step delay rides on the emitted action for the pipeline to honor.
func TestStepDelayAttachesToAction(t *testing.T) {
	script := mustScript(t, `{"steps": [{"tap_xy": [5, 6], "delay": 2.5}]}`)
	r := NewRunner(&fakePerceptor{})
	r.Load(script)

	res := r.ExecuteOne(testFrame())
	if res.Actions[0].DelayS != 2.5 {
		t.Errorf("delay = %v, want 2.5", res.Actions[0].DelayS)
	}
}
