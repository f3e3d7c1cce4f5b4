package action

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/questbot/engine/pkg/model"
)

type fakeDevice struct {
	taps   [][2]int
	swipes int
	keys   []string
}

func (f *fakeDevice) Capture(ctx context.Context) (model.Frame, error) { return model.Frame{}, nil }
func (f *fakeDevice) Tap(ctx context.Context, x, y int)                { f.taps = append(f.taps, [2]int{x, y}) }
func (f *fakeDevice) Swipe(ctx context.Context, x1, y1, x2, y2, durationMS int) { f.swipes++ }
func (f *fakeDevice) Key(ctx context.Context, code string)             { f.keys = append(f.keys, code) }
func (f *fakeDevice) IsAlive(ctx context.Context) bool                 { return true }
func (f *fakeDevice) Reconnect(ctx context.Context, maxTries int, baseDelay time.Duration) bool {
	return true
}

func testFrame() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 1080, 1920))
}

// An in-bounds tap executes and lands in the GameState action ring.
func TestExecuteTapRecordsAction(t *testing.T) {
	dev := &fakeDevice{}
	state := model.NewGameState(nil)
	p := NewPipeline(dev, nil, state, nil, 2)
	p.sleep = func(time.Duration) {}

	p.Execute(context.Background(), testFrame(), []model.Action{model.Tap(100, 200, "test")})

	if len(dev.taps) != 1 || dev.taps[0] != [2]int{100, 200} {
		t.Fatalf("taps = %v", dev.taps)
	}
	if len(state.Actions) != 1 || !state.Actions[0].Success || state.Actions[0].Reason != "test" {
		t.Fatalf("ring = %+v", state.Actions)
	}
}

// An out-of-bounds tap with no target text is invalid: skipped but still
// recorded as failed.
func TestOutOfBoundsTapSkipped(t *testing.T) {
	dev := &fakeDevice{}
	state := model.NewGameState(nil)
	p := NewPipeline(dev, nil, state, nil, 2)
	p.sleep = func(time.Duration) {}

	p.Execute(context.Background(), testFrame(), []model.Action{model.Tap(5000, 200, "oob")})

	if len(dev.taps) != 0 {
		t.Fatalf("invalid tap reached the device: %v", dev.taps)
	}
	if len(state.Actions) != 1 || state.Actions[0].Success {
		t.Fatalf("ring = %+v", state.Actions)
	}
}

// A swipe needs all four points in bounds.
func TestSwipeValidation(t *testing.T) {
	p := NewPipeline(&fakeDevice{}, nil, nil, nil, 2)
	frame := testFrame()

	if err := p.Validate(frame, model.Swipe(0, 0, 1079, 1919, 300, "")); err != nil {
		t.Errorf("in-bounds swipe rejected: %v", err)
	}
	if err := p.Validate(frame, model.Swipe(0, 0, 2000, 100, 300, "")); err == nil {
		t.Error("out-of-bounds swipe accepted")
	}
}

// wait and key are always valid; find_building is invalid without a finder.
func TestValidateKinds(t *testing.T) {
	p := NewPipeline(&fakeDevice{}, nil, nil, nil, 2)
	frame := testFrame()

	if err := p.Validate(frame, model.Wait(1, "")); err != nil {
		t.Errorf("wait rejected: %v", err)
	}
	if err := p.Validate(frame, model.Key("KEYCODE_BACK", "")); err != nil {
		t.Errorf("key rejected: %v", err)
	}
	if err := p.Validate(frame, model.Action{Kind: model.ActionFindBuilding, Building: "兵营"}); err == nil {
		t.Error("find_building without a finder accepted")
	}
}

// The per-action delay sleeps after a successful execution.
func TestDelayAfterSuccess(t *testing.T) {
	dev := &fakeDevice{}
	p := NewPipeline(dev, nil, nil, nil, 2)
	var slept []time.Duration
	p.sleep = func(d time.Duration) { slept = append(slept, d) }

	p.Execute(context.Background(), testFrame(), []model.Action{model.TapDelayed(10, 10, 1.5, "")})

	if len(slept) != 1 || slept[0] != 1500*time.Millisecond {
		t.Fatalf("slept %v, want [1.5s]", slept)
	}
}

// A tap succeeds when the scene changed or the target disappeared.
func TestCheckTapResult(t *testing.T) {
	p := NewPipeline(&fakeDevice{}, nil, nil, nil, 2)
	if !p.CheckTapResult(model.SceneMainCity, model.ScenePopup, false) {
		t.Error("scene change should count as success")
	}
	if !p.CheckTapResult(model.SceneMainCity, model.SceneMainCity, true) {
		t.Error("target disappearance should count as success")
	}
	if p.CheckTapResult(model.SceneMainCity, model.SceneMainCity, false) {
		t.Error("no delta should count as failure")
	}
}

// The action ring trims to 20 entries once it exceeds 50.
func TestActionRingTrims(t *testing.T) {
	state := model.NewGameState(nil)
	p := NewPipeline(&fakeDevice{}, nil, state, nil, 1)
	p.sleep = func(time.Duration) {}

	for i := 0; i < 51; i++ {
		p.Execute(context.Background(), testFrame(), []model.Action{model.Tap(1, 1, "spam")})
	}
	if len(state.Actions) != 20 {
		t.Fatalf("ring length = %d, want 20", len(state.Actions))
	}
}
