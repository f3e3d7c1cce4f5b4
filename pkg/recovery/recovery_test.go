package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/questbot/engine/pkg/model"
)

// fakeDevice records taps/keys and satisfies device.Port + AppControl.
type fakeDevice struct {
	taps    [][2]int
	keys    []string
	stopped []string
	started []string
}

func (f *fakeDevice) Capture(ctx context.Context) (model.Frame, error) { return model.Frame{}, nil }
func (f *fakeDevice) Tap(ctx context.Context, x, y int)                { f.taps = append(f.taps, [2]int{x, y}) }
func (f *fakeDevice) Swipe(ctx context.Context, x1, y1, x2, y2, durationMS int) {}
func (f *fakeDevice) Key(ctx context.Context, code string)             { f.keys = append(f.keys, code) }
func (f *fakeDevice) IsAlive(ctx context.Context) bool                 { return true }
func (f *fakeDevice) Reconnect(ctx context.Context, maxTries int, baseDelay time.Duration) bool {
	return true
}
func (f *fakeDevice) ForceStop(ctx context.Context, pkg string) { f.stopped = append(f.stopped, pkg) }
func (f *fakeDevice) LaunchApp(ctx context.Context, pkg string) { f.started = append(f.started, pkg) }

// Levels escalate 1 → 2 → 3 and never beyond; reset returns to level 1.
func TestLevelsMonotoneAndReset(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev, dev, "com.example.game")
	r.sleep = func(time.Duration) {}
	ctx := context.Background()

	if lvl := r.Recover(ctx, 1080, 1920); lvl != 1 {
		t.Fatalf("first recovery level = %d, want 1", lvl)
	}
	if dev.taps[0] != [2]int{500, 100} {
		t.Errorf("level 1 tapped %v, want (500,100)", dev.taps[0])
	}

	if lvl := r.Recover(ctx, 1080, 1920); lvl != 2 {
		t.Fatalf("second recovery level = %d, want 2", lvl)
	}
	if dev.taps[1] != [2]int{540, 960} {
		t.Errorf("level 2 tapped %v, want center", dev.taps[1])
	}

	if lvl := r.Recover(ctx, 1080, 1920); lvl != 3 {
		t.Fatalf("third recovery level = %d, want 3", lvl)
	}
	if len(dev.stopped) != 1 || len(dev.started) != 1 {
		t.Errorf("level 3 should force-stop and relaunch: %+v %+v", dev.stopped, dev.started)
	}

	// Level saturates at 3.
	if lvl := r.Recover(ctx, 1080, 1920); lvl != 3 {
		t.Fatalf("fourth recovery level = %d, want 3", lvl)
	}

	r.Reset()
	if lvl := r.Recover(ctx, 1080, 1920); lvl != 1 {
		t.Fatalf("post-reset level = %d, want 1", lvl)
	}
}

// Without an app package, level 3 degrades to a HOME key press.
func TestLevel3WithoutPackagePressesHome(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev, nil, "")
	r.sleep = func(time.Duration) {}
	ctx := context.Background()

	r.Recover(ctx, 1080, 1920)
	r.Recover(ctx, 1080, 1920)
	r.Recover(ctx, 1080, 1920)

	if len(dev.keys) != 1 || dev.keys[0] != "KEYCODE_HOME" {
		t.Fatalf("keys = %v, want one KEYCODE_HOME", dev.keys)
	}
}
