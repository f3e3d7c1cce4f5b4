package device

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os/exec"
	"strings"
	"time"

	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/model"
)

// commandRunner executes one adb invocation, returning raw stdout. Swapped
// out by tests.
type commandRunner func(ctx context.Context, args ...string) ([]byte, error)

// ADB drives an Android debug bridge device. One instance per device; the
// serial is always passed via -s to avoid "more than one device" errors.
type ADB struct {
	serial         string
	captureTimeout time.Duration
	opTimeout      time.Duration

	run   commandRunner
	sleep func(time.Duration)
}

// NewADB builds an ADB port for the given device serial. Timeouts follow
// capture 15s, other operations 10s, overridable.
func NewADB(serial string, captureTimeout, opTimeout time.Duration) *ADB {
	if captureTimeout <= 0 {
		captureTimeout = 15 * time.Second
	}
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	a := &ADB{
		serial:         serial,
		captureTimeout: captureTimeout,
		opTimeout:      opTimeout,
		sleep:          time.Sleep,
	}
	a.run = a.execADB
	return a
}

func (a *ADB) execADB(ctx context.Context, args ...string) ([]byte, error) {
	fullArgs := append([]string{"-s", a.serial}, args...)
	cmd := exec.CommandContext(ctx, "adb", fullArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("adb %s: %w (stderr: %s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Capture grabs a screenshot via exec-out screencap and decodes it into a
// frame. Transport failure maps to ErrDisconnected, a bad image payload to
// ErrDecode.
func (a *ADB) Capture(ctx context.Context) (model.Frame, error) {
	cctx, cancel := context.WithTimeout(ctx, a.captureTimeout)
	defer cancel()

	raw, err := a.run(cctx, "exec-out", "screencap", "-p")
	if err != nil {
		return model.Frame{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return model.Frame{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return model.NewFrame(img), nil
}

// Tap sends an input tap. Best-effort: failure is logged, not returned.
func (a *ADB) Tap(ctx context.Context, x, y int) {
	octx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	if _, err := a.run(octx, "shell", "input", "tap", fmt.Sprintf("%d", x), fmt.Sprintf("%d", y)); err != nil {
		logger.WarnCF("device", "tap failed", map[string]interface{}{"x": x, "y": y, "error": err.Error()})
	}
}

// Swipe sends an input swipe, blocking for the hold duration.
func (a *ADB) Swipe(ctx context.Context, x1, y1, x2, y2, durationMS int) {
	if durationMS < 1 {
		durationMS = 1
	}
	timeout := a.opTimeout + time.Duration(durationMS)*time.Millisecond
	octx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := a.run(octx, "shell", "input", "swipe",
		fmt.Sprintf("%d", x1), fmt.Sprintf("%d", y1),
		fmt.Sprintf("%d", x2), fmt.Sprintf("%d", y2),
		fmt.Sprintf("%d", durationMS))
	if err != nil {
		logger.WarnCF("device", "swipe failed", map[string]interface{}{"error": err.Error()})
	}
}

// Key sends a keyevent by code or name ("KEYCODE_HOME", "4", ...).
func (a *ADB) Key(ctx context.Context, code string) {
	octx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	if _, err := a.run(octx, "shell", "input", "keyevent", code); err != nil {
		logger.WarnCF("device", "keyevent failed", map[string]interface{}{"code": code, "error": err.Error()})
	}
}

// IsAlive probes the device with a trivial shell echo.
func (a *ADB) IsAlive(ctx context.Context) bool {
	octx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	out, err := a.run(octx, "shell", "echo", "ok")
	return err == nil && strings.Contains(string(out), "ok")
}

// Reconnect attempts adb connect up to maxTries times, sleeping base·2^n
// before attempt n. The delay schedule is fixed up front regardless of
// per-attempt outcome.
func (a *ADB) Reconnect(ctx context.Context, maxTries int, baseDelay time.Duration) bool {
	for n, delay := range backoffDelays(maxTries, baseDelay) {
		a.sleep(delay)
		if ctx.Err() != nil {
			return false
		}

		octx, cancel := context.WithTimeout(ctx, a.opTimeout)
		_, err := a.run(octx, "connect", a.serial)
		cancel()
		if err != nil {
			logger.WarnCF("device", "reconnect attempt failed", map[string]interface{}{
				"attempt": n + 1, "error": err.Error(),
			})
			continue
		}
		if a.IsAlive(ctx) {
			logger.InfoCF("device", "reconnected", map[string]interface{}{"serial": a.serial, "attempt": n + 1})
			return true
		}
	}
	logger.ErrorCF("device", "reconnect exhausted", map[string]interface{}{"serial": a.serial, "tries": maxTries})
	return false
}

// ForceStop force-stops an app package (stuck-recovery level 3).
func (a *ADB) ForceStop(ctx context.Context, pkg string) {
	octx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	if _, err := a.run(octx, "shell", "am", "force-stop", pkg); err != nil {
		logger.WarnCF("device", "force-stop failed", map[string]interface{}{"package": pkg, "error": err.Error()})
	}
}

// LaunchApp relaunches an app via a launcher intent, the same monkey idiom
// the capture substrate uses; no activity name needed.
func (a *ADB) LaunchApp(ctx context.Context, pkg string) {
	octx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	if _, err := a.run(octx, "shell", "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1"); err != nil {
		logger.WarnCF("device", "launch failed", map[string]interface{}{"package": pkg, "error": err.Error()})
	}
}
