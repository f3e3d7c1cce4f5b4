// Package device implements the Device Port: the debug-bridge
// transport abstraction the engine consumes: capture-frame, tap, swipe,
// key-event, is-alive, and reconnect with exponential backoff.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/questbot/engine/pkg/model"
)

// Capture error kinds: capture fails with Disconnected or
// DecodeError; every other operation is best-effort with logged failure.
var (
	ErrDisconnected = errors.New("device disconnected")
	ErrDecode       = errors.New("frame decode error")
)

// Port is the transport contract. Implementations must survive
// serialized blocking calls plus the one sanctioned concurrent
// swipe-while-capture pair used by the building finder.
type Port interface {
	// Capture grabs one frame. Fails with ErrDisconnected or ErrDecode
	// (wrapped).
	Capture(ctx context.Context) (model.Frame, error)
	// Tap, Swipe and Key are best-effort: failures are logged, never
	// returned. Swipe blocks for the hold duration (>= 1ms).
	Tap(ctx context.Context, x, y int)
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMS int)
	Key(ctx context.Context, code string)
	// IsAlive reports whether the bridge currently responds.
	IsAlive(ctx context.Context) bool
	// Reconnect retries the connection maxTries times with exponential
	// backoff starting at baseDelay, doubling each attempt. Reports
	// whether the device came back.
	Reconnect(ctx context.Context, maxTries int, baseDelay time.Duration) bool
}

// AppControl is the optional app-lifecycle extension used by stuck-recovery
// level 3: force-stop the game package and relaunch it, or press
// HOME when no package is configured.
type AppControl interface {
	ForceStop(ctx context.Context, pkg string)
	LaunchApp(ctx context.Context, pkg string)
}

// backoffDelays returns the delay schedule base·2^n for n = 0..tries-1,
// used by Reconnect regardless of per-attempt connect outcome.
func backoffDelays(tries int, base time.Duration) []time.Duration {
	delays := make([]time.Duration, 0, tries)
	d := base
	for n := 0; n < tries; n++ {
		delays = append(delays, d)
		d *= 2
	}
	return delays
}
