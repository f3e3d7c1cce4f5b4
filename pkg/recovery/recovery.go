// Package recovery escalates through three responses when the loop's
// scene history freezes, with a level counter that resets once the scene
// finally changes.
package recovery

import (
	"context"
	"time"

	"github.com/questbot/engine/pkg/device"
	"github.com/questbot/engine/pkg/logger"
)

const maxLevel = 3

// Recoverer escalates 1 → 2 → 3 on consecutive calls and never
// beyond. Level 1 taps a blank point, level 2 the frame center, level 3
// force-stops and relaunches the game package (HOME if none configured).
type Recoverer struct {
	dev        device.Port
	app        device.AppControl
	appPackage string

	level int
	sleep func(time.Duration)
}

// New builds a recoverer. app may be nil when the device port offers no
// app-lifecycle control; level 3 then degrades to a HOME key press.
func New(dev device.Port, app device.AppControl, appPackage string) *Recoverer {
	return &Recoverer{dev: dev, app: app, appPackage: appPackage, sleep: time.Sleep}
}

// Level returns the last level executed (0 before any recovery).
func (r *Recoverer) Level() int { return r.level }

// Reset restores level 0, called when the scene changes.
func (r *Recoverer) Reset() {
	r.level = 0
}

// Recover executes the next escalation level against a frame of the given
// dimensions and returns the level it ran.
func (r *Recoverer) Recover(ctx context.Context, frameW, frameH int) int {
	if r.level < maxLevel {
		r.level++
	}

	switch r.level {
	case 1:
		logger.InfoCF("recovery", "tap_blank", map[string]interface{}{"level": 1})
		r.dev.Tap(ctx, 500, 100)
	case 2:
		logger.InfoCF("recovery", "tap_center", map[string]interface{}{"level": 2})
		r.dev.Tap(ctx, frameW/2, frameH/2)
	default:
		r.restartApp(ctx)
	}
	return r.level
}

func (r *Recoverer) restartApp(ctx context.Context) {
	if r.app == nil || r.appPackage == "" {
		logger.WarnCF("recovery", "no app package configured, pressing HOME", map[string]interface{}{"level": 3})
		r.dev.Key(ctx, "KEYCODE_HOME")
		return
	}
	logger.WarnCF("recovery", "restarting app", map[string]interface{}{"level": 3, "package": r.appPackage})
	r.app.ForceStop(ctx, r.appPackage)
	r.sleep(2 * time.Second)
	r.app.LaunchApp(ctx, r.appPackage)
}
