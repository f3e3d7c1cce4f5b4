// Package action validates each emitted action, executes it against the
// device with bounded retries, records it in the GameState action ring,
// and optionally verifies the result by scene or element delta.
package action

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/questbot/engine/pkg/device"
	"github.com/questbot/engine/pkg/element"
	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/model"
)

// BuildingFinder resolves find_building actions; nil disables them
// (degraded mode when the city layout is missing).
type BuildingFinder interface {
	Find(ctx context.Context, name string, scroll bool, maxAttempts int) bool
}

// Pipeline executes validated actions.
type Pipeline struct {
	Device   device.Port
	Detector *element.Detector
	State    *model.GameState
	Finder   BuildingFinder

	MaxRetries int
	sleep      func(time.Duration)
}

// NewPipeline wires the pipeline. maxRetries <= 0 defaults to 2.
func NewPipeline(dev device.Port, detector *element.Detector, state *model.GameState, finder BuildingFinder, maxRetries int) *Pipeline {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	return &Pipeline{
		Device:     dev,
		Detector:   detector,
		State:      state,
		Finder:     finder,
		MaxRetries: maxRetries,
		sleep:      time.Sleep,
	}
}

// Validate checks an action against the frame dimensions: wait and
// key are always valid; tap needs in-bounds coordinates or a locatable
// target text (grid cell fallback); swipe needs all four points in bounds.
func (p *Pipeline) Validate(frame *image.RGBA, a model.Action) error {
	w, h := frame.Bounds().Dx(), frame.Bounds().Dy()

	switch a.Kind {
	case model.ActionWait, model.ActionKey:
		return nil

	case model.ActionTap:
		if inBounds(a.X, a.Y, w, h) {
			return nil
		}
		if a.TargetText != "" || a.GridCell != "" {
			return nil // resolved at execution time
		}
		return fmt.Errorf("tap (%d,%d) out of bounds %dx%d", a.X, a.Y, w, h)

	case model.ActionSwipe:
		if !inBounds(a.X, a.Y, w, h) || !inBounds(a.X2, a.Y2, w, h) {
			return fmt.Errorf("swipe endpoints out of bounds %dx%d", w, h)
		}
		return nil

	case model.ActionFindBuilding:
		if p.Finder == nil {
			return fmt.Errorf("building finder disabled")
		}
		return nil

	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

// Execute validates and runs each action in order, retrying failures up to
// MaxRetries and recording each attempt in the GameState ring. An invalid
// action is recorded as failed and skipped; the rest still run.
func (p *Pipeline) Execute(ctx context.Context, frame *image.RGBA, actions []model.Action) {
	for _, a := range actions {
		if err := p.Validate(frame, a); err != nil {
			logger.WarnCF("action", "invalid action skipped", map[string]interface{}{
				"kind": string(a.Kind), "reason": a.Reason, "error": err.Error(),
			})
			p.record(a, false)
			continue
		}

		ok := false
		for attempt := 0; attempt < p.MaxRetries && !ok; attempt++ {
			ok = p.executeOne(ctx, frame, a)
		}
		p.record(a, ok)

		if ok && a.DelayS > 0 {
			p.sleep(time.Duration(a.DelayS * float64(time.Second)))
		}
	}
}

func (p *Pipeline) executeOne(ctx context.Context, frame *image.RGBA, a model.Action) bool {
	switch a.Kind {
	case model.ActionTap:
		x, y, ok := p.resolveTap(frame, a)
		if !ok {
			return false
		}
		p.Device.Tap(ctx, x, y)
		return true

	case model.ActionSwipe:
		p.Device.Swipe(ctx, a.X, a.Y, a.X2, a.Y2, a.DurationMS)
		return true

	case model.ActionKey:
		p.Device.Key(ctx, a.KeyCode)
		return true

	case model.ActionWait:
		p.sleep(time.Duration(a.DelayS * float64(time.Second)))
		return true

	case model.ActionFindBuilding:
		return p.Finder.Find(ctx, a.Building, a.Scroll, a.MaxAttempts)

	default:
		return false
	}
}

// resolveTap turns a text-targeted tap into coordinates by locating the
// target on the frame, with the grid cell as fallback.
func (p *Pipeline) resolveTap(frame *image.RGBA, a model.Action) (int, int, bool) {
	w, h := frame.Bounds().Dx(), frame.Bounds().Dy()
	if a.TargetText == "" && a.GridCell == "" {
		return a.X, a.Y, inBounds(a.X, a.Y, w, h)
	}

	if a.TargetText != "" && p.Detector != nil {
		if el, ok := p.Detector.Locate(frame, a.TargetText, []element.Method{element.MethodOCR, element.MethodTemplate}); ok {
			return el.CenterX, el.CenterY, true
		}
	}
	if a.GridCell != "" && p.Detector != nil {
		if el, ok := p.Detector.Locate(frame, a.GridCell, []element.Method{element.MethodGrid}); ok {
			return el.CenterX, el.CenterY, true
		}
	}
	return 0, 0, false
}

// CheckTapResult reports whether a tap succeeded by delta: the scene
// changed, or the tapped target disappeared.
func (p *Pipeline) CheckTapResult(before, after model.Scene, targetGone bool) bool {
	return before != after || targetGone
}

func (p *Pipeline) record(a model.Action, success bool) {
	if p.State == nil {
		return
	}
	p.State.RecordAction(model.ActionRecord{
		ID:        uuid.NewString(),
		Kind:      string(a.Kind),
		Reason:    a.Reason,
		Timestamp: time.Now(),
		Success:   success,
	})
}

func inBounds(x, y, w, h int) bool {
	return x >= 0 && y >= 0 && x < w && y < h
}
