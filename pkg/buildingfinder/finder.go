// Package buildingfinder implements the press-drag-read building search
// used by the find_building quest-script verb. It hosts the engine's one
// concurrent section: a worker issues the blocking swipe while the main
// flow captures a frame mid-hold to read the building name labels that
// are only visible during the drag.
package buildingfinder

import (
	"context"
	"image"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/questbot/engine/pkg/device"
	ximaging "github.com/questbot/engine/pkg/imaging"
	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/ocr"
	"github.com/questbot/engine/pkg/profile"
)

const (
	holdDurationMS = 2500
	// captureAfter is the fraction of the hold elapsed before the mid-drag
	// capture fires.
	captureAfter = 0.4
)

// Finder locates a named building in the city view.
type Finder struct {
	Device device.Port
	OCR    *ocr.Port
	Layout profile.CityLayout

	FrameW, FrameH int
	sleep          func(time.Duration)
}

// New builds a finder; a nil layout leaves it enabled but without
// approximate positions (every search starts from the city center).
func New(dev device.Port, ocrPort *ocr.Port, layout profile.CityLayout, frameW, frameH int) *Finder {
	return &Finder{
		Device: dev,
		OCR:    ocrPort,
		Layout: layout,
		FrameW: frameW,
		FrameH: frameH,
		sleep:  time.Sleep,
	}
}

// Find long-presses the building layer, drags toward the target's
// approximate layout position, reads labels mid-drag, and taps the best
// match. Repeats up to maxAttempts with an extra scroll when allowed.
func (f *Finder) Find(ctx context.Context, name string, scroll bool, maxAttempts int) bool {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	startX, startY := f.FrameW/2, f.FrameH/2
	targetX, targetY := startX, startY
	if pos, ok := f.Layout[name]; ok {
		targetX, targetY = pos.X, pos.Y
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if hit, ok := f.pressDragRead(ctx, startX, startY, targetX, targetY, name); ok {
			f.Device.Tap(ctx, hit.CenterX, hit.CenterY)
			logger.InfoCF("building_finder", "building found", map[string]interface{}{
				"name": name, "x": hit.CenterX, "y": hit.CenterY, "attempt": attempt + 1,
			})
			return true
		}
		if !scroll {
			break
		}
		// Scroll the city view toward the approximate position and retry.
		f.Device.Swipe(ctx, startX, startY, startX+(startX-targetX)/2, startY+(startY-targetY)/2, 400)
		f.sleep(500 * time.Millisecond)
	}
	logger.WarnCF("building_finder", "building not found", map[string]interface{}{"name": name})
	return false
}

// pressDragRead runs the one concurrent swipe+capture pair: the worker
// holds the drag while the main flow waits part of the hold, captures, and
// joins. No other shared state is touched by the worker.
func (f *Finder) pressDragRead(ctx context.Context, x1, y1, x2, y2 int, name string) (model.OCRResult, bool) {
	var g errgroup.Group
	g.Go(func() error {
		f.Device.Swipe(ctx, x1, y1, x2, y2, holdDurationMS)
		return nil
	})

	f.sleep(time.Duration(float64(holdDurationMS)*captureAfter) * time.Millisecond)

	var labels []model.OCRResult
	frame, err := f.Device.Capture(ctx)
	if err != nil {
		logger.WarnCF("building_finder", "mid-drag capture failed", map[string]interface{}{"error": err.Error()})
	} else if f.OCR != nil {
		rgba := toRGBA(frame)
		if results, derr := f.OCR.Detect(rgba, nil); derr == nil {
			labels = results
		}
	}

	_ = g.Wait()

	best := model.OCRResult{}
	found := false
	for _, r := range labels {
		if !strings.Contains(r.Text, name) {
			continue
		}
		if !found || r.Confidence > best.Confidence {
			best = r
			found = true
		}
	}
	return best, found
}

func toRGBA(frame model.Frame) *image.RGBA {
	return ximaging.ToRGBA(frame.Img)
}
