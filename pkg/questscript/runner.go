package questscript

import (
	"fmt"
	"image"
	"strings"

	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/ocr"
)

// Perceptor supplies the perception primitives a step executes against.
// All methods are pure functions of the frame plus the template cache,
// so the runner owns no device access; it only emits actions.
type Perceptor interface {
	// OCRDetect returns text regions in frame (restricted to region if
	// non-nil), with OCR corrections already applied.
	OCRDetect(frame *image.RGBA, region *model.Bbox) []model.OCRResult
	// Match finds the nth best match (1-based, descending confidence) of a
	// named template; nth <= 1 means the single best.
	Match(frame *image.RGBA, name string, nth int) (model.MatchResult, bool)
	// CornerScene classifies the bottom-right corner as MainCity or
	// WorldMap, the same detector the scene classifier uses.
	CornerScene(frame *image.RGBA) (model.Scene, bool)
}

// Status reports what one ExecuteOne call did.
type Status int

const (
	// StatusActed: the step produced actions (it may or may not have
	// advanced; ensure_* steps re-run until their scene check passes).
	StatusActed Status = iota
	// StatusWaiting: the step's target is absent; the same step re-runs on
	// the next frame (the first-class "wait" sentinel).
	StatusWaiting
	// StatusDone: the script has no steps left.
	StatusDone
	// StatusAborted: a required step failed permanently.
	StatusAborted
)

// ExecResult is the outcome of one ExecuteOne call. Actions is nil exactly
// when the runner is waiting or terminal; an empty non-nil slice means the
// step made progress without touching the device.
type ExecResult struct {
	Status   Status
	Actions  []model.Action
	Advanced bool
}

const (
	// ensureBlankTapAfter is the failed-attempt count after which ensure_*
	// taps a deterministic blank point to dismiss stray overlays.
	ensureBlankTapAfter = 5
	ensureBlankTapX     = 500
	ensureBlankTapY     = 600
)

// Runner is the step-wise quest-script interpreter. One step per
// ExecuteOne call, with a load/reset/done/aborted lifecycle.
type Runner struct {
	perceptor Perceptor

	script      *Script
	pos         int
	repeatsDone int // successful executions of the current step
	ensureFails int // failed attempts of the current ensure_* step
	aborted     bool
	abortReason string
	vars        Vars
}

// NewRunner builds a runner over the given perceptor.
func NewRunner(perceptor Perceptor) *Runner {
	return &Runner{perceptor: perceptor, vars: make(Vars)}
}

// Load installs script and resets all execution state, seeding variables
// from the script's Variables table.
func (r *Runner) Load(script *Script) {
	r.script = script
	r.Reset()
}

// Reset rewinds to step 0, clears abort state and rebuilds the variable bag
// from the script's seed variables.
func (r *Runner) Reset() {
	r.pos = 0
	r.repeatsDone = 0
	r.ensureFails = 0
	r.aborted = false
	r.abortReason = ""
	r.vars = make(Vars)
	if r.script != nil {
		for k, v := range r.script.Variables {
			r.vars[k] = StringValue(v)
		}
	}
}

// IsDone reports whether every step has executed or the script aborted.
func (r *Runner) IsDone() bool {
	if r.script == nil {
		return true
	}
	return r.aborted || r.pos >= len(r.script.Steps)
}

// IsAborted reports whether a required step failed permanently.
func (r *Runner) IsAborted() bool { return r.aborted }

// AbortReason returns the recorded explanation for an abort; script
// errors are marked with a reason, never thrown.
func (r *Runner) AbortReason() string { return r.abortReason }

// CurrentStep returns the pending step, or (nil, false) if terminal.
func (r *Runner) CurrentStep() (*Step, bool) {
	if r.IsDone() {
		return nil, false
	}
	return &r.script.Steps[r.pos], true
}

// Vars exposes the variable bag for inspection and external seeding.
func (r *Runner) Vars() Vars { return r.vars }

// ExecuteOne executes the current step once against frame. Advancing past a
// step requires either emitted progress (non-nil actions) or an optional
// step whose target is absent; a step with repeat=k advances only
// after k successful executions.
func (r *Runner) ExecuteOne(frame *image.RGBA) ExecResult {
	if r.aborted {
		return ExecResult{Status: StatusAborted}
	}
	step, ok := r.CurrentStep()
	if !ok {
		return ExecResult{Status: StatusDone}
	}

	actions, outcome := r.execStep(frame, step)
	switch outcome {
	case outcomeAbort:
		return ExecResult{Status: StatusAborted}

	case outcomeWait:
		if step.Optional {
			// A waiting optional step is skipped instead of retried.
			r.advance()
			return ExecResult{Status: StatusActed, Actions: []model.Action{}, Advanced: true}
		}
		return ExecResult{Status: StatusWaiting}

	case outcomeActedNoAdvance:
		// ensure_* steps never advance on their own.
		return ExecResult{Status: StatusActed, Actions: r.withDelay(step, actions)}

	default: // outcomeSuccess
		r.repeatsDone++
		if r.repeatsDone >= step.Repeat {
			r.advance()
			return ExecResult{Status: StatusActed, Actions: r.withDelay(step, actions), Advanced: true}
		}
		return ExecResult{Status: StatusActed, Actions: r.withDelay(step, actions)}
	}
}

func (r *Runner) advance() {
	r.pos++
	r.repeatsDone = 0
	r.ensureFails = 0
}

// withDelay applies the step's settle delay to the final emitted action;
// progress-only results (empty slice) carry no delay.
func (r *Runner) withDelay(step *Step, actions []model.Action) []model.Action {
	if actions == nil {
		actions = []model.Action{}
	}
	if len(actions) > 0 && step.Delay > 0 {
		actions[len(actions)-1].DelayS = step.Delay
	}
	return actions
}

type stepOutcome int

const (
	outcomeSuccess stepOutcome = iota
	outcomeWait
	outcomeActedNoAdvance
	outcomeAbort
)

func (r *Runner) abort(reason string) ([]model.Action, stepOutcome) {
	r.aborted = true
	r.abortReason = reason
	return nil, outcomeAbort
}

func (r *Runner) execStep(frame *image.RGBA, step *Step) ([]model.Action, stepOutcome) {
	switch step.Verb {
	case VerbTapXY:
		a := step.TapXY
		return []model.Action{model.Tap(a.X, a.Y, r.reason(step, fmt.Sprintf("tap_xy(%d,%d)", a.X, a.Y)))}, outcomeSuccess

	case VerbTapText:
		return r.execTapText(frame, step)

	case VerbTapIcon:
		a := step.TapIcon
		name := r.substituted(a.Name)
		m, ok := r.perceptor.Match(frame, name, a.Nth)
		if !ok {
			return nil, outcomeWait
		}
		return []model.Action{model.Tap(m.CenterX, m.CenterY, r.reason(step, "tap_icon:"+name))}, outcomeSuccess

	case VerbSwipe:
		a := step.Swipe
		return []model.Action{model.Swipe(a.X1, a.Y1, a.X2, a.Y2, a.DurationMS, r.reason(step, "swipe"))}, outcomeSuccess

	case VerbWaitText:
		text := r.substituted(step.WaitText.Text)
		results := r.perceptor.OCRDetect(frame, step.Region)
		if len(ocr.FindSubstring(results, text)) == 0 {
			return nil, outcomeWait
		}
		return []model.Action{}, outcomeSuccess

	case VerbReadText:
		return r.execReadText(frame, step)

	case VerbEval:
		a := step.Eval
		val, err := SafeEval(a.Expr, r.vars)
		if err != nil {
			return r.abort(fmt.Sprintf("eval %q: %v", a.Expr, err))
		}
		r.vars[a.Var] = StringValue(val.String())
		return []model.Action{}, outcomeSuccess

	case VerbEnsureMainCity:
		return r.execEnsure(frame, step, model.SceneMainCity)

	case VerbEnsureWorldMap:
		return r.execEnsure(frame, step, model.SceneWorldMap)

	case VerbFindBuilding:
		a := step.FindBuilding
		return []model.Action{{
			Kind:        model.ActionFindBuilding,
			Building:    r.substituted(a.Name),
			Scroll:      a.Scroll,
			MaxAttempts: a.MaxAttempts,
			Reason:      r.reason(step, "find_building:"+a.Name),
		}}, outcomeSuccess

	default:
		return r.abort(fmt.Sprintf("unknown verb %q", step.Verb))
	}
}

func (r *Runner) execTapText(frame *image.RGBA, step *Step) ([]model.Action, stepOutcome) {
	a := step.TapText
	text := r.substituted(a.Text)
	results := r.perceptor.OCRDetect(frame, step.Region)
	matches := ocr.FindSubstring(results, text)
	hit, ok := ocr.Nth(matches, a.Nth)
	if !ok {
		return nil, outcomeWait
	}
	x := hit.CenterX + a.OffsetX
	y := hit.CenterY + a.OffsetY
	return []model.Action{model.Tap(x, y, r.reason(step, "tap_text:"+text))}, outcomeSuccess
}

func (r *Runner) execReadText(frame *image.RGBA, step *Step) ([]model.Action, stepOutcome) {
	a := step.ReadText
	region := model.Bbox{
		X1: a.X - a.W/2, Y1: a.Y - a.H/2,
		X2: a.X + a.W/2, Y2: a.Y + a.H/2,
	}
	results := r.perceptor.OCRDetect(frame, &region)
	ocr.SortReadingOrder(results)
	var parts []string
	for _, res := range results {
		parts = append(parts, res.Text)
	}
	r.vars[a.Var] = StringValue(strings.Join(parts, ""))
	return []model.Action{}, outcomeSuccess
}

// execEnsure implements the ensure_main_city / ensure_world_map
// contract: advance only once the corner detector sees the target scene;
// otherwise tap the crossing nav icon, else a back-arrow, else a close-x;
// blank-tap after 5 failures; abort past MaxRetries.
func (r *Runner) execEnsure(frame *image.RGBA, step *Step, target model.Scene) ([]model.Action, stepOutcome) {
	current, _ := r.perceptor.CornerScene(frame)
	if current == target {
		return []model.Action{}, outcomeSuccess
	}

	r.ensureFails++
	if r.ensureFails > step.Ensure.MaxRetries {
		return r.abort(fmt.Sprintf("%s: still %q after %d attempts", step.Verb, current, step.Ensure.MaxRetries))
	}

	if r.ensureFails > ensureBlankTapAfter {
		return []model.Action{model.Tap(ensureBlankTapX, ensureBlankTapY, string(step.Verb)+":blank_tap")}, outcomeActedNoAdvance
	}

	// From the other primary scene, tap the nav icon that crosses over.
	nav := "nav_bar/world"
	other := model.SceneMainCity
	if target == model.SceneMainCity {
		nav = "nav_bar/territory"
		other = model.SceneWorldMap
	}
	if current == other {
		if m, ok := r.perceptor.Match(frame, nav, 1); ok {
			return []model.Action{model.Tap(m.CenterX, m.CenterY, string(step.Verb)+":nav")}, outcomeActedNoAdvance
		}
	}
	if m, ok := r.perceptor.Match(frame, "buttons/back_arrow", 1); ok {
		return []model.Action{model.Tap(m.CenterX, m.CenterY, string(step.Verb)+":back")}, outcomeActedNoAdvance
	}
	if m, ok := r.perceptor.Match(frame, "buttons/close_x", 1); ok {
		return []model.Action{model.Tap(m.CenterX, m.CenterY, string(step.Verb)+":close")}, outcomeActedNoAdvance
	}
	return []model.Action{model.Tap(ensureBlankTapX, ensureBlankTapY, string(step.Verb)+":blank_tap")}, outcomeActedNoAdvance
}

func (r *Runner) substituted(s string) string {
	return substitutePlaceholders(s, r.vars)
}

func (r *Runner) reason(step *Step, fallback string) string {
	if step.Description != "" {
		return step.Description
	}
	return fallback
}
