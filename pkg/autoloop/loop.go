// Package autoloop runs the top-level perceive-decide-act loop: capture,
// classify, triage through the priority handlers, drive the quest
// workflow, and recover when progress stalls, with every iteration
// quarantined behind a consecutive-error budget.
package autoloop

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/questbot/engine/pkg/action"
	"github.com/questbot/engine/pkg/autohandler"
	"github.com/questbot/engine/pkg/config"
	"github.com/questbot/engine/pkg/device"
	"github.com/questbot/engine/pkg/element"
	"github.com/questbot/engine/pkg/finger"
	"github.com/questbot/engine/pkg/gamestate"
	ximaging "github.com/questbot/engine/pkg/imaging"
	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/matcher"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/profile"
	"github.com/questbot/engine/pkg/recovery"
	"github.com/questbot/engine/pkg/scene"
	"github.com/questbot/engine/pkg/template"
	"github.com/questbot/engine/pkg/workflow"
)

// Loop owns one engine instance's iteration cycle.
type Loop struct {
	cfg *config.Config

	dev        device.Port
	templates  *template.Store
	classifier *scene.Classifier
	fingerDet  *finger.Detector
	tracker    *gamestate.Tracker
	wf         *workflow.Workflow
	pipeline   *action.Pipeline
	recoverer  *recovery.Recoverer
	handler    *autohandler.Handler
	prof       *profile.Profile
	state      *model.GameState
	statePath  string

	cron gronx.Gronx

	sceneHistory       []model.Scene
	consecutiveUnknown int
	captureFails       int
	consecutiveErrors  int
	iteration          int64

	sleep func(time.Duration)
}

// Deps bundles the wired components the loop drives.
type Deps struct {
	Device     device.Port
	Templates  *template.Store
	Classifier *scene.Classifier
	Finger     *finger.Detector
	Tracker    *gamestate.Tracker
	Workflow   *workflow.Workflow
	Pipeline   *action.Pipeline
	Recoverer  *recovery.Recoverer
	Handler    *autohandler.Handler
	Profile    *profile.Profile
	State      *model.GameState
	StatePath  string
}

// New builds the loop from its wired dependencies.
func New(cfg *config.Config, deps Deps) *Loop {
	return &Loop{
		cfg:        cfg,
		dev:        deps.Device,
		templates:  deps.Templates,
		classifier: deps.Classifier,
		fingerDet:  deps.Finger,
		tracker:    deps.Tracker,
		wf:         deps.Workflow,
		pipeline:   deps.Pipeline,
		recoverer:  deps.Recoverer,
		handler:    deps.Handler,
		prof:       deps.Profile,
		state:      deps.State,
		statePath:  deps.StatePath,
		cron:       *gronx.New(),
		sleep:      time.Sleep,
	}
}

// Run drives iterations until ctx is canceled (clean exit, nil) or the
// consecutive-error budget / reconnect attempts are exhausted (error).
// On cancellation the current iteration drains and the state persists
// before returning.
func (l *Loop) Run(ctx context.Context) error {
	logger.InfoCF("autoloop", "starting", map[string]interface{}{
		"interval_s": l.cfg.Recovery.LoopIntervalS,
	})

	for {
		select {
		case <-ctx.Done():
			l.persist()
			logger.InfoC("autoloop", "interrupted, state persisted")
			return nil
		default:
		}

		if err := l.safeIterate(ctx); err != nil {
			l.consecutiveErrors++
			logger.ErrorCF("autoloop", "iteration failed", map[string]interface{}{
				"error": err.Error(), "consecutive": l.consecutiveErrors,
			})
			if l.consecutiveErrors > l.cfg.Recovery.ConsecutiveErrorBudget {
				l.persist()
				return fmt.Errorf("consecutive error budget exhausted: %w", err)
			}
		} else {
			l.consecutiveErrors = 0
		}

		l.sleep(time.Duration(l.cfg.Recovery.LoopIntervalS * float64(time.Second)))
	}
}

// RunOnce executes a single iteration, used by the supervisor's one-shot
// mode.
func (l *Loop) RunOnce(ctx context.Context) error {
	defer l.persist()
	return l.safeIterate(ctx)
}

// safeIterate quarantines one iteration: a panic inside the body converts
// to an error counted against the consecutive-error budget.
func (l *Loop) safeIterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panic: %v", r)
		}
	}()
	return l.iterate(ctx)
}

var errReconnectFailed = fmt.Errorf("device reconnect exhausted")

func (l *Loop) iterate(ctx context.Context) error {
	l.iteration++
	l.maybeReload()

	// 1. Liveness.
	if !l.dev.IsAlive(ctx) {
		if !l.dev.Reconnect(ctx, l.cfg.Device.ReconnectTries, time.Duration(l.cfg.Device.ReconnectBaseS*float64(time.Second))) {
			return errReconnectFailed
		}
	}

	// 2. Capture with consecutive-failure tracking.
	frameVal, err := l.dev.Capture(ctx)
	if err != nil {
		l.captureFails++
		logger.WarnCF("autoloop", "capture failed", map[string]interface{}{
			"error": err.Error(), "consecutive": l.captureFails,
		})
		if l.captureFails >= 3 {
			l.dev.Reconnect(ctx, l.cfg.Device.ReconnectTries, time.Duration(l.cfg.Device.ReconnectBaseS*float64(time.Second)))
			l.captureFails = 0
		}
		return nil
	}
	l.captureFails = 0
	frame := ximaging.ToRGBA(frameVal.Img)

	// 3. Classify and append to bounded history.
	result := l.classifier.Classify(frame)
	sc := result.Scene
	l.pushScene(sc)
	l.state.Scene = sc

	if l.iteration%int64(maxInt(l.cfg.Recovery.StatusLogEvery, 1)) == 0 {
		logger.InfoCF("autoloop", "status", map[string]interface{}{
			"iteration": l.iteration, "scene": string(sc),
			"workflow": string(l.wf.Phase()), "quest": l.wf.TargetQuest(),
		})
	} else {
		logger.DebugCF("autoloop", "scene", map[string]interface{}{"scene": string(sc), "confidence": result.Confidence})
	}

	// 4. Stuck recovery.
	if l.isStuck() {
		level := l.recoverer.Recover(ctx, frame.Bounds().Dx(), frame.Bounds().Dy())
		logger.WarnCF("autoloop", "stuck recovery ran", map[string]interface{}{"level": level, "scene": string(sc)})
		l.sceneHistory = l.sceneHistory[:0]
		l.persist()
		return nil
	}

	// 5. Finger first, before the OCR-expensive state update.
	if f, ok := l.fingerDet.Detect(frame); ok {
		l.pipeline.Execute(ctx, frame, []model.Action{
			model.TapDelayed(f.FingertipX, f.FingertipY, 1.5, "finger:"+f.Orientation),
		})
		if l.state.QuestBar.HasTutorialFinger && l.wf.InEarlyPhase() {
			l.wf.FastForwardToExecute()
		}
		l.persist()
		return nil
	}

	// 6. State tracking on the main city.
	if sc == model.SceneMainCity {
		l.tracker.Update(frame)
	}

	// 7-12. Scene triage.
	if acts, handled := l.triage(ctx, frame, sc); handled {
		l.pipeline.Execute(ctx, frame, acts)
		l.persist()
		return nil
	}

	// 11. Active workflow drives.
	if l.wf.Active() {
		acts := l.wf.Step(frame, sc)
		l.pipeline.Execute(ctx, frame, acts)
		l.persist()
		return nil
	}

	// 13. Start a workflow when the main city shows a startable quest.
	if sc == model.SceneMainCity && l.state.QuestBar.Visible &&
		l.wf.ShouldStart(l.state.QuestBar.CurrentQuestText, l.state.QuestBar.HasGreenCheck) {
		l.wf.Start()
		l.persist()
		return nil
	}

	// 14. Opportunistic rules.
	if acts := l.handler.Handle(frame, l.state, sc); len(acts) > 0 {
		l.pipeline.Execute(ctx, frame, acts)
	}

	// 15. Persist.
	l.persist()
	return nil
}

// triage handles the scene-specific fast paths,
// returning (actions, true) when a path claimed the iteration.
func (l *Loop) triage(ctx context.Context, frame *image.RGBA, sc model.Scene) ([]model.Action, bool) {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()

	switch sc {
	case model.SceneExitDialog:
		// Resume and idle for a while: something asked to quit the game.
		acts := []model.Action{model.TapDelayed(w/2, int(0.42*float64(h)), 60, "exit_dialog:resume")}
		l.consecutiveUnknown = 0
		return acts, true

	case model.SceneHero, model.SceneHeroRecruit, model.SceneHeroUpgrade:
		l.consecutiveUnknown = 0
		return l.backOutOfHero(frame, sc), true

	case model.ScenePopup:
		l.consecutiveUnknown = 0
		if l.wf.Active() {
			return nil, false // workflow owns popups mid-quest
		}
		if acts, ok := l.wf.PopupFilter(frame); ok {
			return acts, true
		}
		return l.wf.PopupEscalate(frame), true

	case model.SceneStoryDialogue:
		l.consecutiveUnknown = 0
		if l.wf.Active() {
			return nil, false
		}
		return l.skipStory(frame), true

	case model.SceneLoading:
		l.consecutiveUnknown = 0
		// A reward popup over a dark backdrop misclassifies as loading: a
		// primary button there is real.
		if el, ok := element.PrimaryButton(frame); ok {
			return []model.Action{model.TapDelayed(el.CenterX, el.CenterY, 1.0, "loading:reward_button")}, true
		}
		return []model.Action{model.Wait(2.0, "loading:wait")}, true

	case model.SceneUnknown:
		return l.handleUnknown(frame), true
	}

	l.consecutiveUnknown = 0
	return nil, false
}

// backOutOfHero leaves the hero screens; the upgrade screen is only backed
// out of when no red cost warning sits near the primary button.
func (l *Loop) backOutOfHero(frame *image.RGBA, sc model.Scene) []model.Action {
	if sc == model.SceneHeroUpgrade {
		if el, ok := element.PrimaryButton(frame); ok && !element.HasRedTextNear(frame, el.Bbox) {
			return []model.Action{model.TapDelayed(el.CenterX, el.CenterY, 1.0, "hero_upgrade:confirm")}
		}
	}
	if tmpl, ok := l.templates.GetWithPrefixes("buttons/back_arrow", nil); ok {
		if m, ok := matchOne(frame, tmpl, l.cfg.Template.MatchThreshold); ok {
			return []model.Action{model.TapDelayed(m.CenterX, m.CenterY, 1.0, "hero:back")}
		}
	}
	return []model.Action{model.Key("KEYCODE_BACK", "hero:key_back")}
}

func (l *Loop) skipStory(frame *image.RGBA) []model.Action {
	if l.tracker.OCR != nil {
		if results, err := l.tracker.OCR.Detect(frame, nil); err == nil {
			for _, r := range results {
				if containsFold(r.Text, "跳过") || containsFold(r.Text, "skip") {
					return []model.Action{model.TapDelayed(r.CenterX, r.CenterY, 1.0, "story:skip")}
				}
			}
		}
	}
	if tmpl, ok := l.templates.GetWithPrefixes("icons/continue_triangle", nil); ok {
		if m, ok := matchOne(frame, tmpl, l.cfg.Template.MatchThreshold); ok {
			return []model.Action{model.TapDelayed(m.CenterX, m.CenterY, 1.0, "story:continue")}
		}
	}
	b := frame.Bounds()
	return []model.Action{model.TapDelayed(b.Dx()/2, b.Dy()/2, 1.0, "story:center")}
}

// handleUnknown runs the escape cascade for unclassifiable frames.
func (l *Loop) handleUnknown(frame *image.RGBA) []model.Action {
	l.consecutiveUnknown++

	if tmpl, ok := l.templates.GetWithPrefixes("buttons/back_arrow", nil); ok {
		if m, ok := matchOne(frame, tmpl, l.cfg.Template.MatchThreshold); ok {
			return []model.Action{model.TapDelayed(m.CenterX, m.CenterY, 1.0, "unknown:back")}
		}
	}
	if el, ok := element.PrimaryButton(frame); ok {
		return []model.Action{model.TapDelayed(el.CenterX, el.CenterY, 1.0, "unknown:primary_button")}
	}
	if acts, ok := l.wf.PopupFilter(frame); ok {
		return acts
	}
	if l.consecutiveUnknown >= 3 {
		l.consecutiveUnknown = 0
		return []model.Action{model.TapDelayed(500, 100, 1.0, "unknown:escape_blank")}
	}
	return []model.Action{model.TapDelayed(500, 600, 1.0, "unknown:blank")}
}

// pushScene appends to the bounded scene history, capped at twice the
// stuck window, and resets the recovery ladder on a scene change.
func (l *Loop) pushScene(sc model.Scene) {
	if n := len(l.sceneHistory); n > 0 && l.sceneHistory[n-1] != sc {
		l.recoverer.Reset()
	}
	l.sceneHistory = append(l.sceneHistory, sc)
	cap2 := 2 * maxInt(l.cfg.Recovery.StuckMaxSameScene, 1)
	if len(l.sceneHistory) > cap2 {
		l.sceneHistory = l.sceneHistory[len(l.sceneHistory)-cap2:]
	}
}

// isStuck reports whether the last StuckMaxSameScene history entries are
// identical.
func (l *Loop) isStuck() bool {
	n := l.cfg.Recovery.StuckMaxSameScene
	if n < 1 || len(l.sceneHistory) < n {
		return false
	}
	tail := l.sceneHistory[len(l.sceneHistory)-n:]
	for _, sc := range tail[1:] {
		if sc != tail[0] {
			return false
		}
	}
	return true
}

// maybeReload runs the optional cron-gated template and profile reloads.
func (l *Loop) maybeReload() {
	if expr := l.cfg.Template.ReloadCron; expr != "" {
		if due, err := l.cron.IsDue(expr, time.Now()); err == nil && due {
			logger.InfoC("autoloop", "template reload window due")
			l.templates.Reload()
		}
	}
	if expr := l.cfg.Profile.HotReloadCron; expr != "" {
		if due, err := l.cron.IsDue(expr, time.Now()); err == nil && due {
			if p, err := profile.Load(l.cfg.Profile.ProfilePath); err == nil {
				*l.prof = *p
				logger.InfoC("autoloop", "game profile hot-reloaded")
			}
		}
	}
}

func (l *Loop) persist() {
	l.state.LastUpdate = time.Now()
	l.state.LoopCount = l.iteration
	if err := gamestate.SaveSnapshot(l.statePath, l.state); err != nil {
		logger.WarnCF("autoloop", "snapshot save failed", map[string]interface{}{"error": err.Error()})
	}
}

func matchOne(frame *image.RGBA, tmpl model.Template, threshold float64) (model.MatchResult, bool) {
	return matcher.MatchOne(frame, nil, tmpl, threshold)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
