// Package workflow drives one quest from scene-reading through completion
// verification: an 8-phase state machine orchestrating the quest-bar
// detector, finger detector, close-x verifier and quest-script runner,
// with an optional LLM advisor as the final escalation rung.
package workflow

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/questbot/engine/pkg/advisor"
	"github.com/questbot/engine/pkg/finger"
	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/profile"
	"github.com/questbot/engine/pkg/questscript"
)

// Phase is one of the workflow's states.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseEnsureMainCity  Phase = "ensure_main_city"
	PhaseReadQuest       Phase = "read_quest"
	PhaseClickQuest      Phase = "click_quest"
	PhaseExecuteQuest    Phase = "execute_quest"
	PhaseReturnToCity    Phase = "return_to_city"
	PhaseCheckCompletion Phase = "check_completion"
	PhaseClaimReward     Phase = "claim_reward"
	PhaseVerify          Phase = "verify"
)

// QuestBarReader, FingerFinder and CloseXFinder are the detector surfaces
// the workflow consumes; the concrete questbar/finger/closex packages
// satisfy them, and tests stub them.
type QuestBarReader interface {
	Detect(frame *image.RGBA) model.QuestBarInfo
}

type FingerFinder interface {
	Detect(frame *image.RGBA) (finger.Result, bool)
}

type CloseXFinder interface {
	Verify(frame *image.RGBA) (model.MatchResult, bool)
}

// Config carries the workflow tuning knobs.
type Config struct {
	MaxExecuteIterations int
	MaxCheckRetries      int
	MaxVerifyRetries     int
	MaxEnsureRetries     int
	ActionButtonExhaust  int
	Cooldown             time.Duration
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MaxExecuteIterations: 40,
		MaxCheckRetries:      3,
		MaxVerifyRetries:     3,
		MaxEnsureRetries:     10,
		ActionButtonExhaust:  2,
		Cooldown:             180 * time.Second,
	}
}

// Workflow is the quest state machine. Exactly one is active at a time;
// only the auto-loop calls Step.
type Workflow struct {
	cfg       Config
	perceptor questscript.Perceptor
	questBar  QuestBarReader
	finger    FingerFinder
	closeX    CloseXFinder
	runner    *questscript.Runner
	profile   *profile.Profile
	advisor   advisor.Advisor
	state     *model.GameState

	phase       Phase
	targetQuest string
	attemptID   string

	executeIters  int
	ensureFails   int
	checkRetries  int
	verifyRetries int

	popupBackCount int
	lastExecScene  model.Scene
	sceneSeen      bool
	exhausted      map[string]bool
	buttonTaps     map[string]int

	scriptActive    bool
	verifyQuestName string

	lastAbortName string
	lastAbortAt   time.Time

	// dismissedThisTick marks that the popup ladder consumed a text this
	// iteration, so the same text is not re-offered as an action button
	// during the same tick.
	dismissedThisTick bool

	now func() time.Time
}

// New wires a workflow over the detector bundle. advisor may be nil.
func New(cfg Config, perceptor questscript.Perceptor, questBar QuestBarReader, fingerDet FingerFinder, closeX CloseXFinder, prof *profile.Profile, adv advisor.Advisor, state *model.GameState) *Workflow {
	if prof == nil {
		prof = profile.Default()
	}
	return &Workflow{
		cfg:        cfg,
		perceptor:  perceptor,
		questBar:   questBar,
		finger:     fingerDet,
		closeX:     closeX,
		runner:     questscript.NewRunner(perceptor),
		profile:    prof,
		advisor:    adv,
		state:      state,
		phase:      PhaseIdle,
		exhausted:  map[string]bool{},
		buttonTaps: map[string]int{},
		now:        time.Now,
	}
}

// Phase returns the current phase.
func (w *Workflow) Phase() Phase { return w.phase }

// TargetQuest returns the quest name the workflow is driving.
func (w *Workflow) TargetQuest() string { return w.targetQuest }

// Active reports whether a quest is in flight.
func (w *Workflow) Active() bool { return w.phase != PhaseIdle }

// InEarlyPhase reports whether the workflow is still before quest
// execution, the window in which a tutorial finger fast-forwards it.
func (w *Workflow) InEarlyPhase() bool {
	switch w.phase {
	case PhaseIdle, PhaseEnsureMainCity, PhaseReadQuest, PhaseClickQuest:
		return true
	}
	return false
}

// FastForwardToExecute jumps an early-phase workflow straight to
// ExecuteQuest, used when a tutorial finger on the quest bar indicates the
// guided flow has already begun.
func (w *Workflow) FastForwardToExecute() {
	if !w.InEarlyPhase() {
		return
	}
	if w.phase == PhaseIdle {
		w.begin()
	}
	w.enterExecute()
	logger.InfoCF("workflow", "fast-forwarded to execute", map[string]interface{}{"attempt_id": w.attemptID})
}

// Start begins a new quest run from EnsureMainCity.
func (w *Workflow) Start() {
	w.begin()
	logger.InfoCF("workflow", "started", map[string]interface{}{"attempt_id": w.attemptID})
}

func (w *Workflow) begin() {
	w.phase = PhaseEnsureMainCity
	w.targetQuest = ""
	w.attemptID = uuid.NewString()
	w.executeIters = 0
	w.ensureFails = 0
	w.checkRetries = 0
	w.verifyRetries = 0
	w.popupBackCount = 0
	w.sceneSeen = false
	w.exhausted = map[string]bool{}
	w.buttonTaps = map[string]int{}
	w.scriptActive = false
	w.verifyQuestName = ""
	w.mirror()
}

// Abort ends the run and records the (quest, time) cooldown pair.
func (w *Workflow) Abort(reason string) {
	if w.targetQuest != "" {
		w.lastAbortName = w.targetQuest
		w.lastAbortAt = w.now()
	}
	logger.WarnCF("workflow", "aborted", map[string]interface{}{
		"attempt_id": w.attemptID, "quest": w.targetQuest, "reason": reason,
	})
	w.phase = PhaseIdle
	w.scriptActive = false
	w.mirror()
}

// ShouldStart reports whether a quest may start now: false only for the
// quest aborted within the cooldown window and still lacking a green
// check.
func (w *Workflow) ShouldStart(questName string, hasGreenCheck bool) bool {
	if hasGreenCheck {
		return true
	}
	if questName != w.lastAbortName {
		return true
	}
	return w.now().Sub(w.lastAbortAt) >= w.cfg.Cooldown
}

// Step advances the state machine one tick against the classified frame,
// returning the actions to execute (nil = nothing this tick).
func (w *Workflow) Step(frame *image.RGBA, sc model.Scene) []model.Action {
	w.dismissedThisTick = false

	var actions []model.Action
	switch w.phase {
	case PhaseIdle:
		actions = nil
	case PhaseEnsureMainCity:
		actions = w.stepEnsureMainCity(frame, sc)
	case PhaseReadQuest:
		actions = w.stepReadQuest(frame)
	case PhaseClickQuest:
		actions = w.stepClickQuest(frame)
	case PhaseExecuteQuest:
		actions = w.stepExecuteQuest(frame, sc)
	case PhaseReturnToCity:
		actions = w.stepReturnToCity(frame, sc)
	case PhaseCheckCompletion:
		actions = w.stepCheckCompletion(frame)
	case PhaseClaimReward:
		actions = w.stepClaimReward(frame)
	case PhaseVerify:
		actions = w.stepVerify(frame)
	}
	w.mirror()
	return actions
}

// mirror copies phase/target into GameState for persistence.
func (w *Workflow) mirror() {
	if w.state == nil {
		return
	}
	w.state.WorkflowPhase = string(w.phase)
	w.state.WorkflowTarget = w.targetQuest
}

// stepEnsureMainCity follows the script verbs' ensure contract, except
// that a popup scene jumps directly to ExecuteQuest: the finger may have
// opened it.
func (w *Workflow) stepEnsureMainCity(frame *image.RGBA, sc model.Scene) []model.Action {
	if sc == model.ScenePopup {
		w.enterExecute()
		return nil
	}

	current, _ := w.perceptor.CornerScene(frame)
	if current == model.SceneMainCity {
		w.phase = PhaseReadQuest
		w.ensureFails = 0
		return nil
	}

	w.ensureFails++
	if w.ensureFails > w.cfg.MaxEnsureRetries {
		w.Abort("ensure_main_city exhausted")
		return nil
	}
	if w.ensureFails > 5 {
		return []model.Action{model.Tap(500, 600, "ensure_main_city:blank_tap")}
	}

	if current == model.SceneWorldMap {
		if m, ok := w.perceptor.Match(frame, "nav_bar/territory", 1); ok {
			return []model.Action{model.Tap(m.CenterX, m.CenterY, "ensure_main_city:nav")}
		}
	}
	if m, ok := w.perceptor.Match(frame, "buttons/back_arrow", 1); ok {
		return []model.Action{model.Tap(m.CenterX, m.CenterY, "ensure_main_city:back")}
	}
	if m, ok := w.perceptor.Match(frame, "buttons/close_x", 1); ok {
		return []model.Action{model.Tap(m.CenterX, m.CenterY, "ensure_main_city:close")}
	}
	return []model.Action{model.Tap(500, 600, "ensure_main_city:blank_tap")}
}

func (w *Workflow) stepReadQuest(frame *image.RGBA) []model.Action {
	bar := w.questBar.Detect(frame)
	if !bar.Visible {
		w.Abort("quest bar not visible")
		return nil
	}
	if bar.HasGreenCheck {
		w.phase = PhaseClaimReward
		return nil
	}
	w.targetQuest = bar.CurrentQuestText
	if bar.HasRedBadge {
		// Noted but does not alter routing.
		logger.DebugCF("workflow", "quest bar has red badge", map[string]interface{}{"quest": w.targetQuest})
	}
	w.phase = PhaseClickQuest
	return nil
}

func (w *Workflow) stepClickQuest(frame *image.RGBA) []model.Action {
	bar := w.questBar.Detect(frame)
	if !bar.Visible {
		w.Abort("quest bar vanished before click")
		return nil
	}
	cx, cy := bar.CurrentQuestBbox.Center()
	w.enterExecute()
	return []model.Action{model.TapDelayed(cx, cy, 1.0, "click_quest:"+w.targetQuest)}
}

func (w *Workflow) enterExecute() {
	w.phase = PhaseExecuteQuest
	w.executeIters = 0
	w.popupBackCount = 0
	w.sceneSeen = false
	w.exhausted = map[string]bool{}
	w.buttonTaps = map[string]int{}
}

// stepReturnToCity runs the same popup ladder until the corner detector
// sees the main city again.
func (w *Workflow) stepReturnToCity(frame *image.RGBA, sc model.Scene) []model.Action {
	if sc == model.SceneMainCity {
		w.phase = PhaseCheckCompletion
		return nil
	}
	if current, _ := w.perceptor.CornerScene(frame); current == model.SceneMainCity {
		w.phase = PhaseCheckCompletion
		return nil
	}
	if acts, ok := w.PopupFilter(frame); ok {
		return acts
	}
	if m, ok := w.perceptor.Match(frame, "buttons/back_arrow", 1); ok {
		return []model.Action{model.TapDelayed(m.CenterX, m.CenterY, 1.0, "return_to_city:back")}
	}
	b := frame.Bounds()
	return []model.Action{model.TapDelayed(b.Dx()/2, b.Dy()/2, 1.0, "return_to_city:center")}
}

// stepCheckCompletion transitions to ClaimReward iff the bar is visible
// with a green check; otherwise retries ClickQuest up to the limit.
func (w *Workflow) stepCheckCompletion(frame *image.RGBA) []model.Action {
	bar := w.questBar.Detect(frame)
	if bar.Visible && bar.HasGreenCheck {
		w.phase = PhaseClaimReward
		return nil
	}
	w.checkRetries++
	if w.checkRetries > w.cfg.MaxCheckRetries {
		w.Abort("completion check exhausted")
		return nil
	}
	w.phase = PhaseClickQuest
	return nil
}

func (w *Workflow) stepClaimReward(frame *image.RGBA) []model.Action {
	bar := w.questBar.Detect(frame)
	if !bar.Visible {
		w.Abort("quest bar vanished before claim")
		return nil
	}
	w.verifyQuestName = bar.CurrentQuestText
	if w.verifyQuestName == "" {
		w.verifyQuestName = w.targetQuest
	}
	cx, cy := bar.CurrentQuestBbox.Center()
	w.phase = PhaseVerify
	return []model.Action{model.TapDelayed(cx, cy, 1.0, "claim_reward")}
}

// stepVerify confirms the quest advanced: a changed quest name is success;
// an invisible bar triggers a reward-dismiss scan; an unchanged name waits
// up to MaxVerifyRetries, then gives up to Idle.
func (w *Workflow) stepVerify(frame *image.RGBA) []model.Action {
	bar := w.questBar.Detect(frame)

	if !bar.Visible {
		results := w.perceptor.OCRDetect(frame, nil)
		for _, text := range w.profile.ClaimTexts {
			for _, r := range results {
				if containsFold(r.Text, text) {
					return []model.Action{model.TapDelayed(r.CenterX, r.CenterY, 1.0, "verify:dismiss_reward:"+text)}
				}
			}
		}
		// No dismiss target: assume the quest completed.
		w.finish("bar gone, assumed complete")
		return nil
	}

	if bar.CurrentQuestText != w.verifyQuestName {
		w.finish("quest advanced")
		return nil
	}

	w.verifyRetries++
	if w.verifyRetries > w.cfg.MaxVerifyRetries {
		logger.WarnCF("workflow", "verify exhausted, giving up", map[string]interface{}{"quest": w.verifyQuestName})
		w.phase = PhaseIdle
	}
	return nil
}

func (w *Workflow) finish(reason string) {
	logger.InfoCF("workflow", "quest complete", map[string]interface{}{
		"attempt_id": w.attemptID, "quest": w.targetQuest, "reason": reason,
	})
	w.phase = PhaseIdle
}

// consultAdvisor asks the configured LLM advisor for recovery actions,
// stamping the consult time on GameState. Returns nil when no advisor is
// configured or the consult failed.
func (w *Workflow) consultAdvisor(frame *image.RGBA, situation string) []model.Action {
	if w.advisor == nil {
		return nil
	}
	advice, err := w.advisor.Consult(context.Background(), frame, situation)
	if err != nil {
		logger.WarnCF("workflow", "advisor consult failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if w.state != nil {
		w.state.LastLLMConsult = w.now()
	}
	return advice.Actions
}
