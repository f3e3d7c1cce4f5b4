package model

// ActionKind identifies what a device-facing Action does.
type ActionKind string

const (
	ActionTap          ActionKind = "tap"
	ActionSwipe        ActionKind = "swipe"
	ActionKey          ActionKind = "key"
	ActionWait         ActionKind = "wait"
	ActionFindBuilding ActionKind = "find_building"
)

// Action is one validated device operation emitted by the quest workflow,
// the quest-script runner, or the auto-handler, and executed by the Action
// Pipeline. Reason carries a human-readable cause for the action log.
type Action struct {
	Kind ActionKind `json:"kind"`

	X  int `json:"x,omitempty"`
	Y  int `json:"y,omitempty"`
	X2 int `json:"x2,omitempty"`
	Y2 int `json:"y2,omitempty"`

	DurationMS int    `json:"duration_ms,omitempty"`
	KeyCode    string `json:"key_code,omitempty"`

	// TargetText, when set on a tap, lets the pipeline resolve coordinates
	// by OCR at execution time (with GridCell as the fallback) instead of
	// requiring in-bounds X/Y up front.
	TargetText string `json:"target_text,omitempty"`
	GridCell   string `json:"grid_cell,omitempty"`

	// Building names the find_building target; Scroll/MaxAttempts carry its
	// options through to the building finder.
	Building    string `json:"building,omitempty"`
	Scroll      bool   `json:"scroll,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`

	// DelayS is the post-action settle sleep in seconds.
	DelayS float64 `json:"delay_s,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// Tap builds a tap action at (x, y).
func Tap(x, y int, reason string) Action {
	return Action{Kind: ActionTap, X: x, Y: y, Reason: reason}
}

// TapDelayed builds a tap action with a settle delay.
func TapDelayed(x, y int, delayS float64, reason string) Action {
	return Action{Kind: ActionTap, X: x, Y: y, DelayS: delayS, Reason: reason}
}

// Swipe builds a swipe action.
func Swipe(x1, y1, x2, y2, durationMS int, reason string) Action {
	return Action{Kind: ActionSwipe, X: x1, Y: y1, X2: x2, Y2: y2, DurationMS: durationMS, Reason: reason}
}

// Key builds a key-event action.
func Key(code string, reason string) Action {
	return Action{Kind: ActionKey, KeyCode: code, Reason: reason}
}

// Wait builds a pure sleep action.
func Wait(seconds float64, reason string) Action {
	return Action{Kind: ActionWait, DelayS: seconds, Reason: reason}
}
