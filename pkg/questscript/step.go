package questscript

import (
	"encoding/json"
	"fmt"

	"github.com/questbot/engine/pkg/model"
)

// Verb identifies one quest-script step's action, restricted to the
// whitelisted verb set.
type Verb string

const (
	VerbTapXY          Verb = "tap_xy"
	VerbTapText        Verb = "tap_text"
	VerbTapIcon        Verb = "tap_icon"
	VerbSwipe          Verb = "swipe"
	VerbWaitText       Verb = "wait_text"
	VerbReadText       Verb = "read_text"
	VerbEval           Verb = "eval"
	VerbEnsureMainCity Verb = "ensure_main_city"
	VerbEnsureWorldMap Verb = "ensure_world_map"
	VerbFindBuilding   Verb = "find_building"
)

// Verb argument variants. Exactly one of these is non-nil per Step,
// selected by Step.Verb; each verb decodes into its own typed variant,
// no runtime reflection.

type TapXYArgs struct {
	X, Y int
}

type TapTextArgs struct {
	Text    string
	Nth     int // 1-based; negative = from end
	OffsetX int
	OffsetY int
}

type TapIconArgs struct {
	Name string
	Nth  int
}

type SwipeArgs struct {
	X1, Y1, X2, Y2 int
	DurationMS     int
}

type WaitTextArgs struct {
	Text string
}

type ReadTextArgs struct {
	X, Y int
	Var  string
	W, H int
}

type EvalArgs struct {
	Var  string
	Expr string
}

type EnsureArgs struct {
	MaxRetries int
}

type FindBuildingArgs struct {
	Name        string
	Scroll      bool
	MaxAttempts int
}

// Step is one quest-script instruction: a verb with its typed arguments,
// plus the shared modifiers applied uniformly regardless of verb.
type Step struct {
	Verb Verb

	TapXY        *TapXYArgs
	TapText      *TapTextArgs
	TapIcon      *TapIconArgs
	Swipe        *SwipeArgs
	WaitText     *WaitTextArgs
	ReadText     *ReadTextArgs
	Eval         *EvalArgs
	Ensure       *EnsureArgs
	FindBuilding *FindBuildingArgs

	// Modifiers.
	Delay       float64 // post-action settle sleep in seconds, default 1.0
	Repeat      int     // successful executions required before advancing, default 1
	Optional    bool
	Description string
	Region      *model.Bbox // tap_text only
}

var verbKeys = map[string]Verb{
	"tap_xy":           VerbTapXY,
	"tap_text":         VerbTapText,
	"tap_icon":         VerbTapIcon,
	"swipe":            VerbSwipe,
	"wait_text":        VerbWaitText,
	"read_text":        VerbReadText,
	"eval":             VerbEval,
	"ensure_main_city": VerbEnsureMainCity,
	"ensure_world_map": VerbEnsureWorldMap,
	"find_building":    VerbFindBuilding,
}

// UnmarshalJSON decodes the persisted step format: an object carrying
// exactly one verb key plus optional modifier keys.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Step{Delay: 1.0, Repeat: 1}

	verbCount := 0
	for key, val := range raw {
		if verb, ok := verbKeys[key]; ok {
			verbCount++
			if verbCount > 1 {
				return fmt.Errorf("step contains more than one verb key (second: %q)", key)
			}
			s.Verb = verb
			if err := s.decodeVerbArgs(verb, val); err != nil {
				return fmt.Errorf("step %s: %w", verb, err)
			}
			continue
		}
		if err := s.decodeModifier(key, val); err != nil {
			return err
		}
	}
	if verbCount == 0 {
		return fmt.Errorf("step contains no verb key")
	}
	return nil
}

func (s *Step) decodeModifier(key string, val json.RawMessage) error {
	switch key {
	case "delay":
		return json.Unmarshal(val, &s.Delay)
	case "repeat":
		if err := json.Unmarshal(val, &s.Repeat); err != nil {
			return err
		}
		if s.Repeat < 1 {
			return fmt.Errorf("repeat must be >= 1, got %d", s.Repeat)
		}
		return nil
	case "optional":
		return json.Unmarshal(val, &s.Optional)
	case "description":
		return json.Unmarshal(val, &s.Description)
	case "region":
		var coords [4]int
		if err := json.Unmarshal(val, &coords); err != nil {
			return err
		}
		s.Region = &model.Bbox{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}
		return nil
	default:
		return fmt.Errorf("unknown step key %q", key)
	}
}

func (s *Step) decodeVerbArgs(verb Verb, val json.RawMessage) error {
	switch verb {
	case VerbTapXY:
		var xy [2]int
		if err := json.Unmarshal(val, &xy); err != nil {
			return err
		}
		s.TapXY = &TapXYArgs{X: xy[0], Y: xy[1]}
		return nil

	case VerbTapText:
		var parts []json.RawMessage
		if err := json.Unmarshal(val, &parts); err != nil {
			// Bare-string shorthand.
			var text string
			if serr := json.Unmarshal(val, &text); serr != nil {
				return err
			}
			s.TapText = &TapTextArgs{Text: text, Nth: 1}
			return nil
		}
		if len(parts) < 1 {
			return fmt.Errorf("needs at least a text argument")
		}
		args := &TapTextArgs{Nth: 1}
		if err := json.Unmarshal(parts[0], &args.Text); err != nil {
			return err
		}
		if len(parts) > 1 {
			if err := json.Unmarshal(parts[1], &args.Nth); err != nil {
				return err
			}
		}
		if len(parts) > 2 {
			if err := json.Unmarshal(parts[2], &args.OffsetX); err != nil {
				return err
			}
		}
		if len(parts) > 3 {
			if err := json.Unmarshal(parts[3], &args.OffsetY); err != nil {
				return err
			}
		}
		s.TapText = args
		return nil

	case VerbTapIcon:
		var parts []json.RawMessage
		if err := json.Unmarshal(val, &parts); err != nil {
			var name string
			if serr := json.Unmarshal(val, &name); serr != nil {
				return err
			}
			s.TapIcon = &TapIconArgs{Name: name, Nth: 1}
			return nil
		}
		if len(parts) < 1 {
			return fmt.Errorf("needs a template name")
		}
		args := &TapIconArgs{Nth: 1}
		if err := json.Unmarshal(parts[0], &args.Name); err != nil {
			return err
		}
		if len(parts) > 1 {
			if err := json.Unmarshal(parts[1], &args.Nth); err != nil {
				return err
			}
		}
		s.TapIcon = args
		return nil

	case VerbSwipe:
		var parts []int
		if err := json.Unmarshal(val, &parts); err != nil {
			return err
		}
		if len(parts) < 4 {
			return fmt.Errorf("needs x1,y1,x2,y2")
		}
		args := &SwipeArgs{X1: parts[0], Y1: parts[1], X2: parts[2], Y2: parts[3], DurationMS: 300}
		if len(parts) > 4 && parts[4] >= 1 {
			args.DurationMS = parts[4]
		}
		s.Swipe = args
		return nil

	case VerbWaitText:
		var text string
		if err := json.Unmarshal(val, &text); err != nil {
			var parts [1]string
			if serr := json.Unmarshal(val, &parts); serr != nil {
				return err
			}
			text = parts[0]
		}
		s.WaitText = &WaitTextArgs{Text: text}
		return nil

	case VerbReadText:
		var parts []json.RawMessage
		if err := json.Unmarshal(val, &parts); err != nil {
			return err
		}
		if len(parts) < 3 {
			return fmt.Errorf("needs x,y,var")
		}
		args := &ReadTextArgs{W: 200, H: 60}
		if err := json.Unmarshal(parts[0], &args.X); err != nil {
			return err
		}
		if err := json.Unmarshal(parts[1], &args.Y); err != nil {
			return err
		}
		if err := json.Unmarshal(parts[2], &args.Var); err != nil {
			return err
		}
		if len(parts) > 3 {
			if err := json.Unmarshal(parts[3], &args.W); err != nil {
				return err
			}
		}
		if len(parts) > 4 {
			if err := json.Unmarshal(parts[4], &args.H); err != nil {
				return err
			}
		}
		s.ReadText = args
		return nil

	case VerbEval:
		var parts [2]string
		if err := json.Unmarshal(val, &parts); err != nil {
			return err
		}
		s.Eval = &EvalArgs{Var: parts[0], Expr: parts[1]}
		return nil

	case VerbEnsureMainCity, VerbEnsureWorldMap:
		args := &EnsureArgs{MaxRetries: 10}
		var parts []int
		if err := json.Unmarshal(val, &parts); err == nil {
			if len(parts) > 0 && parts[0] > 0 {
				args.MaxRetries = parts[0]
			}
		} else {
			var n int
			if serr := json.Unmarshal(val, &n); serr == nil && n > 0 {
				args.MaxRetries = n
			}
		}
		s.Ensure = args
		return nil

	case VerbFindBuilding:
		var parts []json.RawMessage
		if err := json.Unmarshal(val, &parts); err != nil {
			return err
		}
		if len(parts) < 1 {
			return fmt.Errorf("needs a building name")
		}
		args := &FindBuildingArgs{MaxAttempts: 3}
		if err := json.Unmarshal(parts[0], &args.Name); err != nil {
			return err
		}
		if len(parts) > 1 {
			var opts struct {
				Scroll      bool `json:"scroll"`
				MaxAttempts int  `json:"max_attempts"`
			}
			if err := json.Unmarshal(parts[1], &opts); err != nil {
				return err
			}
			args.Scroll = opts.Scroll
			if opts.MaxAttempts > 0 {
				args.MaxAttempts = opts.MaxAttempts
			}
		}
		s.FindBuilding = args
		return nil
	}
	return fmt.Errorf("unhandled verb %q", verb)
}

// Script is an ordered, named list of steps for one quest, matched
// against quest text by Pattern.
type Script struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Steps   []Step `json:"steps"`

	// Variables seeds the runner's variable bag; {name} placeholders in
	// step arguments are substituted from it before parsing.
	Variables map[string]string `json:"variables,omitempty"`
}

// ParseScript decodes one persisted quest-script JSON object.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing quest script: %w", err)
	}
	return &s, nil
}

// ParseScripts decodes a persisted quest-script table (a JSON array).
func ParseScripts(data []byte) ([]*Script, error) {
	var list []*Script
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing quest script table: %w", err)
	}
	return list, nil
}
