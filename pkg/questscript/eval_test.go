package questscript

import (
	"testing"

	"github.com/questbot/engine/pkg/model"
)

func TestSafeEval_Arithmetic(t *testing.T) {
	v, err := SafeEval("2 + 3 * 4", nil)
	if err != nil {
		t.Fatal(err)
	}
	i, _ := v.AsInt()
	if i != 14 {
		t.Errorf("got %d want 14", i)
	}
}

func TestSafeEval_FloorDivAndMod(t *testing.T) {
	v, err := SafeEval("7 // 2", nil)
	if err != nil {
		t.Fatal(err)
	}
	i, _ := v.AsInt()
	if i != 3 {
		t.Errorf("got %d want 3", i)
	}

	v2, err := SafeEval("-7 // 2", nil)
	if err != nil {
		t.Fatal(err)
	}
	i2, _ := v2.AsInt()
	if i2 != -4 {
		t.Errorf("got %d want -4 (floor division)", i2)
	}
}

func TestSafeEval_VariableSubstitution(t *testing.T) {
	vars := Vars{"count": IntValue(5)}
	v, err := SafeEval("{count} + 1", vars)
	if err != nil {
		t.Fatal(err)
	}
	i, _ := v.AsInt()
	if i != 6 {
		t.Errorf("got %d want 6", i)
	}
}

func TestSafeEval_WhitelistedFunctions(t *testing.T) {
	v, err := SafeEval("abs(-5)", nil)
	if err != nil {
		t.Fatal(err)
	}
	i, _ := v.AsInt()
	if i != 5 {
		t.Errorf("got %d want 5", i)
	}
}

func TestSafeEval_RejectsUnsafeFunction(t *testing.T) {
	_, err := SafeEval("eval('1')", nil)
	if err == nil {
		t.Error("expected rejection of non-whitelisted function call")
	}
}

func TestSafeEval_RejectsTrueDivision(t *testing.T) {
	_, err := SafeEval("7 / 2", nil)
	if err == nil {
		t.Error("expected rejection of true division operator")
	}
}

func TestRunner_RunsScriptToCompletion(t *testing.T) {
	p := &fakePerceptor{texts: []model.OCRResult{ocrAt("42", 540, 800)}}
	script := &Script{
		Name: "test",
		Steps: []Step{
			{Verb: VerbTapXY, TapXY: &TapXYArgs{X: 10, Y: 20}, Repeat: 1},
			{Verb: VerbReadText, ReadText: &ReadTextArgs{X: 540, Y: 800, Var: "amount", W: 200, H: 60}, Repeat: 1},
			{Verb: VerbEval, Eval: &EvalArgs{Var: "next", Expr: "int({amount}) + 1"}, Repeat: 1},
		},
	}
	r := NewRunner(p)
	r.Load(script)
	taps := 0
	for i := 0; i < len(script.Steps) && !r.IsDone(); i++ {
		res := r.ExecuteOne(testFrame())
		if res.Status == StatusAborted {
			t.Fatal(r.AbortReason())
		}
		for _, a := range res.Actions {
			if a.Kind == model.ActionTap {
				taps++
			}
		}
	}
	if !r.IsDone() || r.IsAborted() {
		t.Error("expected script to complete without aborting")
	}
	if taps != 1 {
		t.Errorf("expected 1 tap, got %d", taps)
	}
}

// A required ensure_main_city step that never reaches the main city aborts
// once its retries are spent.
func TestRunner_AbortsOnRequiredStepFailure(t *testing.T) {
	p := &fakePerceptor{corner: model.SceneWorldMap, matches: map[string]model.MatchResult{}}
	script := &Script{
		Steps: []Step{
			{Verb: VerbEnsureMainCity, Ensure: &EnsureArgs{MaxRetries: 1}, Repeat: 1},
		},
	}
	r := NewRunner(p)
	r.Load(script)
	for i := 0; i < 3 && !r.IsDone(); i++ {
		r.ExecuteOne(testFrame())
	}
	if !r.IsAborted() {
		t.Error("expected abort on required step failure")
	}
}
