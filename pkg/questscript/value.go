// Package questscript interprets the declarative quest-script
// mini-language: a tagged-sum-type verb dispatcher driven one step per
// frame, plus a restricted expression evaluator for script variables.
package questscript

import (
	"fmt"
	"strconv"
)

// Value is a dynamically-typed scalar produced by expression evaluation:
// either an int64 or a string, mirroring the restricted eval's two
// acceptable result types.
type Value struct {
	IsString bool
	Int      int64
	Str      string
}

func IntValue(v int64) Value    { return Value{Int: v} }
func StringValue(v string) Value { return Value{IsString: true, Str: v} }

func (v Value) String() string {
	if v.IsString {
		return v.Str
	}
	return strconv.FormatInt(v.Int, 10)
}

// AsInt coerces v to an int64, parsing a numeric string if needed.
func (v Value) AsInt() (int64, error) {
	if !v.IsString {
		return v.Int, nil
	}
	n, err := strconv.ParseInt(v.Str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot coerce %q to int: %w", v.Str, err)
	}
	return n, nil
}

// Vars is the variable bag threaded through expression evaluation and
// {placeholder} substitution: quest-script step results, workflow context,
// and gamestate-derived values.
type Vars map[string]Value
