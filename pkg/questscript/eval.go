package questscript

import (
	"fmt"
	"strings"
)

// SafeEval parses and evaluates a restricted arithmetic expression against
// vars, enforcing the whitelist: only + - * // % operators, unary
// minus, int/str/len/abs calls, bare name lookups, and literals.
//
// {var} placeholders are substituted with their string form before parsing
// (matching the Python original's templating step); any identifier that
// survives into the parsed tree is resolved directly from vars as a
// fallback.
func SafeEval(expr string, vars Vars) (Value, error) {
	substituted := substitutePlaceholders(expr, vars)
	tree, err := parseExpr(substituted)
	if err != nil {
		return Value{}, fmt.Errorf("quest script eval %q: %w", expr, err)
	}
	return evalNode(tree, vars)
}

func substitutePlaceholders(expr string, vars Vars) string {
	var sb strings.Builder
	runes := []rune(expr)
	i := 0
	for i < len(runes) {
		if runes[i] == '{' {
			j := i + 1
			for j < len(runes) && runes[j] != '}' {
				j++
			}
			if j < len(runes) {
				key := string(runes[i+1 : j])
				if v, ok := vars[key]; ok {
					sb.WriteString(v.String())
					i = j + 1
					continue
				}
			}
		}
		sb.WriteRune(runes[i])
		i++
	}
	return sb.String()
}

func evalNode(n *node, vars Vars) (Value, error) {
	switch n.kind {
	case nodeIntLit:
		return IntValue(n.intVal), nil
	case nodeStrLit:
		return StringValue(n.strVal), nil
	case nodeName:
		v, ok := vars[n.name]
		if !ok {
			return Value{}, fmt.Errorf("undefined variable %q", n.name)
		}
		return v, nil
	case nodeUnaryMinus:
		v, err := evalNode(n.operand, vars)
		if err != nil {
			return Value{}, err
		}
		i, err := v.AsInt()
		if err != nil {
			return Value{}, err
		}
		return IntValue(-i), nil
	case nodeBinOp:
		left, err := evalNode(n.left, vars)
		if err != nil {
			return Value{}, err
		}
		right, err := evalNode(n.right, vars)
		if err != nil {
			return Value{}, err
		}
		return evalBinOp(n.op, left, right)
	case nodeCall:
		return evalCall(n.callName, n.args, vars)
	default:
		return Value{}, fmt.Errorf("internal: unhandled node kind %d", n.kind)
	}
}

func evalBinOp(op tokenKind, left, right Value) (Value, error) {
	if op == tokPlus && (left.IsString || right.IsString) {
		return StringValue(left.String() + right.String()), nil
	}
	li, err := left.AsInt()
	if err != nil {
		return Value{}, err
	}
	ri, err := right.AsInt()
	if err != nil {
		return Value{}, err
	}
	switch op {
	case tokPlus:
		return IntValue(li + ri), nil
	case tokMinus:
		return IntValue(li - ri), nil
	case tokStar:
		return IntValue(li * ri), nil
	case tokSlashSlash:
		if ri == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		return IntValue(floorDiv(li, ri)), nil
	case tokPercent:
		if ri == 0 {
			return Value{}, fmt.Errorf("modulo by zero")
		}
		return IntValue(floorMod(li, ri)), nil
	default:
		return Value{}, fmt.Errorf("internal: unhandled operator")
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

func evalCall(name string, argNodes []*node, vars Vars) (Value, error) {
	if !safeFuncs[name] {
		return Value{}, fmt.Errorf("function %q is not whitelisted", name)
	}
	args := make([]Value, len(argNodes))
	for i, a := range argNodes {
		v, err := evalNode(a, vars)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	switch name {
	case "int":
		if len(args) != 1 {
			return Value{}, fmt.Errorf("int() takes exactly one argument")
		}
		i, err := args[0].AsInt()
		if err != nil {
			return Value{}, err
		}
		return IntValue(i), nil
	case "str":
		if len(args) != 1 {
			return Value{}, fmt.Errorf("str() takes exactly one argument")
		}
		return StringValue(args[0].String()), nil
	case "len":
		if len(args) != 1 {
			return Value{}, fmt.Errorf("len() takes exactly one argument")
		}
		return IntValue(int64(len(args[0].String()))), nil
	case "abs":
		if len(args) != 1 {
			return Value{}, fmt.Errorf("abs() takes exactly one argument")
		}
		i, err := args[0].AsInt()
		if err != nil {
			return Value{}, err
		}
		if i < 0 {
			i = -i
		}
		return IntValue(i), nil
	default:
		return Value{}, fmt.Errorf("function %q is not whitelisted", name)
	}
}
