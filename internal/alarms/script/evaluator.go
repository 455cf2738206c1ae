// Package script evaluates condition scripts for script rules. A script is a
// single Go-syntax boolean expression over the identifier value, for example
//
//	value > 80 && value < 120
//	value == "FAULT" || value == "TRIP"
//	!value
package script

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
	"sync"

	alarms "alarm-engine/internal/alarms/domain"
)

const valueIdent = "value"

// Evaluator implements alarms.ScriptEvaluator. Parsed scripts are cached.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]ast.Expr
}

// NewEvaluator constructs an evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]ast.Expr)}
}

var _ alarms.ScriptEvaluator = (*Evaluator)(nil)

// EvaluateScript runs script against value.
func (e *Evaluator) EvaluateScript(ctx context.Context, script string, value alarms.Value) (alarms.ScriptResult, error) {
	if err := ctx.Err(); err != nil {
		return alarms.ScriptResult{}, err
	}
	expr, err := e.parse(script)
	if err != nil {
		return alarms.ScriptResult{}, err
	}
	out, err := eval(expr, value)
	if err != nil {
		return alarms.ScriptResult{}, alarms.Validationf("script %q: %v", script, err)
	}
	trigger, ok := out.(bool)
	if !ok {
		return alarms.ScriptResult{}, alarms.Validationf("script %q: result is %T, want bool", script, out)
	}
	result := alarms.ScriptResult{Trigger: trigger}
	if trigger {
		result.Reason = fmt.Sprintf("%s (value: %s)", strings.TrimSpace(script), value.String())
	}
	return result, nil
}

// ValidateScript parses script and rejects identifiers, calls and
// operators the evaluator does not support.
func (e *Evaluator) ValidateScript(script string) error {
	expr, err := e.parse(script)
	if err != nil {
		return err
	}
	if err := check(expr); err != nil {
		return alarms.Validationf("script %q: %v", strings.TrimSpace(script), err)
	}
	return nil
}

func (e *Evaluator) parse(script string) (ast.Expr, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil, alarms.Validationf("script is empty")
	}
	e.mu.RLock()
	expr, ok := e.cache[script]
	e.mu.RUnlock()
	if ok {
		return expr, nil
	}
	expr, err := parser.ParseExpr(script)
	if err != nil {
		return nil, alarms.Validationf("script %q: %v", script, err)
	}
	e.mu.Lock()
	e.cache[script] = expr
	e.mu.Unlock()
	return expr, nil
}

func check(node ast.Expr) error {
	switch n := node.(type) {
	case *ast.ParenExpr:
		return check(n.X)
	case *ast.Ident:
		switch n.Name {
		case valueIdent, "true", "false":
			return nil
		}
		return fmt.Errorf("unknown identifier %s", n.Name)
	case *ast.BasicLit:
		_, err := literal(n)
		return err
	case *ast.UnaryExpr:
		if n.Op != token.NOT && n.Op != token.SUB {
			return fmt.Errorf("unsupported operator %s", n.Op)
		}
		return check(n.X)
	case *ast.BinaryExpr:
		if !supportedBinary[n.Op] {
			return fmt.Errorf("unsupported operator %s", n.Op)
		}
		if err := check(n.X); err != nil {
			return err
		}
		return check(n.Y)
	}
	return fmt.Errorf("unsupported expression %T", node)
}

var supportedBinary = map[token.Token]bool{
	token.LAND: true, token.LOR: true,
	token.ADD: true, token.SUB: true, token.MUL: true, token.QUO: true,
	token.GTR: true, token.GEQ: true, token.LSS: true, token.LEQ: true,
	token.EQL: true, token.NEQ: true,
}

func eval(node ast.Expr, value alarms.Value) (any, error) {
	switch n := node.(type) {
	case *ast.ParenExpr:
		return eval(n.X, value)
	case *ast.Ident:
		switch n.Name {
		case valueIdent:
			return operand(value), nil
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("unknown identifier %s", n.Name)
	case *ast.BasicLit:
		return literal(n)
	case *ast.UnaryExpr:
		x, err := eval(n.X, value)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.NOT:
			b, ok := x.(bool)
			if !ok {
				return nil, fmt.Errorf("! needs bool, got %T", x)
			}
			return !b, nil
		case token.SUB:
			f, ok := x.(float64)
			if !ok {
				return nil, fmt.Errorf("- needs number, got %T", x)
			}
			return -f, nil
		}
		return nil, fmt.Errorf("unsupported operator %s", n.Op)
	case *ast.BinaryExpr:
		return binary(n, value)
	}
	return nil, fmt.Errorf("unsupported expression %T", node)
}

func binary(n *ast.BinaryExpr, value alarms.Value) (any, error) {
	x, err := eval(n.X, value)
	if err != nil {
		return nil, err
	}
	// Short-circuit logical operators.
	if n.Op == token.LAND || n.Op == token.LOR {
		left, ok := x.(bool)
		if !ok {
			return nil, fmt.Errorf("%s needs bool, got %T", n.Op, x)
		}
		if (n.Op == token.LAND && !left) || (n.Op == token.LOR && left) {
			return left, nil
		}
		y, err := eval(n.Y, value)
		if err != nil {
			return nil, err
		}
		right, ok := y.(bool)
		if !ok {
			return nil, fmt.Errorf("%s needs bool, got %T", n.Op, y)
		}
		return right, nil
	}
	y, err := eval(n.Y, value)
	if err != nil {
		return nil, err
	}
	switch l := x.(type) {
	case float64:
		r, ok := y.(float64)
		if !ok {
			return nil, fmt.Errorf("cannot compare number with %T", y)
		}
		return numeric(n.Op, l, r)
	case string:
		r, ok := y.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare string with %T", y)
		}
		switch n.Op {
		case token.EQL:
			return l == r, nil
		case token.NEQ:
			return l != r, nil
		}
	case bool:
		r, ok := y.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot compare bool with %T", y)
		}
		switch n.Op {
		case token.EQL:
			return l == r, nil
		case token.NEQ:
			return l != r, nil
		}
	}
	return nil, fmt.Errorf("unsupported operator %s for %T", n.Op, x)
}

func numeric(op token.Token, l, r float64) (any, error) {
	switch op {
	case token.ADD:
		return l + r, nil
	case token.SUB:
		return l - r, nil
	case token.MUL:
		return l * r, nil
	case token.QUO:
		if r == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case token.GTR:
		return l > r, nil
	case token.GEQ:
		return l >= r, nil
	case token.LSS:
		return l < r, nil
	case token.LEQ:
		return l <= r, nil
	case token.EQL:
		return l == r, nil
	case token.NEQ:
		return l != r, nil
	}
	return nil, fmt.Errorf("unsupported operator %s for numbers", op)
}

func operand(value alarms.Value) any {
	switch value.Kind {
	case alarms.KindBool:
		return value.Bool
	case alarms.KindDiscrete:
		return value.State
	default:
		return value.Number
	}
}

func literal(lit *ast.BasicLit) (any, error) {
	switch lit.Kind {
	case token.INT, token.FLOAT:
		return strconv.ParseFloat(lit.Value, 64)
	case token.STRING, token.CHAR:
		return strconv.Unquote(lit.Value)
	}
	return nil, fmt.Errorf("unsupported literal %s", lit.Value)
}
