package alarms

import (
	"context"
	"fmt"
	"strings"
)

// PriorState is what the evaluator needs to know about the open occurrence
// and the previous sample. LastValue is nil before the first sample.
type PriorState struct {
	Active    bool
	Level     Level
	LastValue *Value
}

// Decision is the outcome of evaluating a value against a rule.
type Decision struct {
	Trigger   bool     `json:"trigger"`
	Level     Level    `json:"level"`
	Threshold *float64 `json:"threshold,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// ScriptResult is returned by a ScriptEvaluator.
type ScriptResult struct {
	Trigger bool
	Reason  string
}

// ScriptEvaluator runs condition scripts for script rules. ValidateScript
// rejects a script that can never evaluate, before the rule is stored.
type ScriptEvaluator interface {
	ValidateScript(script string) error
	EvaluateScript(ctx context.Context, script string, value Value) (ScriptResult, error)
}

// Evaluator decides whether a value triggers a rule.
type Evaluator struct {
	Script ScriptEvaluator
}

// Evaluate is Evaluator.Evaluate without script support.
func Evaluate(value Value, rule AlarmRule, prior PriorState) (Decision, error) {
	return Evaluator{}.Evaluate(context.Background(), value, rule, prior)
}

// Evaluate applies the rule to value. It has no side effects.
func (e Evaluator) Evaluate(ctx context.Context, value Value, rule AlarmRule, prior PriorState) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if err := value.validate(); err != nil {
		return Decision{}, err
	}
	switch rule.ConditionType {
	case ConditionThreshold:
		v, ok := value.Float()
		if !ok {
			return Decision{}, fmt.Errorf("%w: threshold rule needs a number, got %s", ErrValueKind, value.Kind)
		}
		return evaluateAnalog(v, rule, prior), nil
	case ConditionDigital:
		return evaluateDigital(value, rule, prior)
	case ConditionScript:
		if e.Script == nil {
			return Decision{}, fmt.Errorf("%w: no script evaluator configured", ErrDependency)
		}
		res, err := e.Script.EvaluateScript(ctx, rule.ConditionScript, value)
		if err != nil {
			return Decision{}, err
		}
		if !res.Trigger {
			return Decision{Level: LevelNormal, Reason: res.Reason}, nil
		}
		return Decision{Trigger: true, Level: LevelTriggered, Reason: res.Reason}, nil
	default:
		return Decision{}, fmt.Errorf("%w: condition_type %q", ErrInvalidRule, rule.ConditionType)
	}
}

var (
	highLevels = []Level{LevelHighHigh, LevelHigh}
	lowLevels  = []Level{LevelLowLow, LevelLow}
)

func classify(v float64, rule AlarmRule) (Level, *float64) {
	for _, level := range highLevels {
		if limit := rule.LimitFor(level); limit != nil && v >= *limit {
			return level, limit
		}
	}
	for _, level := range lowLevels {
		if limit := rule.LimitFor(level); limit != nil && v <= *limit {
			return level, limit
		}
	}
	return LevelNormal, nil
}

func evaluateAnalog(v float64, rule AlarmRule, prior PriorState) Decision {
	raw, limit := classify(v, rule)
	if !prior.Active || !prior.Level.Analog() {
		return analogDecision(raw, limit, v, "")
	}
	if raw != LevelNormal && (raw.side() != prior.Level.side() || raw.depth() >= prior.Level.depth()) {
		return analogDecision(raw, limit, v, "")
	}

	levels := highLevels
	if prior.Level.side() < 0 {
		levels = lowLevels
	}
	for _, level := range levels {
		if level.depth() > prior.Level.depth() {
			continue
		}
		held := rule.LimitFor(level)
		if held == nil || !holds(level, v, *held, rule.Deadband) {
			continue
		}
		reason := ""
		if level != raw {
			reason = fmt.Sprintf("%s held within deadband %s", level.Condition(), Number(rule.Deadband).String())
		}
		return analogDecision(level, held, v, reason)
	}
	return analogDecision(raw, limit, v, "")
}

func holds(level Level, v, limit, deadband float64) bool {
	if level.side() > 0 {
		return v >= limit-deadband
	}
	return v <= limit+deadband
}

func analogDecision(level Level, limit *float64, v float64, reason string) Decision {
	if level == LevelNormal {
		return Decision{Level: LevelNormal, Reason: "value within limits"}
	}
	if reason == "" {
		op := ">="
		if level.side() < 0 {
			op = "<="
		}
		reason = fmt.Sprintf("%s %s %s", Number(v).String(), op, Number(*limit).String())
	}
	return Decision{Trigger: true, Level: level, Threshold: cloneFloat(limit), Reason: reason}
}

func evaluateDigital(value Value, rule AlarmRule, prior PriorState) (Decision, error) {
	cond := strings.TrimSpace(rule.TriggerCondition)
	mode, isMode := ParseDigitalTrigger(cond)
	var match bool
	switch value.Kind {
	case KindBool:
		if !isMode {
			return Decision{}, fmt.Errorf("%w: trigger_condition %q is a state label, got a bool value", ErrValueKind, cond)
		}
		last := false
		if prior.LastValue != nil && prior.LastValue.Kind == KindBool {
			last = prior.LastValue.Bool
		}
		match = mode.matches(value.Bool, last)
	case KindDiscrete:
		switch {
		case mode == TriggerOnChange:
			match = prior.LastValue != nil && prior.LastValue.Kind == KindDiscrete && prior.LastValue.State != value.State
		case isEdgeName(cond):
			return Decision{}, fmt.Errorf("%w: trigger_condition %q needs a bool value", ErrValueKind, cond)
		default:
			match = value.State == cond
		}
	default:
		return Decision{}, fmt.Errorf("%w: digital rule needs bool or discrete, got %s", ErrValueKind, value.Kind)
	}
	if !match {
		return Decision{Level: LevelNormal, Reason: "condition not met"}, nil
	}
	return Decision{Trigger: true, Level: LevelTriggered, Reason: "matched " + cond}, nil
}
