package alarms

import (
	"strconv"
	"strings"
)

// DigitalTrigger is the level or edge a digital rule reacts to.
type DigitalTrigger string

const (
	TriggerOnTrue    DigitalTrigger = "on_true"
	TriggerOnFalse   DigitalTrigger = "on_false"
	TriggerOnRising  DigitalTrigger = "on_rising"
	TriggerOnFalling DigitalTrigger = "on_falling"
	TriggerOnChange  DigitalTrigger = "on_change"
)

// ParseDigitalTrigger maps a trigger_condition to a trigger mode. Boolean
// literals ("true", "0", ...) are the on_true/on_false levels. Any other
// text is a discrete state label and reports false.
func ParseDigitalTrigger(cond string) (DigitalTrigger, bool) {
	norm := strings.ToLower(strings.TrimSpace(cond))
	switch mode := DigitalTrigger(norm); mode {
	case TriggerOnTrue, TriggerOnFalse, TriggerOnRising, TriggerOnFalling, TriggerOnChange:
		return mode, true
	}
	b, err := strconv.ParseBool(norm)
	if err != nil {
		return "", false
	}
	if b {
		return TriggerOnTrue, true
	}
	return TriggerOnFalse, true
}

// matches applies the mode to the current and previous bool samples.
func (m DigitalTrigger) matches(current, last bool) bool {
	switch m {
	case TriggerOnTrue:
		return current
	case TriggerOnFalse:
		return !current
	case TriggerOnRising:
		return current && !last
	case TriggerOnFalling:
		return !current && last
	case TriggerOnChange:
		return current != last
	}
	return false
}

// Edge reports whether the mode depends on the previous sample.
func (m DigitalTrigger) Edge() bool {
	return m == TriggerOnRising || m == TriggerOnFalling || m == TriggerOnChange
}

func isEdgeName(cond string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(cond)), "on_")
}

func validateTriggerCondition(cond string) error {
	if strings.TrimSpace(cond) == "" {
		return Validationf("digital rule needs trigger_condition")
	}
	if _, ok := ParseDigitalTrigger(cond); !ok && isEdgeName(cond) {
		return Validationf("unknown trigger_condition %q: want on_true, on_false, on_rising, on_falling, on_change or a state label", cond)
	}
	return nil
}
