package alarms

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind string

const (
	KindNumber   ValueKind = "number"
	KindBool     ValueKind = "bool"
	KindDiscrete ValueKind = "discrete"
)

// Value is a measured sample. Only the field matching Kind is meaningful.
type Value struct {
	Kind   ValueKind
	Number float64
	Bool   bool
	State  string
}

// Number builds a numeric value.
func Number(v float64) Value { return Value{Kind: KindNumber, Number: v} }

// Bool builds a boolean value.
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// Discrete builds a discrete state value.
func Discrete(state string) Value { return Value{Kind: KindDiscrete, State: state} }

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool { return v.Kind == "" }

// String renders the value the way it appears in messages and storage.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindDiscrete:
		return v.State
	default:
		return ""
	}
}

// Float returns the numeric payload when the value is a number.
func (v Value) Float() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Number, true
}

// ParseValue rebuilds a value from its kind and text encoding.
func ParseValue(kind ValueKind, text string) (Value, error) {
	switch kind {
	case KindNumber:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, Validationf("invalid number %q", text)
		}
		return Number(f), nil
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, Validationf("invalid bool %q", text)
		}
		return Bool(b), nil
	case KindDiscrete:
		return Discrete(text), nil
	default:
		return Value{}, Validationf("unknown value kind %q", kind)
	}
}

func (v Value) validate() error {
	switch v.Kind {
	case KindNumber:
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return Validationf("value must be finite")
		}
	case KindBool, KindDiscrete:
	default:
		return Validationf("value is required")
	}
	return nil
}

// MarshalJSON encodes numbers and bools natively and discrete states as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Number)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindDiscrete:
		return json.Marshal(v.State)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON infers the kind from the JSON token type.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Discrete(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return Validationf("unsupported value %s", string(data))
		}
		*v = Number(f)
	}
	return nil
}
