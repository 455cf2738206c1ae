package alarms

import "strings"

// Severity is the ordered importance of a rule.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Severities lists all severities from least to most severe.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityMinor, SeverityMajor, SeverityCritical}

// ParseSeverity normalizes a severity string.
func ParseSeverity(value string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", Validationf("unknown severity %q", value)
	}
	return s, nil
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank orders severities; unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityMinor:
		return 3
	case SeverityMajor:
		return 4
	case SeverityCritical:
		return 5
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as target.
func (s Severity) AtLeast(target Severity) bool {
	return s.Rank() >= target.Rank()
}

// Level is the alarm band a value falls into.
type Level string

const (
	LevelNormal    Level = "normal"
	LevelHigh      Level = "high"
	LevelHighHigh  Level = "high_high"
	LevelLow       Level = "low"
	LevelLowLow    Level = "low_low"
	LevelTriggered Level = "triggered"
)

// Analog reports whether l is one of the four limit bands.
func (l Level) Analog() bool {
	return l.side() != 0
}

// side is +1 for the high bands, -1 for the low bands and 0 otherwise.
func (l Level) side() int {
	switch l {
	case LevelHigh, LevelHighHigh:
		return 1
	case LevelLow, LevelLowLow:
		return -1
	default:
		return 0
	}
}

// depth is 2 for the outer bands and 1 for the inner bands.
func (l Level) depth() int {
	switch l {
	case LevelHighHigh, LevelLowLow:
		return 2
	case LevelHigh, LevelLow:
		return 1
	default:
		return 0
	}
}

// Condition is the label used in alarm messages.
func (l Level) Condition() string {
	switch l {
	case LevelHighHigh:
		return "HIGH-HIGH"
	case LevelHigh:
		return "HIGH"
	case LevelLow:
		return "LOW"
	case LevelLowLow:
		return "LOW-LOW"
	case LevelTriggered:
		return "TRIGGERED"
	default:
		return "NORMAL"
	}
}
