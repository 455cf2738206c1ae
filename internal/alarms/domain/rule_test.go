package alarms

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAlarmRuleValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, highRule(80, 2).Validate())

	cases := map[string]func(*AlarmRule){
		"missing tenant":        func(r *AlarmRule) { r.TenantID = "" },
		"missing target":        func(r *AlarmRule) { r.TargetID = "" },
		"bad target type":       func(r *AlarmRule) { r.TargetType = "device" },
		"negative deadband":     func(r *AlarmRule) { r.Deadband = -1 },
		"high below low":        func(r *AlarmRule) { r.LowLimit = Float(80) },
		"high high below high":  func(r *AlarmRule) { r.HighHighLimit = Float(70) },
		"low low above low":     func(r *AlarmRule) { r.LowLimit = Float(10); r.LowLowLimit = Float(20) },
		"no limits":             func(r *AlarmRule) { r.HighLimit = nil },
		"unknown severity":      func(r *AlarmRule) { r.Severity = "medium" },
		"digital without cond":  func(r *AlarmRule) { r.ConditionType = ConditionDigital },
		"script without script": func(r *AlarmRule) { r.ConditionType = ConditionScript },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rule := highRule(80, 2)
			mutate(&rule)
			require.ErrorIs(t, rule.Validate(), ErrValidation)
		})
	}
}

func TestRulePatchDistinguishesAbsentFromNull(t *testing.T) {
	t.Parallel()

	rule := highRule(80, 2)
	rule.LowLimit = Float(10)

	var patch RulePatch
	require.NoError(t, json.Unmarshal([]byte(`{"low_limit": null, "deadband": 3}`), &patch))
	require.False(t, patch.HighLimit.Set)
	require.True(t, patch.LowLimit.Set)
	require.Nil(t, patch.LowLimit.Value)
	require.False(t, patch.IsEmpty())

	updated := rule.Apply(patch)
	require.Nil(t, updated.LowLimit)
	require.Equal(t, 80.0, *updated.HighLimit)
	require.Equal(t, 3.0, updated.Deadband)
	require.Equal(t, 10.0, *rule.LowLimit, "original must be untouched")

	var empty RulePatch
	require.NoError(t, json.Unmarshal([]byte(`{}`), &empty))
	require.True(t, empty.IsEmpty())
}

func TestOccurrenceTransitions(t *testing.T) {
	t.Parallel()

	triggered := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	occ := AlarmOccurrence{ID: "occ-1", State: StateActive, Level: LevelHigh, TriggeredAt: triggered}

	patch, changed, err := occ.Acknowledge("alice", "on it", triggered.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, changed)
	acked := occ.Apply(patch)
	require.Equal(t, StateAcknowledged, acked.State)
	require.Equal(t, "alice", acked.AcknowledgedBy)

	_, changed, err = acked.Acknowledge("bob", "again", triggered.Add(10*time.Minute))
	require.NoError(t, err)
	require.False(t, changed)

	value := Number(70)
	clearPatch, changed := acked.Clear("bob", &value, "fixed", triggered.Add(-time.Minute))
	require.True(t, changed)
	cleared := acked.Apply(clearPatch)
	require.Equal(t, StateCleared, cleared.State)
	require.Equal(t, triggered, *cleared.ClearedAt, "clear time never precedes trigger")
	require.Equal(t, value, *cleared.ClearedValue)

	_, _, err = cleared.Acknowledge("carol", "", triggered.Add(time.Hour))
	require.ErrorIs(t, err, ErrConflict)

	_, changed = cleared.Clear("carol", nil, "", triggered.Add(time.Hour))
	require.False(t, changed)
}

func TestFormatMessage(t *testing.T) {
	t.Parallel()

	rule := highRule(80, 2)
	decision := Decision{Trigger: true, Level: LevelHigh, Threshold: Float(80)}
	require.Equal(t, "Boiler Temp - HIGH (value: 82)", FormatMessage(rule, decision, Number(82)))

	rule.MessageTemplate = "{{.Name}} above {{.Limit}} at {{.Value}}"
	require.Equal(t, "Boiler Temp above 80 at 82.5", FormatMessage(rule, decision, Number(82.5)))

	rule.MessageTemplate = "{{.Missing}}"
	require.Equal(t, "Boiler Temp - HIGH (value: 82)", FormatMessage(rule, decision, Number(82)))
}

func TestValueJSON(t *testing.T) {
	t.Parallel()

	var values []Value
	require.NoError(t, json.Unmarshal([]byte(`[12.5, true, "RUNNING"]`), &values))
	require.Equal(t, []Value{Number(12.5), Bool(true), Discrete("RUNNING")}, values)

	parsed, err := ParseValue(KindBool, "false")
	require.NoError(t, err)
	require.Equal(t, Bool(false), parsed)

	_, err = ParseValue(KindNumber, "abc")
	require.ErrorIs(t, err, ErrValidation)
}
