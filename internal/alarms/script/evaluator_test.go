package script_test

import (
	"context"
	"errors"
	"testing"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/alarms/script"

	"github.com/stretchr/testify/require"
)

func TestEvaluateScript(t *testing.T) {
	e := script.NewEvaluator()
	cases := []struct {
		name    string
		script  string
		value   alarms.Value
		trigger bool
	}{
		{"range hit", "value > 80 && value < 120", alarms.Number(95), true},
		{"range miss", "value > 80 && value < 120", alarms.Number(130), false},
		{"arithmetic", "(value - 32) * 5 / 9 >= 100", alarms.Number(212), true},
		{"negative", "value < -10", alarms.Number(-12.5), true},
		{"discrete", `value == "FAULT" || value == "TRIP"`, alarms.Discrete("TRIP"), true},
		{"discrete miss", `value == "FAULT"`, alarms.Discrete("RUN"), false},
		{"bool negation", "!value", alarms.Bool(false), true},
		{"bool compare", "value == true", alarms.Bool(true), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := e.EvaluateScript(context.Background(), tc.script, tc.value)
			require.NoError(t, err)
			require.Equal(t, tc.trigger, res.Trigger)
			if tc.trigger {
				require.Contains(t, res.Reason, tc.value.String())
			}
		})
	}
}

func TestEvaluateScriptErrors(t *testing.T) {
	e := script.NewEvaluator()
	cases := map[string]string{
		"empty":           "  ",
		"syntax":          "value >",
		"unknown ident":   "pressure > 3",
		"non bool result": "value + 1",
		"type mismatch":   `value > "x"`,
		"call":            "len(value) > 1",
		"zero division":   "value / 0 > 1",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.EvaluateScript(context.Background(), src, alarms.Number(1))
			require.Error(t, err)
			require.True(t, errors.Is(err, alarms.ErrValidation))
		})
	}
}

func TestValidateScript(t *testing.T) {
	e := script.NewEvaluator()
	for _, src := range []string{"value > 80 && value < 120", `value == "TRIP"`, "!value", "-value <= -3.5"} {
		require.NoError(t, e.ValidateScript(src), src)
	}
	cases := map[string]string{
		"empty":         "",
		"syntax":        "value >",
		"unknown ident": "pressure > 3",
		"call":          "len(value) > 1",
		"operator":      "value % 2 == 0",
		"selector":      "value.x > 1",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, e.ValidateScript(src), alarms.ErrValidation)
		})
	}
}

func TestEvaluateScriptHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := script.NewEvaluator().EvaluateScript(ctx, "value > 1", alarms.Number(2))
	require.ErrorIs(t, err, context.Canceled)
}

func TestScriptRuleThroughDomainEvaluator(t *testing.T) {
	rule := alarms.AlarmRule{
		ID:              "r-1",
		TenantID:        "t-1",
		TargetType:      alarms.TargetPoint,
		TargetID:        "p-1",
		Name:            "Vibration",
		ConditionType:   alarms.ConditionScript,
		ConditionScript: "value >= 7.1",
		Severity:        alarms.SeverityMajor,
		IsEnabled:       true,
	}
	ev := alarms.Evaluator{Script: script.NewEvaluator()}
	decision, err := ev.Evaluate(context.Background(), alarms.Number(7.4), rule, alarms.PriorState{})
	require.NoError(t, err)
	require.True(t, decision.Trigger)
	require.Equal(t, alarms.LevelTriggered, decision.Level)
}
