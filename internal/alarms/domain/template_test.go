package alarms

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRuleConfigAliases(t *testing.T) {
	t.Parallel()

	cfg, err := ParseRuleConfig([]byte(`{"threshold": 80, "hysteresis": 2, "low_threshold": 5, "unknown": "x"}`))
	require.NoError(t, err)
	require.Equal(t, 80.0, *cfg.HighLimit)
	require.Equal(t, 2.0, *cfg.Deadband)
	require.Equal(t, 5.0, *cfg.LowLimit)

	cfg, err = ParseRuleConfig([]byte(`{"threshold": 80, "high_limit": 85}`))
	require.NoError(t, err)
	require.Equal(t, 85.0, *cfg.HighLimit, "canonical key wins within one document")

	_, err = ParseRuleConfig([]byte(`{"threshold": "high"}`))
	require.ErrorIs(t, err, ErrValidation)

	_, err = ParseRuleConfig([]byte(`[1,2]`))
	require.ErrorIs(t, err, ErrValidation)

	cfg, err = ParseRuleConfig(nil)
	require.NoError(t, err)
	require.Nil(t, cfg.HighLimit)
}

func TestBuildRuleOverrideWins(t *testing.T) {
	t.Parallel()

	var defaults RuleConfig
	require.NoError(t, json.Unmarshal([]byte(`{"threshold": 80, "hysteresis": 2}`), &defaults))
	tpl := AlarmTemplate{
		ID:            "tpl-1",
		TenantID:      "tenant-1",
		Name:          "Overheat",
		ConditionType: ConditionThreshold,
		DefaultConfig: defaults,
		Severity:      SeverityMajor,
	}

	var override RuleConfig
	require.NoError(t, json.Unmarshal([]byte(`{"threshold": 90}`), &override))

	r101 := tpl.BuildRule(RuleTarget{ID: "101"}, RuleConfig{}, "group-1")
	r102 := tpl.BuildRule(RuleTarget{ID: "102"}, override, "group-1")

	require.Equal(t, 80.0, *r101.HighLimit)
	require.Equal(t, 2.0, r101.Deadband)
	require.Equal(t, 90.0, *r102.HighLimit)
	require.Equal(t, 2.0, r102.Deadband)
	require.Equal(t, "Overheat #101", r101.Name)
	require.Equal(t, TargetPoint, r101.TargetType)
	require.Equal(t, "group-1", r102.RuleGroup)
	require.Equal(t, "tpl-1", r102.TemplateID)
	require.True(t, r101.AutoClear)
	require.NoError(t, r101.Validate())
	require.NoError(t, r102.Validate())
}

func TestBuildRuleDeadbandDefaultsToZero(t *testing.T) {
	t.Parallel()

	tpl := AlarmTemplate{
		TenantID:      "tenant-1",
		Name:          "Low Pressure",
		ConditionType: ConditionThreshold,
		DefaultConfig: RuleConfig{LowLimit: Float(3)},
		Severity:      SeverityMinor,
	}
	rule := tpl.BuildRule(RuleTarget{Type: TargetGroup, ID: "g-1"}, RuleConfig{Name: strPtr("Custom")}, "")
	require.Zero(t, rule.Deadband)
	require.Equal(t, "Custom", rule.Name)
	require.Equal(t, TargetGroup, rule.TargetType)
}
