package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func createTemplate(t *testing.T, f *fixture, config string) *alarms.AlarmTemplate {
	t.Helper()
	cfg, err := alarms.ParseRuleConfig([]byte(config))
	require.NoError(t, err)
	tpl, err := f.tplService.Create(context.Background(), alarms.AlarmTemplate{
		TenantID:      tenant,
		Name:          "Overheat",
		ConditionType: alarms.ConditionThreshold,
		DefaultConfig: cfg,
		Severity:      alarms.SeverityMajor,
	})
	require.NoError(t, err)
	return tpl
}

func TestApplyTemplateMergesOverrides(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tpl := createTemplate(t, f, `{"threshold": 80}`)

	override, err := alarms.ParseRuleConfig([]byte(`{"high_limit": 90, "name": "Pump 102 Hot"}`))
	require.NoError(t, err)

	result, err := f.tplService.Apply(context.Background(), application.ApplyRequest{
		TenantID:   tenant,
		TemplateID: tpl.ID,
		Targets:    []alarms.RuleTarget{{ID: "101"}, {ID: "102"}},
		Overrides:  map[string]alarms.RuleConfig{"102": override},
	})
	require.NoError(t, err)
	require.Equal(t, application.BatchSuccess, result.Status)
	require.Len(t, result.Created, 2)
	_, err = uuid.Parse(result.RuleGroup)
	require.NoError(t, err)

	byTarget := map[string]alarms.AlarmRule{}
	for _, rule := range result.Created {
		byTarget[rule.TargetID] = rule
		require.Equal(t, result.RuleGroup, rule.RuleGroup)
		require.Equal(t, tpl.ID, rule.TemplateID)
		require.Equal(t, 0.0, rule.Deadband)
		require.NotEmpty(t, rule.ID)
	}
	require.Equal(t, 80.0, *byTarget["101"].HighLimit)
	require.Equal(t, "Overheat #101", byTarget["101"].Name)
	require.Equal(t, 90.0, *byTarget["102"].HighLimit)
	require.Equal(t, "Pump 102 Hot", byTarget["102"].Name)

	stored, err := f.tplService.Get(context.Background(), tenant, tpl.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.UsageCount)
}

func TestApplyTemplateItemizesFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tpl := createTemplate(t, f, `{"threshold": 80, "hysteresis": 1.5}`)
	f.createRule(t, func(r *alarms.AlarmRule) { r.Name = "Overheat #103" })

	result, err := f.tplService.Apply(context.Background(), application.ApplyRequest{
		TenantID:   tenant,
		TemplateID: tpl.ID,
		Targets:    []alarms.RuleTarget{{ID: "101"}, {ID: "102"}, {ID: "103"}, {ID: ""}},
	})
	require.NoError(t, err)
	require.Equal(t, application.BatchPartial, result.Status)
	require.Len(t, result.Created, 2)
	require.Len(t, result.Failures, 2)
	require.Equal(t, "103", result.Failures[0].ID)
	require.Equal(t, alarms.CodeConflict, result.Failures[0].Code)
	require.Equal(t, alarms.CodeValidation, result.Failures[1].Code)
	for _, rule := range result.Created {
		require.Equal(t, 1.5, rule.Deadband)
	}

	stored, err := f.tplService.Get(context.Background(), tenant, tpl.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.UsageCount)
}

func TestApplyTemplateCancelledFailsUnprocessedTargets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, application.WithApplyTimeout(time.Hour), application.WithApplyConcurrency(1))
	tpl := createTemplate(t, f, `{"threshold": 80}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	targets := make([]alarms.RuleTarget, 5)
	for i := range targets {
		targets[i] = alarms.RuleTarget{ID: uuid.NewString()}
	}
	result, err := f.tplService.Apply(ctx, application.ApplyRequest{
		TenantID:   tenant,
		TemplateID: tpl.ID,
		Targets:    targets,
	})
	require.NoError(t, err)
	require.Equal(t, application.BatchFailed, result.Status)
	require.Len(t, result.Failures, 5)
	for _, failure := range result.Failures {
		require.Equal(t, alarms.CodeDependency, failure.Code)
	}

	stored, err := f.tplService.Get(context.Background(), tenant, tpl.ID)
	require.NoError(t, err)
	require.Zero(t, stored.UsageCount)
}

func TestApplyTemplateRequiresTemplateAndTargets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.tplService.Apply(context.Background(), application.ApplyRequest{
		TenantID:   tenant,
		TemplateID: "missing",
		Targets:    []alarms.RuleTarget{{ID: "1"}},
	})
	require.True(t, errors.Is(err, alarms.ErrNotFound))

	tpl := createTemplate(t, f, `{"threshold": 80}`)
	_, err = f.tplService.Apply(context.Background(), application.ApplyRequest{TenantID: tenant, TemplateID: tpl.ID})
	require.True(t, errors.Is(err, alarms.ErrValidation))
}

func TestRevertGroupDeletesBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tpl := createTemplate(t, f, `{"threshold": 80}`)
	result, err := f.tplService.Apply(context.Background(), application.ApplyRequest{
		TenantID:   tenant,
		TemplateID: tpl.ID,
		Targets:    []alarms.RuleTarget{{ID: "101"}, {ID: "102"}},
	})
	require.NoError(t, err)

	reverted, err := f.tplService.RevertGroup(context.Background(), tenant, result.RuleGroup)
	require.NoError(t, err)
	require.Equal(t, application.BatchSuccess, reverted.Status)
	require.Len(t, reverted.Succeeded, 2)

	_, err = f.tplService.RevertGroup(context.Background(), tenant, result.RuleGroup)
	require.True(t, errors.Is(err, alarms.ErrNotFound))
}

func TestTemplateDeleteHidesTemplate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tpl := createTemplate(t, f, `{"threshold": 80}`)
	require.NoError(t, f.tplService.Delete(context.Background(), tenant, tpl.ID))

	list, err := f.tplService.List(context.Background(), tenant)
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = f.tplService.Get(context.Background(), tenant, tpl.ID)
	require.True(t, errors.Is(err, alarms.ErrNotFound))
}
