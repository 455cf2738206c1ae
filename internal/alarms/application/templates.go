package application

import (
	"context"
	"errors"
	"strings"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/observability/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ApplyRequest instantiates a template onto targets. Overrides are keyed by target id.
type ApplyRequest struct {
	TenantID   string
	TemplateID string
	Targets    []alarms.RuleTarget
	Overrides  map[string]alarms.RuleConfig
}

// ApplyResult reports one template application batch.
type ApplyResult struct {
	RuleGroup string             `json:"rule_group"`
	Status    BatchStatus        `json:"status"`
	Created   []alarms.AlarmRule `json:"created"`
	Failures  []ItemFailure      `json:"failures"`
}

// BatchStatus implements BatchOutcome.
func (r ApplyResult) BatchStatus() BatchStatus { return r.Status }

// TemplateService manages templates and applies them to targets.
type TemplateService struct {
	templates   TemplateStore
	rules       *RuleService
	clock       Clock
	ids         IDGenerator
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration
}

// NewTemplateService constructs a template service. Rules are created through rules
// so name uniqueness and validation match direct rule creation.
func NewTemplateService(templates TemplateStore, rules *RuleService, opts ...Option) (*TemplateService, error) {
	if templates == nil {
		return nil, errors.New("alarm templates: nil repository")
	}
	if rules == nil {
		return nil, errors.New("alarm templates: nil rule service")
	}
	o := buildOptions(opts)
	return &TemplateService{
		templates:   templates,
		rules:       rules,
		clock:       o.clock,
		ids:         o.ids,
		logger:      o.logger,
		concurrency: o.applyConcurrency,
		timeout:     o.applyTimeout,
	}, nil
}

// Create validates and stores a template.
func (s *TemplateService) Create(ctx context.Context, tpl alarms.AlarmTemplate) (*alarms.AlarmTemplate, error) {
	if s == nil {
		return nil, errors.New("alarm templates: nil service")
	}
	tpl.Name = strings.TrimSpace(tpl.Name)
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	if tpl.ConditionType == alarms.ConditionScript && tpl.DefaultConfig.ConditionScript != nil {
		if err := s.rules.validateScript(*tpl.DefaultConfig.ConditionScript); err != nil {
			return nil, err
		}
	}
	now := s.clock.Now().UTC()
	if tpl.ID == "" {
		tpl.ID = s.ids.NewID()
	}
	tpl.UsageCount = 0
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	tpl.DeletedAt = nil
	if err := s.templates.Create(ctx, &tpl); err != nil {
		return nil, alarms.Dependency("create template", err)
	}
	return &tpl, nil
}

// Get loads a live template scoped to tenant.
func (s *TemplateService) Get(ctx context.Context, tenantID, id string) (*alarms.AlarmTemplate, error) {
	if s == nil {
		return nil, errors.New("alarm templates: nil service")
	}
	tpl, err := s.templates.Get(ctx, id)
	if err != nil {
		return nil, alarms.Dependency("get template", err)
	}
	if tpl == nil || tpl.TenantID != tenantID || tpl.DeletedAt != nil {
		return nil, alarms.NotFoundf("template %s", id)
	}
	return tpl, nil
}

// List returns the tenant's live templates.
func (s *TemplateService) List(ctx context.Context, tenantID string) ([]alarms.AlarmTemplate, error) {
	if s == nil {
		return nil, errors.New("alarm templates: nil service")
	}
	if tenantID == "" {
		return nil, alarms.Validationf("tenant_id is required")
	}
	list, err := s.templates.List(ctx, tenantID)
	if err != nil {
		return nil, alarms.Dependency("list templates", err)
	}
	return list, nil
}

// Delete soft-deletes a template. Rules already derived from it are kept.
func (s *TemplateService) Delete(ctx context.Context, tenantID, id string) error {
	if s == nil {
		return errors.New("alarm templates: nil service")
	}
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.templates.SoftDelete(ctx, id, s.clock.Now().UTC()); err != nil {
		return alarms.Dependency("delete template", err)
	}
	return nil
}

// Apply creates one rule per target under a fresh rule group. Targets are
// processed independently; a failed target never aborts the batch.
func (s *TemplateService) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	if s == nil {
		return ApplyResult{}, errors.New("alarm templates: nil service")
	}
	if len(req.Targets) == 0 {
		return ApplyResult{}, alarms.Validationf("targets must not be empty")
	}
	tpl, err := s.Get(ctx, req.TenantID, req.TemplateID)
	if err != nil {
		return ApplyResult{}, err
	}

	group := uuid.NewString()
	start := time.Now()
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	created := make([]*alarms.AlarmRule, len(req.Targets))
	errs := make([]error, len(req.Targets))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, target := range req.Targets {
		g.Go(func() error {
			created[i], errs[i] = s.applyTarget(runCtx, *tpl, target, req.Overrides[target.ID], group)
			return nil
		})
	}
	_ = g.Wait()

	result := ApplyResult{RuleGroup: group, Created: []alarms.AlarmRule{}, Failures: []ItemFailure{}}
	for i, target := range req.Targets {
		if errs[i] != nil {
			result.Failures = append(result.Failures, itemFailure(target.ID, errs[i]))
			s.logger.Debug("template target failed",
				zap.String("template_id", tpl.ID),
				zap.String("target_id", target.ID),
				zap.Error(errs[i]))
			continue
		}
		result.Created = append(result.Created, *created[i])
	}
	result.Status = statusFor(len(result.Created), len(result.Failures))

	if n := len(result.Created); n > 0 {
		if err := s.templates.IncrementUsage(ctx, tpl.ID, n); err != nil {
			s.logger.Warn("template usage increment failed",
				zap.String("template_id", tpl.ID),
				zap.Int("created", n),
				zap.Error(err))
		}
	}
	metrics.ObserveTemplateApply(string(result.Status), len(result.Created), time.Since(start))
	s.logger.Info("template applied",
		zap.String("template_id", tpl.ID),
		zap.String("rule_group", group),
		zap.Int("created", len(result.Created)),
		zap.Int("failed", len(result.Failures)))
	return result, nil
}

func (s *TemplateService) applyTarget(ctx context.Context, tpl alarms.AlarmTemplate, target alarms.RuleTarget, override alarms.RuleConfig, group string) (*alarms.AlarmRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, alarms.Dependency("apply template", err)
	}
	if strings.TrimSpace(target.ID) == "" {
		return nil, alarms.Validationf("target id is required")
	}
	if target.Type != "" && !target.Type.Valid() {
		return nil, alarms.Validationf("invalid target type %q", target.Type)
	}
	return s.rules.Create(ctx, tpl.BuildRule(target, override, group))
}

// RevertGroup soft-deletes every rule created by one template batch.
func (s *TemplateService) RevertGroup(ctx context.Context, tenantID, group string) (BatchResult, error) {
	if s == nil {
		return BatchResult{}, errors.New("alarm templates: nil service")
	}
	if tenantID == "" || group == "" {
		return BatchResult{}, alarms.Validationf("tenant_id and rule_group are required")
	}
	members, err := s.rules.List(ctx, RuleFilter{TenantID: tenantID, RuleGroup: group})
	if err != nil {
		return BatchResult{}, err
	}
	if len(members) == 0 {
		return BatchResult{}, alarms.NotFoundf("rule group %s", group)
	}
	var (
		succeeded []string
		failures  []ItemFailure
	)
	for _, rule := range members {
		if err := s.rules.Delete(ctx, tenantID, rule.ID); err != nil {
			failures = append(failures, itemFailure(rule.ID, err))
			continue
		}
		succeeded = append(succeeded, rule.ID)
	}
	return newBatchResult(len(members), succeeded, failures), nil
}
