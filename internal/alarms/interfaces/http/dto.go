package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	alarms "alarm-engine/internal/alarms/domain"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator output into an alarms validation error.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return alarms.Validationf("%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return alarms.Validationf("%s", strings.Join(msgs, "; "))
}

type createRuleRequest struct {
	TargetType            string   `json:"target_type" validate:"omitempty,oneof=point group"`
	TargetID              string   `json:"target_id" validate:"required,max=128"`
	Name                  string   `json:"name" validate:"required,max=200"`
	Description           string   `json:"description" validate:"max=2000"`
	ConditionType         string   `json:"condition_type" validate:"required,oneof=threshold digital script"`
	HighHighLimit         *float64 `json:"high_high_limit"`
	HighLimit             *float64 `json:"high_limit"`
	LowLimit              *float64 `json:"low_limit"`
	LowLowLimit           *float64 `json:"low_low_limit"`
	Deadband              float64  `json:"deadband" validate:"gte=0"`
	RateOfChange          *float64 `json:"rate_of_change"`
	TriggerCondition      string   `json:"trigger_condition"`
	ConditionScript       string   `json:"condition_script"`
	MessageTemplate       string   `json:"message_template"`
	Severity              string   `json:"severity" validate:"required,oneof=info warning minor major critical"`
	AutoAcknowledge       bool     `json:"auto_acknowledge"`
	AutoClear             *bool    `json:"auto_clear"`
	IsEnabled             *bool    `json:"is_enabled"`
	IsLatched             bool     `json:"is_latched"`
	AcknowledgeTimeoutMin int      `json:"acknowledge_timeout_min" validate:"gte=0"`
	NotificationEnabled   *bool    `json:"notification_enabled"`
}

func (req createRuleRequest) toRule(tenantID string) alarms.AlarmRule {
	targetType := alarms.TargetType(req.TargetType)
	if targetType == "" {
		targetType = alarms.TargetPoint
	}
	return alarms.AlarmRule{
		TenantID:              tenantID,
		TargetType:            targetType,
		TargetID:              req.TargetID,
		Name:                  req.Name,
		Description:           req.Description,
		ConditionType:         alarms.ConditionType(req.ConditionType),
		HighHighLimit:         req.HighHighLimit,
		HighLimit:             req.HighLimit,
		LowLimit:              req.LowLimit,
		LowLowLimit:           req.LowLowLimit,
		Deadband:              req.Deadband,
		RateOfChange:          req.RateOfChange,
		TriggerCondition:      req.TriggerCondition,
		ConditionScript:       req.ConditionScript,
		MessageTemplate:       req.MessageTemplate,
		Severity:              alarms.Severity(req.Severity),
		AutoAcknowledge:       req.AutoAcknowledge,
		AutoClear:             boolOr(req.AutoClear, true),
		IsEnabled:             boolOr(req.IsEnabled, true),
		IsLatched:             req.IsLatched,
		AcknowledgeTimeoutMin: req.AcknowledgeTimeoutMin,
		NotificationEnabled:   boolOr(req.NotificationEnabled, true),
	}
}

type bulkUpdateRequest struct {
	RuleIDs  []string         `json:"rule_ids" validate:"required,min=1,max=1000"`
	Settings alarms.RulePatch `json:"settings"`
}

type valueRequest struct {
	Value     alarms.Value `json:"value"`
	Timestamp *time.Time   `json:"timestamp"`
}

func (req valueRequest) at() time.Time {
	if req.Timestamp == nil {
		return time.Time{}
	}
	return req.Timestamp.UTC()
}

type acknowledgeRequest struct {
	Comment string `json:"comment" validate:"max=1000"`
}

type clearRequest struct {
	Comment string        `json:"comment" validate:"max=1000"`
	Value   *alarms.Value `json:"value"`
}

type createTemplateRequest struct {
	Name                string          `json:"name" validate:"required,max=200"`
	Description         string          `json:"description" validate:"max=2000"`
	ConditionType       string          `json:"condition_type" validate:"required,oneof=threshold digital script"`
	DefaultConfig       json.RawMessage `json:"default_config"`
	Severity            string          `json:"severity" validate:"required,oneof=info warning minor major critical"`
	NotificationEnabled *bool           `json:"notification_enabled"`
}

func (req createTemplateRequest) toTemplate(tenantID string) (alarms.AlarmTemplate, error) {
	var cfg alarms.RuleConfig
	if len(req.DefaultConfig) > 0 && string(req.DefaultConfig) != "null" {
		parsed, err := alarms.ParseRuleConfig(req.DefaultConfig)
		if err != nil {
			return alarms.AlarmTemplate{}, err
		}
		cfg = parsed
	}
	return alarms.AlarmTemplate{
		TenantID:            tenantID,
		Name:                req.Name,
		Description:         req.Description,
		ConditionType:       alarms.ConditionType(req.ConditionType),
		DefaultConfig:       cfg,
		Severity:            alarms.Severity(req.Severity),
		NotificationEnabled: boolOr(req.NotificationEnabled, true),
	}, nil
}

type applyTemplateRequest struct {
	TargetIDs  []string                   `json:"target_ids" validate:"max=1000"`
	TargetType string                     `json:"target_type" validate:"omitempty,oneof=point group"`
	Targets    []alarms.RuleTarget        `json:"targets" validate:"max=1000"`
	Overrides  map[string]json.RawMessage `json:"overrides"`
}

func (req applyTemplateRequest) targets() []alarms.RuleTarget {
	out := make([]alarms.RuleTarget, 0, len(req.Targets)+len(req.TargetIDs))
	out = append(out, req.Targets...)
	for _, id := range req.TargetIDs {
		out = append(out, alarms.RuleTarget{Type: alarms.TargetType(req.TargetType), ID: id})
	}
	return out
}

func (req applyTemplateRequest) overrides() (map[string]alarms.RuleConfig, error) {
	out := make(map[string]alarms.RuleConfig, len(req.Overrides))
	for targetID, raw := range req.Overrides {
		cfg, err := alarms.ParseRuleConfig(raw)
		if err != nil {
			return nil, alarms.Validationf("overrides[%s]: %v", targetID, err)
		}
		out[targetID] = cfg
	}
	return out, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
