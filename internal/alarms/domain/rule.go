package alarms

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// ConditionType selects how a rule is evaluated.
type ConditionType string

const (
	ConditionThreshold ConditionType = "threshold"
	ConditionDigital   ConditionType = "digital"
	ConditionScript    ConditionType = "script"
)

// Valid returns true when the condition type is supported.
func (c ConditionType) Valid() bool {
	switch c {
	case ConditionThreshold, ConditionDigital, ConditionScript:
		return true
	default:
		return false
	}
}

// TargetType is the kind of entity a rule watches.
type TargetType string

const (
	TargetPoint TargetType = "point"
	TargetGroup TargetType = "group"
)

// Valid returns true when the target type is supported.
func (t TargetType) Valid() bool {
	return t == TargetPoint || t == TargetGroup
}

// AlarmRule defines when a target raises an alarm.
type AlarmRule struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	TargetType    TargetType    `json:"target_type"`
	TargetID      string        `json:"target_id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	ConditionType ConditionType `json:"condition_type"`

	HighHighLimit *float64 `json:"high_high_limit"`
	HighLimit     *float64 `json:"high_limit"`
	LowLimit      *float64 `json:"low_limit"`
	LowLowLimit   *float64 `json:"low_low_limit"`
	Deadband      float64  `json:"deadband"`
	RateOfChange  *float64 `json:"rate_of_change"`

	TriggerCondition string `json:"trigger_condition,omitempty"`
	ConditionScript  string `json:"condition_script,omitempty"`
	MessageTemplate  string `json:"message_template,omitempty"`

	Severity              Severity `json:"severity"`
	AutoAcknowledge       bool     `json:"auto_acknowledge"`
	AutoClear             bool     `json:"auto_clear"`
	IsEnabled             bool     `json:"is_enabled"`
	IsLatched             bool     `json:"is_latched"`
	AcknowledgeTimeoutMin int      `json:"acknowledge_timeout_min"`
	NotificationEnabled   bool     `json:"notification_enabled"`

	TemplateID string `json:"template_id,omitempty"`
	RuleGroup  string `json:"rule_group,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Validate checks rule invariants.
func (r AlarmRule) Validate() error {
	if r.TenantID == "" {
		return Validationf("tenant_id is required")
	}
	if !r.TargetType.Valid() {
		return Validationf("invalid target_type %q", r.TargetType)
	}
	if r.TargetID == "" {
		return Validationf("target_id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return Validationf("name is required")
	}
	if !r.Severity.Valid() {
		return Validationf("invalid severity %q", r.Severity)
	}
	if r.Deadband < 0 {
		return Validationf("deadband must be >= 0")
	}
	if r.AcknowledgeTimeoutMin < 0 {
		return Validationf("acknowledge_timeout_min must be >= 0")
	}
	if r.HighLimit != nil && r.LowLimit != nil && *r.HighLimit <= *r.LowLimit {
		return Validationf("high_limit must be greater than low_limit")
	}
	if r.HighHighLimit != nil && r.HighLimit != nil && *r.HighHighLimit < *r.HighLimit {
		return Validationf("high_high_limit must be >= high_limit")
	}
	if r.LowLowLimit != nil && r.LowLimit != nil && *r.LowLowLimit > *r.LowLimit {
		return Validationf("low_low_limit must be <= low_limit")
	}
	switch r.ConditionType {
	case ConditionThreshold:
		if !r.hasLimit() {
			return Validationf("threshold rule needs at least one limit")
		}
	case ConditionDigital:
		if err := validateTriggerCondition(r.TriggerCondition); err != nil {
			return err
		}
	case ConditionScript:
		if strings.TrimSpace(r.ConditionScript) == "" {
			return Validationf("script rule needs condition_script")
		}
	default:
		return Validationf("invalid condition_type %q", r.ConditionType)
	}
	return nil
}

func (r AlarmRule) hasLimit() bool {
	return r.HighHighLimit != nil || r.HighLimit != nil || r.LowLimit != nil || r.LowLowLimit != nil
}

// Deleted reports whether the rule was soft-deleted.
func (r AlarmRule) Deleted() bool {
	return r.DeletedAt != nil
}

// Evaluable reports whether the rule takes part in evaluation.
func (r AlarmRule) Evaluable() bool {
	return r.IsEnabled && !r.Deleted()
}

// LimitFor returns the configured limit for an analog level.
func (r AlarmRule) LimitFor(level Level) *float64 {
	switch level {
	case LevelHighHigh:
		return r.HighHighLimit
	case LevelHigh:
		return r.HighLimit
	case LevelLow:
		return r.LowLimit
	case LevelLowLow:
		return r.LowLowLimit
	default:
		return nil
	}
}

// Clone returns a deep copy.
func (r AlarmRule) Clone() AlarmRule {
	out := r
	out.HighHighLimit = cloneFloat(r.HighHighLimit)
	out.HighLimit = cloneFloat(r.HighLimit)
	out.LowLimit = cloneFloat(r.LowLimit)
	out.LowLowLimit = cloneFloat(r.LowLowLimit)
	out.RateOfChange = cloneFloat(r.RateOfChange)
	if r.DeletedAt != nil {
		at := *r.DeletedAt
		out.DeletedAt = &at
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// OptionalFloat distinguishes an absent field from an explicit null.
type OptionalFloat struct {
	Set   bool
	Value *float64
}

// SetFloat marks the field present with a value.
func SetFloat(v float64) OptionalFloat { return OptionalFloat{Set: true, Value: &v} }

// NullFloat marks the field present and cleared.
func NullFloat() OptionalFloat { return OptionalFloat{Set: true} }

// UnmarshalJSON is only called for keys present in the payload.
func (o *OptionalFloat) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return Validationf("expected number or null")
	}
	o.Value = &v
	return nil
}

// MarshalJSON renders the value or null.
func (o OptionalFloat) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// RulePatch carries a partial rule update. Nil or unset fields are left untouched.
type RulePatch struct {
	Name                  *string       `json:"name,omitempty"`
	Description           *string       `json:"description,omitempty"`
	HighHighLimit         OptionalFloat `json:"high_high_limit"`
	HighLimit             OptionalFloat `json:"high_limit"`
	LowLimit              OptionalFloat `json:"low_limit"`
	LowLowLimit           OptionalFloat `json:"low_low_limit"`
	Deadband              *float64      `json:"deadband,omitempty"`
	RateOfChange          OptionalFloat `json:"rate_of_change"`
	TriggerCondition      *string       `json:"trigger_condition,omitempty"`
	ConditionScript       *string       `json:"condition_script,omitempty"`
	MessageTemplate       *string       `json:"message_template,omitempty"`
	Severity              *Severity     `json:"severity,omitempty"`
	AutoAcknowledge       *bool         `json:"auto_acknowledge,omitempty"`
	AutoClear             *bool         `json:"auto_clear,omitempty"`
	IsEnabled             *bool         `json:"is_enabled,omitempty"`
	IsLatched             *bool         `json:"is_latched,omitempty"`
	AcknowledgeTimeoutMin *int          `json:"acknowledge_timeout_min,omitempty"`
	NotificationEnabled   *bool         `json:"notification_enabled,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p RulePatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil &&
		!p.HighHighLimit.Set && !p.HighLimit.Set && !p.LowLimit.Set && !p.LowLowLimit.Set &&
		p.Deadband == nil && !p.RateOfChange.Set &&
		p.TriggerCondition == nil && p.ConditionScript == nil && p.MessageTemplate == nil &&
		p.Severity == nil && p.AutoAcknowledge == nil && p.AutoClear == nil &&
		p.IsEnabled == nil && p.IsLatched == nil && p.AcknowledgeTimeoutMin == nil &&
		p.NotificationEnabled == nil
}

// Apply returns a copy of r with the patch applied. The result is not validated.
func (r AlarmRule) Apply(p RulePatch) AlarmRule {
	out := r.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	applyOptional(&out.HighHighLimit, p.HighHighLimit)
	applyOptional(&out.HighLimit, p.HighLimit)
	applyOptional(&out.LowLimit, p.LowLimit)
	applyOptional(&out.LowLowLimit, p.LowLowLimit)
	applyOptional(&out.RateOfChange, p.RateOfChange)
	if p.Deadband != nil {
		out.Deadband = *p.Deadband
	}
	if p.TriggerCondition != nil {
		out.TriggerCondition = *p.TriggerCondition
	}
	if p.ConditionScript != nil {
		out.ConditionScript = *p.ConditionScript
	}
	if p.MessageTemplate != nil {
		out.MessageTemplate = *p.MessageTemplate
	}
	if p.Severity != nil {
		out.Severity = *p.Severity
	}
	if p.AutoAcknowledge != nil {
		out.AutoAcknowledge = *p.AutoAcknowledge
	}
	if p.AutoClear != nil {
		out.AutoClear = *p.AutoClear
	}
	if p.IsEnabled != nil {
		out.IsEnabled = *p.IsEnabled
	}
	if p.IsLatched != nil {
		out.IsLatched = *p.IsLatched
	}
	if p.AcknowledgeTimeoutMin != nil {
		out.AcknowledgeTimeoutMin = *p.AcknowledgeTimeoutMin
	}
	if p.NotificationEnabled != nil {
		out.NotificationEnabled = *p.NotificationEnabled
	}
	return out
}

func applyOptional(dst **float64, opt OptionalFloat) {
	if !opt.Set {
		return
	}
	*dst = cloneFloat(opt.Value)
}
