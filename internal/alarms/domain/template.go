package alarms

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// AlarmTemplate is a reusable rule blueprint applied to many targets.
type AlarmTemplate struct {
	ID                  string        `json:"id"`
	TenantID            string        `json:"tenant_id"`
	Name                string        `json:"name"`
	Description         string        `json:"description,omitempty"`
	ConditionType       ConditionType `json:"condition_type"`
	DefaultConfig       RuleConfig    `json:"default_config"`
	Severity            Severity      `json:"severity"`
	NotificationEnabled bool          `json:"notification_enabled"`
	UsageCount          int           `json:"usage_count"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	DeletedAt           *time.Time    `json:"deleted_at,omitempty"`
}

// Validate checks template invariants.
func (t AlarmTemplate) Validate() error {
	if t.TenantID == "" {
		return Validationf("tenant_id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return Validationf("name is required")
	}
	if !t.ConditionType.Valid() {
		return Validationf("invalid condition_type %q", t.ConditionType)
	}
	if !t.Severity.Valid() {
		return Validationf("invalid severity %q", t.Severity)
	}
	if t.DefaultConfig.Deadband != nil && *t.DefaultConfig.Deadband < 0 {
		return Validationf("deadband must be >= 0")
	}
	if t.ConditionType == ConditionDigital && t.DefaultConfig.TriggerCondition != nil && strings.TrimSpace(*t.DefaultConfig.TriggerCondition) != "" {
		return validateTriggerCondition(*t.DefaultConfig.TriggerCondition)
	}
	return nil
}

// RuleConfig is a sparse rule configuration. Nil fields are unset.
type RuleConfig struct {
	Name                  *string   `json:"name,omitempty"`
	Description           *string   `json:"description,omitempty"`
	HighHighLimit         *float64  `json:"high_high_limit,omitempty"`
	HighLimit             *float64  `json:"high_limit,omitempty"`
	LowLimit              *float64  `json:"low_limit,omitempty"`
	LowLowLimit           *float64  `json:"low_low_limit,omitempty"`
	Deadband              *float64  `json:"deadband,omitempty"`
	RateOfChange          *float64  `json:"rate_of_change,omitempty"`
	TriggerCondition      *string   `json:"trigger_condition,omitempty"`
	ConditionScript       *string   `json:"condition_script,omitempty"`
	MessageTemplate       *string   `json:"message_template,omitempty"`
	Severity              *Severity `json:"severity,omitempty"`
	AutoAcknowledge       *bool     `json:"auto_acknowledge,omitempty"`
	AutoClear             *bool     `json:"auto_clear,omitempty"`
	IsEnabled             *bool     `json:"is_enabled,omitempty"`
	IsLatched             *bool     `json:"is_latched,omitempty"`
	AcknowledgeTimeoutMin *int      `json:"acknowledge_timeout_min,omitempty"`
	NotificationEnabled   *bool     `json:"notification_enabled,omitempty"`
}

type keyKind int

const (
	floatKey keyKind = iota
	stringKey
	boolKey
	intKey
)

type configKey struct {
	canonical string
	aliases   []string
	kind      keyKind
	assign    func(*RuleConfig, gjson.Result)
}

// configKeys is the single table of accepted config keys. Within one document
// the canonical key wins over its aliases; aliases are tried in order.
var configKeys = []configKey{
	{canonical: "name", kind: stringKey, assign: func(c *RuleConfig, r gjson.Result) { c.Name = strPtr(r.String()) }},
	{canonical: "description", kind: stringKey, assign: func(c *RuleConfig, r gjson.Result) { c.Description = strPtr(r.String()) }},
	{canonical: "high_high_limit", aliases: []string{"high_high_threshold"}, kind: floatKey, assign: func(c *RuleConfig, r gjson.Result) { c.HighHighLimit = Float(r.Float()) }},
	{canonical: "high_limit", aliases: []string{"threshold", "high_threshold"}, kind: floatKey, assign: func(c *RuleConfig, r gjson.Result) { c.HighLimit = Float(r.Float()) }},
	{canonical: "low_limit", aliases: []string{"low_threshold"}, kind: floatKey, assign: func(c *RuleConfig, r gjson.Result) { c.LowLimit = Float(r.Float()) }},
	{canonical: "low_low_limit", aliases: []string{"low_low_threshold"}, kind: floatKey, assign: func(c *RuleConfig, r gjson.Result) { c.LowLowLimit = Float(r.Float()) }},
	{canonical: "deadband", aliases: []string{"hysteresis"}, kind: floatKey, assign: func(c *RuleConfig, r gjson.Result) { c.Deadband = Float(r.Float()) }},
	{canonical: "rate_of_change", kind: floatKey, assign: func(c *RuleConfig, r gjson.Result) { c.RateOfChange = Float(r.Float()) }},
	{canonical: "trigger_condition", kind: stringKey, assign: func(c *RuleConfig, r gjson.Result) { c.TriggerCondition = strPtr(r.String()) }},
	{canonical: "condition_script", kind: stringKey, assign: func(c *RuleConfig, r gjson.Result) { c.ConditionScript = strPtr(r.String()) }},
	{canonical: "message_template", kind: stringKey, assign: func(c *RuleConfig, r gjson.Result) { c.MessageTemplate = strPtr(r.String()) }},
	{canonical: "severity", kind: stringKey, assign: func(c *RuleConfig, r gjson.Result) { s := Severity(strings.ToLower(r.String())); c.Severity = &s }},
	{canonical: "auto_acknowledge", kind: boolKey, assign: func(c *RuleConfig, r gjson.Result) { c.AutoAcknowledge = boolPtr(r.Bool()) }},
	{canonical: "auto_clear", kind: boolKey, assign: func(c *RuleConfig, r gjson.Result) { c.AutoClear = boolPtr(r.Bool()) }},
	{canonical: "is_enabled", kind: boolKey, assign: func(c *RuleConfig, r gjson.Result) { c.IsEnabled = boolPtr(r.Bool()) }},
	{canonical: "is_latched", kind: boolKey, assign: func(c *RuleConfig, r gjson.Result) { c.IsLatched = boolPtr(r.Bool()) }},
	{canonical: "acknowledge_timeout_min", kind: intKey, assign: func(c *RuleConfig, r gjson.Result) { n := int(r.Int()); c.AcknowledgeTimeoutMin = &n }},
	{canonical: "notification_enabled", kind: boolKey, assign: func(c *RuleConfig, r gjson.Result) { c.NotificationEnabled = boolPtr(r.Bool()) }},
}

// ParseRuleConfig reads a JSON object into a RuleConfig, resolving alias keys.
// Unknown keys are ignored; null values count as unset.
func ParseRuleConfig(data []byte) (RuleConfig, error) {
	var cfg RuleConfig
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if !gjson.ValidBytes(data) {
		return cfg, Validationf("config is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if root.Type == gjson.Null {
		return cfg, nil
	}
	if !root.IsObject() {
		return cfg, Validationf("config must be a JSON object")
	}
	for _, key := range configKeys {
		name, res := lookupKey(root, key)
		if !res.Exists() || res.Type == gjson.Null {
			continue
		}
		if !kindMatches(key.kind, res) {
			return RuleConfig{}, Validationf("config key %q has wrong type", name)
		}
		key.assign(&cfg, res)
	}
	return cfg, nil
}

func lookupKey(root gjson.Result, key configKey) (string, gjson.Result) {
	res := root.Get(key.canonical)
	if res.Exists() && res.Type != gjson.Null {
		return key.canonical, res
	}
	for _, alias := range key.aliases {
		if alt := root.Get(alias); alt.Exists() && alt.Type != gjson.Null {
			return alias, alt
		}
	}
	return key.canonical, res
}

func kindMatches(kind keyKind, res gjson.Result) bool {
	switch kind {
	case floatKey:
		return res.Type == gjson.Number
	case intKey:
		return res.Type == gjson.Number && res.Float() == float64(res.Int())
	case boolKey:
		return res.IsBool()
	case stringKey:
		return res.Type == gjson.String
	default:
		return false
	}
}

// UnmarshalJSON accepts alias keys.
func (c *RuleConfig) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRuleConfig(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Bytes encodes the config with canonical keys.
func (c RuleConfig) Bytes() []byte {
	data, err := json.Marshal(c)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// Merge overlays override on c; set fields in override win.
func (c RuleConfig) Merge(override RuleConfig) RuleConfig {
	out := c
	if override.Name != nil {
		out.Name = override.Name
	}
	if override.Description != nil {
		out.Description = override.Description
	}
	if override.HighHighLimit != nil {
		out.HighHighLimit = override.HighHighLimit
	}
	if override.HighLimit != nil {
		out.HighLimit = override.HighLimit
	}
	if override.LowLimit != nil {
		out.LowLimit = override.LowLimit
	}
	if override.LowLowLimit != nil {
		out.LowLowLimit = override.LowLowLimit
	}
	if override.Deadband != nil {
		out.Deadband = override.Deadband
	}
	if override.RateOfChange != nil {
		out.RateOfChange = override.RateOfChange
	}
	if override.TriggerCondition != nil {
		out.TriggerCondition = override.TriggerCondition
	}
	if override.ConditionScript != nil {
		out.ConditionScript = override.ConditionScript
	}
	if override.MessageTemplate != nil {
		out.MessageTemplate = override.MessageTemplate
	}
	if override.Severity != nil {
		out.Severity = override.Severity
	}
	if override.AutoAcknowledge != nil {
		out.AutoAcknowledge = override.AutoAcknowledge
	}
	if override.AutoClear != nil {
		out.AutoClear = override.AutoClear
	}
	if override.IsEnabled != nil {
		out.IsEnabled = override.IsEnabled
	}
	if override.IsLatched != nil {
		out.IsLatched = override.IsLatched
	}
	if override.AcknowledgeTimeoutMin != nil {
		out.AcknowledgeTimeoutMin = override.AcknowledgeTimeoutMin
	}
	if override.NotificationEnabled != nil {
		out.NotificationEnabled = override.NotificationEnabled
	}
	return out
}

// RuleTarget identifies what a template-derived rule watches.
type RuleTarget struct {
	Type TargetType `json:"type"`
	ID   string     `json:"id"`
}

// BuildRule synthesizes a rule for target from the template defaults merged
// with override. The caller assigns ID and timestamps.
func (t AlarmTemplate) BuildRule(target RuleTarget, override RuleConfig, ruleGroup string) AlarmRule {
	cfg := t.DefaultConfig.Merge(override)
	targetType := target.Type
	if targetType == "" {
		targetType = TargetPoint
	}
	rule := AlarmRule{
		TenantID:            t.TenantID,
		TargetType:          targetType,
		TargetID:            target.ID,
		Name:                t.Name + " #" + target.ID,
		Description:         t.Description,
		ConditionType:       t.ConditionType,
		HighHighLimit:       cloneFloat(cfg.HighHighLimit),
		HighLimit:           cloneFloat(cfg.HighLimit),
		LowLimit:            cloneFloat(cfg.LowLimit),
		LowLowLimit:         cloneFloat(cfg.LowLowLimit),
		RateOfChange:        cloneFloat(cfg.RateOfChange),
		Severity:            t.Severity,
		AutoClear:           true,
		IsEnabled:           true,
		NotificationEnabled: t.NotificationEnabled,
		TemplateID:          t.ID,
		RuleGroup:           ruleGroup,
	}
	if cfg.Name != nil && strings.TrimSpace(*cfg.Name) != "" {
		rule.Name = *cfg.Name
	}
	if cfg.Description != nil {
		rule.Description = *cfg.Description
	}
	if cfg.Deadband != nil {
		rule.Deadband = *cfg.Deadband
	}
	if cfg.TriggerCondition != nil {
		rule.TriggerCondition = *cfg.TriggerCondition
	}
	if cfg.ConditionScript != nil {
		rule.ConditionScript = *cfg.ConditionScript
	}
	if cfg.MessageTemplate != nil {
		rule.MessageTemplate = *cfg.MessageTemplate
	}
	if cfg.Severity != nil {
		rule.Severity = *cfg.Severity
	}
	if cfg.AutoAcknowledge != nil {
		rule.AutoAcknowledge = *cfg.AutoAcknowledge
	}
	if cfg.AutoClear != nil {
		rule.AutoClear = *cfg.AutoClear
	}
	if cfg.IsEnabled != nil {
		rule.IsEnabled = *cfg.IsEnabled
	}
	if cfg.IsLatched != nil {
		rule.IsLatched = *cfg.IsLatched
	}
	if cfg.AcknowledgeTimeoutMin != nil {
		rule.AcknowledgeTimeoutMin = *cfg.AcknowledgeTimeoutMin
	}
	if cfg.NotificationEnabled != nil {
		rule.NotificationEnabled = *cfg.NotificationEnabled
	}
	return rule
}

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }
