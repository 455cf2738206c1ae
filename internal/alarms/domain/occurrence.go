package alarms

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// State is the lifecycle position of an occurrence.
type State string

const (
	StateActive       State = "active"
	StateAcknowledged State = "acknowledged"
	StateCleared      State = "cleared"
)

// SystemActor is recorded for automatic transitions.
const SystemActor = "system"

// AlarmOccurrence is one concrete raise of a rule, from trigger through clear.
type AlarmOccurrence struct {
	ID             string    `json:"id"`
	RuleID         string    `json:"rule_id"`
	TenantID       string    `json:"tenant_id"`
	State          State     `json:"state"`
	Level          Level     `json:"level"`
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message"`
	TriggerValue   Value     `json:"trigger_value"`
	CurrentValue   Value     `json:"current_value"`
	ThresholdValue *float64  `json:"threshold_value"`
	TriggeredAt    time.Time `json:"triggered_at"`

	AcknowledgedAt     *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy     string     `json:"acknowledged_by,omitempty"`
	AcknowledgeComment string     `json:"acknowledge_comment,omitempty"`

	ClearedAt    *time.Time `json:"cleared_at,omitempty"`
	ClearedBy    string     `json:"cleared_by,omitempty"`
	ClearedValue *Value     `json:"cleared_value,omitempty"`
	ClearComment string     `json:"clear_comment,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Open reports whether the occurrence has not been cleared.
func (o AlarmOccurrence) Open() bool {
	return o.State != StateCleared
}

// Clone returns a deep copy.
func (o AlarmOccurrence) Clone() AlarmOccurrence {
	out := o
	out.ThresholdValue = cloneFloat(o.ThresholdValue)
	if o.AcknowledgedAt != nil {
		at := *o.AcknowledgedAt
		out.AcknowledgedAt = &at
	}
	if o.ClearedAt != nil {
		at := *o.ClearedAt
		out.ClearedAt = &at
	}
	if o.ClearedValue != nil {
		v := *o.ClearedValue
		out.ClearedValue = &v
	}
	return out
}

// OccurrencePatch carries field updates for an existing occurrence.
type OccurrencePatch struct {
	State              *State
	Level              *Level
	CurrentValue       *Value
	ThresholdValue     *float64
	AcknowledgedAt     *time.Time
	AcknowledgedBy     *string
	AcknowledgeComment *string
	ClearedAt          *time.Time
	ClearedBy          *string
	ClearedValue       *Value
	ClearComment       *string
	UpdatedAt          time.Time
}

// Apply returns a copy of o with the patch applied.
func (o AlarmOccurrence) Apply(p OccurrencePatch) AlarmOccurrence {
	out := o
	if p.State != nil {
		out.State = *p.State
	}
	if p.Level != nil {
		out.Level = *p.Level
	}
	if p.CurrentValue != nil {
		out.CurrentValue = *p.CurrentValue
	}
	if p.ThresholdValue != nil {
		out.ThresholdValue = cloneFloat(p.ThresholdValue)
	}
	if p.AcknowledgedAt != nil {
		at := *p.AcknowledgedAt
		out.AcknowledgedAt = &at
	}
	if p.AcknowledgedBy != nil {
		out.AcknowledgedBy = *p.AcknowledgedBy
	}
	if p.AcknowledgeComment != nil {
		out.AcknowledgeComment = *p.AcknowledgeComment
	}
	if p.ClearedAt != nil {
		at := *p.ClearedAt
		out.ClearedAt = &at
	}
	if p.ClearedBy != nil {
		out.ClearedBy = *p.ClearedBy
	}
	if p.ClearedValue != nil {
		v := *p.ClearedValue
		out.ClearedValue = &v
	}
	if p.ClearComment != nil {
		out.ClearComment = *p.ClearComment
	}
	if !p.UpdatedAt.IsZero() {
		out.UpdatedAt = p.UpdatedAt
	}
	return out
}

// Acknowledge builds the acknowledge transition. changed is false when the
// occurrence is already acknowledged; a cleared occurrence is a conflict.
func (o AlarmOccurrence) Acknowledge(by, comment string, at time.Time) (patch OccurrencePatch, changed bool, err error) {
	switch {
	case o.State == StateCleared:
		return OccurrencePatch{}, false, Conflictf("occurrence %s already cleared", o.ID)
	case o.AcknowledgedAt != nil || o.State == StateAcknowledged:
		return OccurrencePatch{}, false, nil
	}
	at = notBefore(at, o.TriggeredAt)
	state := StateAcknowledged
	return OccurrencePatch{
		State:              &state,
		AcknowledgedAt:     &at,
		AcknowledgedBy:     &by,
		AcknowledgeComment: &comment,
		UpdatedAt:          at,
	}, true, nil
}

// Clear builds the clear transition. changed is false when already cleared.
func (o AlarmOccurrence) Clear(by string, value *Value, comment string, at time.Time) (patch OccurrencePatch, changed bool) {
	if o.State == StateCleared {
		return OccurrencePatch{}, false
	}
	at = notBefore(at, o.TriggeredAt)
	state := StateCleared
	level := LevelNormal
	patch = OccurrencePatch{
		State:        &state,
		Level:        &level,
		ClearedAt:    &at,
		ClearedBy:    &by,
		ClearComment: &comment,
		UpdatedAt:    at,
	}
	if value != nil {
		v := *value
		patch.ClearedValue = &v
		patch.CurrentValue = &v
	}
	return patch, true
}

func notBefore(at, floor time.Time) time.Time {
	if at.Before(floor) {
		return floor
	}
	return at
}

// MessageData is exposed to rule message templates.
type MessageData struct {
	Name      string
	Condition string
	Value     string
	Limit     string
	Target    string
	Severity  Severity
}

// FormatMessage renders the occurrence message for a decision.
func FormatMessage(rule AlarmRule, decision Decision, value Value) string {
	data := MessageData{
		Name:      rule.Name,
		Condition: decision.Level.Condition(),
		Value:     value.String(),
		Target:    string(rule.TargetType) + ":" + rule.TargetID,
		Severity:  rule.Severity,
	}
	if decision.Threshold != nil {
		data.Limit = Number(*decision.Threshold).String()
	}
	if rule.MessageTemplate != "" {
		if msg, err := renderMessage(rule.MessageTemplate, data); err == nil {
			return msg
		}
	}
	return fmt.Sprintf("%s - %s (value: %s)", data.Name, data.Condition, data.Value)
}

func renderMessage(tpl string, data MessageData) (string, error) {
	parsed, err := template.New("alarm-message").Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := parsed.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
