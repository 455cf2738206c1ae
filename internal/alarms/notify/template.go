package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Alarm {{.EventLabel}}] {{.Rule}}
Target: {{.Target}}
Level: {{.Level}}
Value: {{.Value}}
{{- if .Threshold }}
Limit: {{.Threshold}}
{{- end }}
Triggered: {{.TriggeredAt}}
State: {{.State}}
Severity: {{.Severity}}
Message: {{.Message}}
Suggestion: {{.Suggestion}}
{{- if .AcknowledgedBy }}
Acknowledged by: {{.AcknowledgedBy}}
{{- end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Tenant         string
	Target         string
	Rule           string
	RuleID         string
	OccurrenceID   string
	Level          string
	Value          string
	Threshold      string
	TriggeredAt    string
	State          string
	Severity       string
	Message        string
	AcknowledgedBy string
	Suggestion     string
	Event          string
	EventLabel     string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alarm-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alarm template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
