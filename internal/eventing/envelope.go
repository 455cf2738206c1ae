package eventing

import (
	"encoding/json"
	"errors"
	"time"

	alarmapp "alarm-engine/internal/alarms/application"

	"github.com/google/uuid"
)

// Status of an outbox record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusDead    Status = "dead"
)

// Envelope wraps a lifecycle event with delivery metadata.
type Envelope struct {
	EventID       string             `json:"event_id"`
	EventType     alarmapp.EventType `json:"event_type"`
	TenantID      string             `json:"tenant_id"`
	RuleID        string             `json:"rule_id"`
	OccurrenceID  string             `json:"occurrence_id"`
	OccurredAt    time.Time          `json:"occurred_at"`
	SchemaVersion int                `json:"schema_version"`
	Payload       json.RawMessage    `json:"payload"`
}

// BuildEnvelope serializes event for the outbox.
func BuildEnvelope(event alarmapp.Event) (Envelope, error) {
	if event.Type == "" {
		return Envelope{}, errors.New("eventing: empty event type")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     event.Type,
		TenantID:      event.TenantID,
		RuleID:        event.RuleID,
		OccurrenceID:  event.OccurrenceID,
		OccurredAt:    occurredAt.UTC(),
		SchemaVersion: 1,
		Payload:       payload,
	}, nil
}

// Event decodes the wrapped lifecycle event.
func (e Envelope) Event() (alarmapp.Event, error) {
	var event alarmapp.Event
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return alarmapp.Event{}, err
	}
	return event, nil
}

// Record is one stored outbox entry.
type Record struct {
	ID        string
	Envelope  Envelope
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
}
