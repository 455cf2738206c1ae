package application

import (
	"context"
	"time"

	alarms "alarm-engine/internal/alarms/domain"

	"github.com/google/uuid"
)

// RuleFilter narrows rule queries. Zero fields are ignored.
type RuleFilter struct {
	TenantID       string
	TargetType     alarms.TargetType
	TargetID       string
	Name           string
	RuleGroup      string
	TemplateID     string
	OnlyEnabled    bool
	IncludeDeleted bool
}

// RuleStore persists alarm rules. Get returns alarms.ErrNotFound for missing ids;
// Create returns alarms.ErrConflict when a live rule with the same tenant and name exists.
type RuleStore interface {
	Get(ctx context.Context, id string) (*alarms.AlarmRule, error)
	FindAll(ctx context.Context, filter RuleFilter) ([]alarms.AlarmRule, error)
	Create(ctx context.Context, rule *alarms.AlarmRule) error
	Update(ctx context.Context, id string, patch alarms.RulePatch, at time.Time) (*alarms.AlarmRule, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// OccurrenceFilter narrows occurrence queries. Zero fields are ignored.
type OccurrenceFilter struct {
	TenantID string
	RuleID   string
	States   []alarms.State
	From     time.Time
	To       time.Time
	Limit    int
}

// OccurrenceStore persists alarm occurrences. Create returns alarms.ErrConflict
// when the rule already has an open occurrence.
type OccurrenceStore interface {
	Get(ctx context.Context, id string) (*alarms.AlarmOccurrence, error)
	FindOpen(ctx context.Context, ruleID string) (*alarms.AlarmOccurrence, error)
	Find(ctx context.Context, filter OccurrenceFilter) ([]alarms.AlarmOccurrence, error)
	Create(ctx context.Context, occurrence *alarms.AlarmOccurrence) error
	Update(ctx context.Context, id string, patch alarms.OccurrencePatch) (*alarms.AlarmOccurrence, error)
}

// TemplateStore persists alarm templates.
type TemplateStore interface {
	Get(ctx context.Context, id string) (*alarms.AlarmTemplate, error)
	List(ctx context.Context, tenantID string) ([]alarms.AlarmTemplate, error)
	Create(ctx context.Context, template *alarms.AlarmTemplate) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	IncrementUsage(ctx context.Context, id string, n int) error
}

// EventType names a lifecycle transition.
type EventType string

const (
	EventRaised       EventType = "raised"
	EventAcknowledged EventType = "acknowledged"
	EventCleared      EventType = "cleared"
	EventLevelChanged EventType = "level_changed"
)

// Event is published after a transition has been stored.
type Event struct {
	Type         EventType              `json:"type"`
	OccurrenceID string                 `json:"occurrence_id"`
	RuleID       string                 `json:"rule_id"`
	TenantID     string                 `json:"tenant_id"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Occurrence   alarms.AlarmOccurrence `json:"occurrence"`
	Rule         *alarms.AlarmRule      `json:"rule,omitempty"`
}

// Dispatcher delivers lifecycle events. Delivery is best effort.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
}

// LastValueStore remembers the most recent value evaluated for each rule.
// Edge-triggered digital rules compare against it. LastValue returns nil
// before the first sample.
type LastValueStore interface {
	LastValue(ctx context.Context, ruleID string) (*alarms.Value, error)
	SetLastValue(ctx context.Context, ruleID string, value alarms.Value) error
}

// Locker serializes work per key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues identifiers for new records.
type IDGenerator interface {
	NewID() string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

func ruleLockKey(ruleID string) string {
	return "alarm-rule:" + ruleID
}
