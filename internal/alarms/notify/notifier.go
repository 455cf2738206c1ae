package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"

	"go.uber.org/zap"
)

// OccurrenceReader reloads an occurrence before escalating it.
type OccurrenceReader interface {
	Get(ctx context.Context, id string) (*alarms.AlarmOccurrence, error)
}

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

const eventEscalated = "escalated"

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders lifecycle events and sends them through a Channel.
// Occurrences of escalation severity that stay unacknowledged past the
// escalation delay are sent again as "escalated".
type Notifier struct {
	occurrences    OccurrenceReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	escalateAt     alarms.Severity
	clock          Clock
	logger         *zap.Logger
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures escalation delay. Zero disables escalation.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithEscalationSeverity sets the lowest severity that escalates.
func WithEscalationSeverity(severity alarms.Severity) Option {
	return func(n *Notifier) {
		if severity.Valid() {
			n.escalateAt = severity
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger sets the notifier logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithRequestTimeout overrides the default timeout for escalation checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same occurrence and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs a notifier. occurrences may be nil when escalation is off.
func NewNotifier(occurrences OccurrenceReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		occurrences:    occurrences,
		channel:        channel,
		template:       template,
		escalateAt:     alarms.SeverityMajor,
		clock:          systemClock{},
		logger:         zap.NewNop(),
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.escalation > 0 && n.occurrences == nil {
		return nil, errors.New("alarm notifier: escalation needs an occurrence reader")
	}
	return n, nil
}

// Publish implements application.Dispatcher.
func (n *Notifier) Publish(ctx context.Context, event application.Event) error {
	if n == nil || n.channel == nil {
		return nil
	}
	if event.Rule != nil && !event.Rule.NotificationEnabled {
		return nil
	}
	err := n.dispatch(ctx, string(event.Type), event.Occurrence, event.Rule)

	switch event.Type {
	case application.EventRaised, application.EventLevelChanged:
		if event.Occurrence.State == alarms.StateActive {
			n.scheduleEscalation(event.Occurrence, event.Rule)
		}
	case application.EventAcknowledged, application.EventCleared:
		n.cancelEscalation(event.OccurrenceID)
	}
	return err
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, occ alarms.AlarmOccurrence, rule *alarms.AlarmRule) error {
	content, err := n.template.Render(buildTemplateData(eventType, occ, rule))
	if err != nil {
		return err
	}
	if !n.shouldSend(occ.ID, eventType, content) {
		return nil
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return err
	}
	n.markSent(occ.ID, eventType, content)
	return nil
}

func (n *Notifier) scheduleEscalation(occ alarms.AlarmOccurrence, rule *alarms.AlarmRule) {
	if n.escalation <= 0 || occ.ID == "" {
		return
	}
	if !occ.Severity.AtLeast(n.escalateAt) {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[occ.ID]; ok && existing != nil {
		existing.Stop()
	}
	id := occ.ID
	n.timers[id] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(id, rule)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(occurrenceID string) {
	if occurrenceID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[occurrenceID]
	delete(n.timers, occurrenceID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(occurrenceID string, rule *alarms.AlarmRule) {
	n.mu.Lock()
	delete(n.timers, occurrenceID)
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.requestTimeout)
	defer cancel()

	occ, err := n.occurrences.Get(ctx, occurrenceID)
	if err != nil || occ == nil {
		n.logger.Warn("escalation lookup failed", zap.String("occurrence_id", occurrenceID), zap.Error(err))
		return
	}
	// Only still-unhandled occurrences escalate.
	if occ.State != alarms.StateActive {
		return
	}
	if err := n.dispatch(ctx, eventEscalated, *occ, rule); err != nil {
		n.logger.Warn("escalation send failed", zap.String("occurrence_id", occurrenceID), zap.Error(err))
	}
}

func buildTemplateData(eventType string, occ alarms.AlarmOccurrence, rule *alarms.AlarmRule) TemplateData {
	data := TemplateData{
		Tenant:         occ.TenantID,
		Rule:           occ.RuleID,
		RuleID:         occ.RuleID,
		OccurrenceID:   occ.ID,
		Level:          occ.Level.Condition(),
		Value:          occ.CurrentValue.String(),
		TriggeredAt:    occ.TriggeredAt.UTC().Format(time.RFC3339),
		State:          string(occ.State),
		Severity:       string(occ.Severity),
		Message:        occ.Message,
		AcknowledgedBy: occ.AcknowledgedBy,
		Suggestion:     suggestionFor(occ.Severity),
		Event:          eventType,
		EventLabel:     eventLabel(eventType),
	}
	if occ.ThresholdValue != nil {
		data.Threshold = alarms.Number(*occ.ThresholdValue).String()
	}
	if rule != nil {
		if rule.Name != "" {
			data.Rule = rule.Name
		}
		data.Target = string(rule.TargetType) + ":" + rule.TargetID
	}
	return data
}

func eventLabel(event string) string {
	switch event {
	case string(application.EventRaised):
		return "Triggered"
	case string(application.EventLevelChanged):
		return "Level Changed"
	case string(application.EventAcknowledged):
		return "Acknowledged"
	case string(application.EventCleared):
		return "Cleared"
	case eventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(severity alarms.Severity) string {
	switch {
	case severity.AtLeast(alarms.SeverityMajor):
		return "Investigate immediately and mitigate risk."
	case severity.AtLeast(alarms.SeverityMinor):
		return "Verify the condition and take action if needed."
	default:
		return "Monitor the alarm condition."
	}
}

func (n *Notifier) shouldSend(occurrenceID, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(occurrenceID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(occurrenceID, eventType, content string) {
	key := notificationKey(occurrenceID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(occurrenceID, eventType string) string {
	return occurrenceID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
