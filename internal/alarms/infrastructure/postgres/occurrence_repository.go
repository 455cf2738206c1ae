package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

const occurrenceColumns = `id, rule_id, tenant_id, state, level, severity, message,
	trigger_value, current_value, threshold_value, triggered_at,
	acknowledged_at, acknowledged_by, acknowledge_comment,
	cleared_at, cleared_by, cleared_value, clear_comment, updated_at`

// AlarmOccurrenceRepository stores occurrences. A partial unique index keeps
// one open occurrence per rule.
type AlarmOccurrenceRepository struct {
	db *sql.DB
}

// NewAlarmOccurrenceRepository constructs a repository.
func NewAlarmOccurrenceRepository(db *sql.DB) *AlarmOccurrenceRepository {
	return &AlarmOccurrenceRepository{db: db}
}

// Get loads an occurrence.
func (r *AlarmOccurrenceRepository) Get(ctx context.Context, id string) (*alarms.AlarmOccurrence, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm occurrence repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+occurrenceColumns+` FROM alarm_occurrences WHERE id = $1`, id)
	occ, err := scanOccurrence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alarms.NotFoundf("occurrence %s", id)
	}
	return occ, err
}

// FindOpen returns the rule's open occurrence or nil.
func (r *AlarmOccurrenceRepository) FindOpen(ctx context.Context, ruleID string) (*alarms.AlarmOccurrence, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm occurrence repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+occurrenceColumns+`
FROM alarm_occurrences
WHERE rule_id = $1 AND state <> 'cleared'
LIMIT 1`, ruleID)
	occ, err := scanOccurrence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return occ, err
}

// Find returns occurrences matching filter, newest first.
func (r *AlarmOccurrenceRepository) Find(ctx context.Context, filter application.OccurrenceFilter) ([]alarms.AlarmOccurrence, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm occurrence repo: nil db")
	}
	var q queryBuilder
	if filter.TenantID != "" {
		q.add("tenant_id = $%d", filter.TenantID)
	}
	if filter.RuleID != "" {
		q.add("rule_id = $%d", filter.RuleID)
	}
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, state := range filter.States {
			states = append(states, string(state))
		}
		q.add("state = ANY($%d)", states)
	}
	if !filter.From.IsZero() {
		q.add("triggered_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q.add("triggered_at <= $%d", filter.To.UTC())
	}
	query := `SELECT ` + occurrenceColumns + ` FROM alarm_occurrences` + q.clause() + ` ORDER BY triggered_at DESC, id DESC`
	if filter.Limit > 0 {
		q.args = append(q.args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(q.args))
	}
	rows, err := r.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]alarms.AlarmOccurrence, 0)
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *occ)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Create inserts an occurrence; a second open occurrence for the rule is a conflict.
func (r *AlarmOccurrenceRepository) Create(ctx context.Context, occ *alarms.AlarmOccurrence) error {
	if r == nil || r.db == nil {
		return errors.New("alarm occurrence repo: nil db")
	}
	if occ == nil {
		return errors.New("alarm occurrence repo: nil occurrence")
	}
	trigger, current, cleared, err := occurrenceValues(*occ)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alarm_occurrences (`+occurrenceColumns+`) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11,
	$12, $13, $14,
	$15, $16, $17, $18, $19
)`,
		occ.ID, occ.RuleID, occ.TenantID, string(occ.State), string(occ.Level), string(occ.Severity), occ.Message,
		trigger, current, nullFloat(occ.ThresholdValue), occ.TriggeredAt.UTC(),
		nullTime(occ.AcknowledgedAt), occ.AcknowledgedBy, occ.AcknowledgeComment,
		nullTime(occ.ClearedAt), occ.ClearedBy, cleared, occ.ClearComment, occ.UpdatedAt.UTC())
	return mapError(err, "rule %s already has an open occurrence", occ.RuleID)
}

// Update applies patch inside a transaction holding the row lock.
func (r *AlarmOccurrenceRepository) Update(ctx context.Context, id string, patch alarms.OccurrencePatch) (*alarms.AlarmOccurrence, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm occurrence repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+occurrenceColumns+` FROM alarm_occurrences WHERE id = $1 FOR UPDATE`, id)
	current, err := scanOccurrence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alarms.NotFoundf("occurrence %s", id)
	}
	if err != nil {
		return nil, err
	}
	next := current.Apply(patch)
	_, currentValue, clearedValue, err := occurrenceValues(next)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
UPDATE alarm_occurrences SET
	state = $2, level = $3, current_value = $4, threshold_value = $5,
	acknowledged_at = $6, acknowledged_by = $7, acknowledge_comment = $8,
	cleared_at = $9, cleared_by = $10, cleared_value = $11, clear_comment = $12,
	updated_at = $13
WHERE id = $1`,
		id, string(next.State), string(next.Level), currentValue, nullFloat(next.ThresholdValue),
		nullTime(next.AcknowledgedAt), next.AcknowledgedBy, next.AcknowledgeComment,
		nullTime(next.ClearedAt), next.ClearedBy, clearedValue, next.ClearComment,
		next.UpdatedAt.UTC())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &next, nil
}

func occurrenceValues(occ alarms.AlarmOccurrence) (trigger, current []byte, cleared any, err error) {
	if trigger, err = json.Marshal(occ.TriggerValue); err != nil {
		return nil, nil, nil, err
	}
	if current, err = json.Marshal(occ.CurrentValue); err != nil {
		return nil, nil, nil, err
	}
	if occ.ClearedValue != nil {
		raw, err := json.Marshal(*occ.ClearedValue)
		if err != nil {
			return nil, nil, nil, err
		}
		cleared = raw
	}
	return trigger, current, cleared, nil
}

func scanOccurrence(row scanner) (*alarms.AlarmOccurrence, error) {
	var (
		occ                       alarms.AlarmOccurrence
		state, level, severity    string
		trigger, current          []byte
		cleared                   []byte
		threshold                 sql.NullFloat64
		acknowledgedAt, clearedAt sql.NullTime
	)
	if err := row.Scan(
		&occ.ID,
		&occ.RuleID,
		&occ.TenantID,
		&state,
		&level,
		&severity,
		&occ.Message,
		&trigger,
		&current,
		&threshold,
		&occ.TriggeredAt,
		&acknowledgedAt,
		&occ.AcknowledgedBy,
		&occ.AcknowledgeComment,
		&clearedAt,
		&occ.ClearedBy,
		&cleared,
		&occ.ClearComment,
		&occ.UpdatedAt,
	); err != nil {
		return nil, err
	}
	occ.State = alarms.State(state)
	occ.Level = alarms.Level(level)
	occ.Severity = alarms.Severity(severity)
	if err := json.Unmarshal(trigger, &occ.TriggerValue); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(current, &occ.CurrentValue); err != nil {
		return nil, err
	}
	if len(cleared) > 0 {
		var v alarms.Value
		if err := json.Unmarshal(cleared, &v); err != nil {
			return nil, err
		}
		occ.ClearedValue = &v
	}
	occ.ThresholdValue = floatPtr(threshold)
	occ.TriggeredAt = occ.TriggeredAt.UTC()
	occ.UpdatedAt = occ.UpdatedAt.UTC()
	occ.AcknowledgedAt = timePtr(acknowledgedAt)
	occ.ClearedAt = timePtr(clearedAt)
	return &occ, nil
}
