package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

const ruleColumns = `id, tenant_id, target_type, target_id, name, description, condition_type,
	high_high_limit, high_limit, low_limit, low_low_limit, deadband, rate_of_change,
	trigger_condition, condition_script, message_template, severity,
	auto_acknowledge, auto_clear, is_enabled, is_latched, acknowledge_timeout_min, notification_enabled,
	template_id, rule_group, created_at, updated_at, deleted_at`

// AlarmRuleRepository is a Postgres repository for alarm rules.
type AlarmRuleRepository struct {
	db *sql.DB
}

// NewAlarmRuleRepository constructs a repository.
func NewAlarmRuleRepository(db *sql.DB) *AlarmRuleRepository {
	return &AlarmRuleRepository{db: db}
}

// Get loads a rule by id, including soft-deleted rules.
func (r *AlarmRuleRepository) Get(ctx context.Context, id string) (*alarms.AlarmRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm rule repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alarm_rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alarms.NotFoundf("rule %s", id)
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// FindAll returns rules matching filter ordered by creation time.
func (r *AlarmRuleRepository) FindAll(ctx context.Context, filter application.RuleFilter) ([]alarms.AlarmRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm rule repo: nil db")
	}
	var q queryBuilder
	if filter.TenantID != "" {
		q.add("tenant_id = $%d", filter.TenantID)
	}
	if filter.TargetType != "" {
		q.add("target_type = $%d", string(filter.TargetType))
	}
	if filter.TargetID != "" {
		q.add("target_id = $%d", filter.TargetID)
	}
	if filter.Name != "" {
		q.add("name = $%d", filter.Name)
	}
	if filter.RuleGroup != "" {
		q.add("rule_group = $%d", filter.RuleGroup)
	}
	if filter.TemplateID != "" {
		q.add("template_id = $%d", filter.TemplateID)
	}
	if filter.OnlyEnabled {
		q.addRaw("is_enabled = TRUE")
	}
	if !filter.IncludeDeleted {
		q.addRaw("deleted_at IS NULL")
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM alarm_rules`+q.clause()+` ORDER BY created_at ASC, id ASC`, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]alarms.AlarmRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Create inserts an alarm rule.
func (r *AlarmRuleRepository) Create(ctx context.Context, rule *alarms.AlarmRule) error {
	if r == nil || r.db == nil {
		return errors.New("alarm rule repo: nil db")
	}
	if rule == nil {
		return errors.New("alarm rule repo: nil rule")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alarm_rules (`+ruleColumns+`) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13,
	$14, $15, $16, $17,
	$18, $19, $20, $21, $22, $23,
	$24, $25, $26, $27, $28
)`, ruleArgs(rule)...)
	return mapError(err, "rule name %q already exists", rule.Name)
}

// Update applies patch inside a transaction holding the row lock.
func (r *AlarmRuleRepository) Update(ctx context.Context, id string, patch alarms.RulePatch, at time.Time) (*alarms.AlarmRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm rule repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alarm_rules WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
	current, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alarms.NotFoundf("rule %s", id)
	}
	if err != nil {
		return nil, err
	}
	next := current.Apply(patch)
	next.UpdatedAt = at.UTC()

	_, err = tx.ExecContext(ctx, `
UPDATE alarm_rules SET
	name = $2, description = $3,
	high_high_limit = $4, high_limit = $5, low_limit = $6, low_low_limit = $7,
	deadband = $8, rate_of_change = $9,
	trigger_condition = $10, condition_script = $11, message_template = $12, severity = $13,
	auto_acknowledge = $14, auto_clear = $15, is_enabled = $16, is_latched = $17,
	acknowledge_timeout_min = $18, notification_enabled = $19, updated_at = $20
WHERE id = $1`,
		id, next.Name, next.Description,
		nullFloat(next.HighHighLimit), nullFloat(next.HighLimit), nullFloat(next.LowLimit), nullFloat(next.LowLowLimit),
		next.Deadband, nullFloat(next.RateOfChange),
		next.TriggerCondition, next.ConditionScript, next.MessageTemplate, string(next.Severity),
		next.AutoAcknowledge, next.AutoClear, next.IsEnabled, next.IsLatched,
		next.AcknowledgeTimeoutMin, next.NotificationEnabled, next.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "rule name %q already exists", next.Name)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &next, nil
}

// SoftDelete disables and marks a rule deleted.
func (r *AlarmRuleRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alarm rule repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE alarm_rules SET is_enabled = FALSE, deleted_at = $2, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL`, id, at.UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return alarms.NotFoundf("rule %s", id)
	}
	return nil
}

func ruleArgs(rule *alarms.AlarmRule) []any {
	return []any{
		rule.ID, rule.TenantID, string(rule.TargetType), rule.TargetID, rule.Name, rule.Description, string(rule.ConditionType),
		nullFloat(rule.HighHighLimit), nullFloat(rule.HighLimit), nullFloat(rule.LowLimit), nullFloat(rule.LowLowLimit),
		rule.Deadband, nullFloat(rule.RateOfChange),
		rule.TriggerCondition, rule.ConditionScript, rule.MessageTemplate, string(rule.Severity),
		rule.AutoAcknowledge, rule.AutoClear, rule.IsEnabled, rule.IsLatched, rule.AcknowledgeTimeoutMin, rule.NotificationEnabled,
		rule.TemplateID, rule.RuleGroup, rule.CreatedAt.UTC(), rule.UpdatedAt.UTC(), nullTime(rule.DeletedAt),
	}
}

func scanRule(row scanner) (*alarms.AlarmRule, error) {
	var (
		rule                                  alarms.AlarmRule
		targetType, conditionType, severity   string
		highHigh, high, low, lowLow, rateOfCh sql.NullFloat64
		deletedAt                             sql.NullTime
	)
	if err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&targetType,
		&rule.TargetID,
		&rule.Name,
		&rule.Description,
		&conditionType,
		&highHigh,
		&high,
		&low,
		&lowLow,
		&rule.Deadband,
		&rateOfCh,
		&rule.TriggerCondition,
		&rule.ConditionScript,
		&rule.MessageTemplate,
		&severity,
		&rule.AutoAcknowledge,
		&rule.AutoClear,
		&rule.IsEnabled,
		&rule.IsLatched,
		&rule.AcknowledgeTimeoutMin,
		&rule.NotificationEnabled,
		&rule.TemplateID,
		&rule.RuleGroup,
		&rule.CreatedAt,
		&rule.UpdatedAt,
		&deletedAt,
	); err != nil {
		return nil, err
	}
	rule.TargetType = alarms.TargetType(targetType)
	rule.ConditionType = alarms.ConditionType(conditionType)
	rule.Severity = alarms.Severity(severity)
	rule.HighHighLimit = floatPtr(highHigh)
	rule.HighLimit = floatPtr(high)
	rule.LowLimit = floatPtr(low)
	rule.LowLowLimit = floatPtr(lowLow)
	rule.RateOfChange = floatPtr(rateOfCh)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	rule.DeletedAt = timePtr(deletedAt)
	return &rule, nil
}
