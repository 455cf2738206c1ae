package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
)

const templateColumns = `id, tenant_id, name, description, condition_type, default_config,
	severity, notification_enabled, usage_count, created_at, updated_at, deleted_at`

// AlarmTemplateRepository is a Postgres repository for alarm templates.
type AlarmTemplateRepository struct {
	db *sql.DB
}

// NewAlarmTemplateRepository constructs a repository.
func NewAlarmTemplateRepository(db *sql.DB) *AlarmTemplateRepository {
	return &AlarmTemplateRepository{db: db}
}

// Get loads a template by id.
func (r *AlarmTemplateRepository) Get(ctx context.Context, id string) (*alarms.AlarmTemplate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm template repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM alarm_templates WHERE id = $1`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alarms.NotFoundf("template %s", id)
	}
	return tpl, err
}

// List returns live templates for tenant ordered by name.
func (r *AlarmTemplateRepository) List(ctx context.Context, tenantID string) ([]alarms.AlarmTemplate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm template repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+templateColumns+`
FROM alarm_templates
WHERE tenant_id = $1 AND deleted_at IS NULL
ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]alarms.AlarmTemplate, 0)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Create inserts a template.
func (r *AlarmTemplateRepository) Create(ctx context.Context, tpl *alarms.AlarmTemplate) error {
	if r == nil || r.db == nil {
		return errors.New("alarm template repo: nil db")
	}
	if tpl == nil {
		return errors.New("alarm template repo: nil template")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alarm_templates (`+templateColumns+`) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11, $12
)`, tpl.ID, tpl.TenantID, tpl.Name, tpl.Description, string(tpl.ConditionType), tpl.DefaultConfig.Bytes(),
		string(tpl.Severity), tpl.NotificationEnabled, tpl.UsageCount, tpl.CreatedAt.UTC(), tpl.UpdatedAt.UTC(), nullTime(tpl.DeletedAt))
	return mapError(err, "template %s already exists", tpl.ID)
}

// SoftDelete marks a template deleted.
func (r *AlarmTemplateRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alarm template repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE alarm_templates SET deleted_at = $2, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL`, id, at.UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return alarms.NotFoundf("template %s", id)
	}
	return nil
}

// IncrementUsage adds n to usage_count atomically.
func (r *AlarmTemplateRepository) IncrementUsage(ctx context.Context, id string, n int) error {
	if r == nil || r.db == nil {
		return errors.New("alarm template repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE alarm_templates SET usage_count = usage_count + $2, updated_at = NOW()
WHERE id = $1`, id, n)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return alarms.NotFoundf("template %s", id)
	}
	return nil
}

func scanTemplate(row scanner) (*alarms.AlarmTemplate, error) {
	var (
		tpl                     alarms.AlarmTemplate
		conditionType, severity string
		config                  []byte
		deletedAt               sql.NullTime
	)
	if err := row.Scan(
		&tpl.ID,
		&tpl.TenantID,
		&tpl.Name,
		&tpl.Description,
		&conditionType,
		&config,
		&severity,
		&tpl.NotificationEnabled,
		&tpl.UsageCount,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
		&deletedAt,
	); err != nil {
		return nil, err
	}
	cfg, err := alarms.ParseRuleConfig(config)
	if err != nil {
		return nil, err
	}
	tpl.DefaultConfig = cfg
	tpl.ConditionType = alarms.ConditionType(conditionType)
	tpl.Severity = alarms.Severity(severity)
	tpl.CreatedAt = tpl.CreatedAt.UTC()
	tpl.UpdatedAt = tpl.UpdatedAt.UTC()
	tpl.DeletedAt = timePtr(deletedAt)
	return &tpl, nil
}
