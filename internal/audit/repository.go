package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const defaultTable = "audit_logs"

// Repository persists audit entries next to the alarm tables.
type Repository struct {
	db     *sql.DB
	insert string
}

// RepositoryOption customizes a Repository.
type RepositoryOption func(*Repository)

// WithTable overrides the audit table name.
func WithTable(table string) RepositoryOption {
	return func(r *Repository) {
		if table != "" {
			r.insert = insertSQL(table)
		}
	}
}

// NewRepository returns nil when db is nil.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	if db == nil {
		return nil
	}
	r := &Repository{db: db, insert: insertSQL(defaultTable)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func insertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s
	(id, tenant_id, actor, role, action, resource_type, resource_id, metadata, payload_digest, ip, user_agent, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, table)
}

// Log inserts one entry; metadata defaults to an empty JSON object.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit: repository has no db")
	}
	entry = entry.normalize()
	metadata := []byte(entry.Metadata)
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	if _, err := r.db.ExecContext(ctx, r.insert,
		entry.ID, entry.TenantID, entry.Actor, entry.Role, entry.Action,
		entry.ResourceType, entry.ResourceID, metadata, entry.PayloadDigest,
		entry.IP, entry.UserAgent, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("audit insert %s: %w", entry.Action, err)
	}
	return nil
}
