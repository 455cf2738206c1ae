package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"alarm-engine/internal/eventing"

	"github.com/google/uuid"
)

const defaultOutboxTable = "alarm_event_outbox"

// OutboxStore is a Postgres implementation for outbox records.
type OutboxStore struct {
	db    *sql.DB
	table string
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) (*OutboxStore, error) {
	if db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	store := &OutboxStore{db: db, table: defaultOutboxTable}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Insert writes an envelope as pending. Re-inserting an event id is a no-op.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	event_id,
	event_type,
	tenant_id,
	payload,
	status,
	attempts,
	created_at
) VALUES (
	$1, $2, $3, $4, $5, 'pending', 0, $6
)
ON CONFLICT (event_id)
DO NOTHING`, s.table)

	outboxID := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, query, outboxID, env.EventID, string(env.EventType), env.TenantID, payload, time.Now().UTC()); err != nil {
		return "", err
	}
	return outboxID, nil
}

// ListPending returns pending outbox records oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, payload, status, attempts, last_error, created_at
FROM %s
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT $1`, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []eventing.Record
	for rows.Next() {
		var (
			rec     eventing.Record
			payload []byte
			status  string
		)
		if err := rows.Scan(&rec.ID, &payload, &status, &rec.Attempts, &rec.LastError, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &rec.Envelope); err != nil {
			return nil, err
		}
		rec.Status = eventing.Status(status)
		rec.CreatedAt = rec.CreatedAt.UTC()
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSent marks an outbox record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'sent', sent_at = $1
WHERE id = $2`, s.table)
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

// MarkFailed increments attempts; dead records leave the pending set.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, cause error, dead bool) error {
	status := eventing.StatusPending
	if dead {
		status = eventing.StatusDead
	}
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, attempts = attempts + 1, last_error = $2
WHERE id = $3`, s.table)
	_, err := s.db.ExecContext(ctx, query, string(status), lastError, id)
	return err
}
