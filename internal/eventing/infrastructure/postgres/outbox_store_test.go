package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	alarmapp "alarm-engine/internal/alarms/application"
	alarmrepo "alarm-engine/internal/alarms/infrastructure/postgres"
	"alarm-engine/internal/eventing"
	eventingrepo "alarm-engine/internal/eventing/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
)

func TestOutboxStore_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, alarmrepo.Migrate(ctx, db))
	_, _ = db.ExecContext(ctx, "DELETE FROM alarm_event_outbox WHERE tenant_id = 'tenant-outbox'")

	store, err := eventingrepo.NewOutboxStore(db)
	require.NoError(t, err)

	env, err := eventing.BuildEnvelope(alarmapp.Event{
		Type:         alarmapp.EventCleared,
		OccurrenceID: "occ-1",
		RuleID:       "rule-1",
		TenantID:     "tenant-outbox",
		OccurredAt:   time.Now(),
	})
	require.NoError(t, err)
	id, err := store.Insert(ctx, env)
	require.NoError(t, err)
	_, err = store.Insert(ctx, env)
	require.NoError(t, err)

	pending, err := store.ListPending(ctx, 100)
	require.NoError(t, err)
	matches := 0
	for _, rec := range pending {
		if rec.Envelope.EventID == env.EventID {
			matches++
			require.Equal(t, id, rec.ID)
		}
	}
	require.Equal(t, 1, matches)

	require.NoError(t, store.MarkFailed(ctx, id, errors.New("timeout"), true))
	pending, err = store.ListPending(ctx, 100)
	require.NoError(t, err)
	for _, rec := range pending {
		require.NotEqual(t, env.EventID, rec.Envelope.EventID)
	}

	_, err = eventingrepo.NewOutboxStore(nil)
	require.Error(t, err)
}
