package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/alarm-rules", nil)
	req.RemoteAddr = "10.0.0.5:51234"
	require.Equal(t, "10.0.0.5", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", ClientIP(req))
}

func TestZapLoggerWritesEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := NewZapLogger(zap.New(core))

	err := logger.Log(context.Background(), Entry{
		TenantID:     "tenant-1",
		Actor:        "ops-1",
		Action:       "alarm_rule.create",
		ResourceType: "alarm_rule",
		ResourceID:   "rule-1",
		Metadata:     []byte(`{"name":"Boiler"}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "alarm_rule.create", entry.Message)
	require.Equal(t, "rule-1", entry.ContextMap()["resource_id"])
	require.Equal(t, DigestJSON([]byte(`{"name":"Boiler"}`)), entry.ContextMap()["payload_digest"])
}
