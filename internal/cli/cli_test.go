package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"alarm-engine/internal/auth"
	"alarm-engine/internal/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "alarm-engine "+Version)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "")
	t.Setenv("AUTH_JWT_SECRET", "cli-secret")

	out, err := runCommand(t, "token", "--tenant", "tenant-1", "--role", "admin", "--subject", "ops")
	require.NoError(t, err)

	claims, err := auth.ParseJWT(strings.TrimSpace(out), []byte("cli-secret"))
	require.NoError(t, err)
	require.Equal(t, "tenant-1", claims.TenantID)
	require.Equal(t, "admin", claims.Role)

	_, err = runCommand(t, "token", "--tenant", "tenant-1", "--role", "root")
	require.Error(t, err)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")

	_, err := runCommand(t, "token", "--tenant", "tenant-1")
	require.Error(t, err)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "")
	t.Setenv("ALARM_STORAGE", "memory")

	_, err := runCommand(t, "migrate")
	require.Error(t, err)
}

func TestMemoryAppServesAPI(t *testing.T) {
	cfg := config.Default()
	cfg.SweeperSpec = ""
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.broker)
	require.Equal(t, 1, a.dispatcher.Len())

	handler, err := a.router()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := `{"target_id":"pt-1","name":"Pressure high","condition_type":"threshold","high_limit":10,"severity":"minor"}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/alarm-rules", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(auth.HeaderTenant, "tenant-1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/v1/alarm-rules", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.HTTPAddr = "127.0.0.1:0"
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRedisLockNeedsClient(t *testing.T) {
	cfg := config.Default()
	cfg.Lock = "redis"
	_, err := newApp(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestOutboxWrapsExternalDispatchers(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhook.URL = hook.URL
	cfg.Events.Outbox = true
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.relay)
	require.Equal(t, 2, a.dispatcher.Len())

	cfg.Events.Outbox = false
	b, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()
	require.Nil(t, b.relay)
	require.Equal(t, 2, b.dispatcher.Len())
}
