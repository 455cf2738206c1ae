package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	alarmapp "alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/audit"
	"alarm-engine/internal/auth"
	"alarm-engine/internal/observability/metrics"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	timeLayout   = time.RFC3339
	maxBodyBytes = 1 << 20
)

// Services are the application services exposed over HTTP.
type Services struct {
	Rules      *alarmapp.RuleService
	Alarms     *alarmapp.Service
	Templates  *alarmapp.TemplateService
	Statistics *alarmapp.StatisticsService
}

// Handler provides alarm HTTP endpoints.
type Handler struct {
	rules      *alarmapp.RuleService
	alarms     *alarmapp.Service
	templates  *alarmapp.TemplateService
	statistics *alarmapp.StatisticsService
	stream     *SSEBroker
	audit      audit.Logger
	logger     *zap.Logger
	validate   *validator.Validate
	mux        *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithAuditLogger records mutations.
func WithAuditLogger(logger audit.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.audit = logger
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithStream enables GET /api/v1/alarms/stream.
func WithStream(broker *SSEBroker) Option {
	return func(h *Handler) {
		h.stream = broker
	}
}

// NewHandler constructs a handler.
func NewHandler(services Services, opts ...Option) (*Handler, error) {
	if services.Rules == nil || services.Alarms == nil || services.Templates == nil || services.Statistics == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	h := &Handler{
		rules:      services.Rules,
		alarms:     services.Alarms,
		templates:  services.Templates,
		statistics: services.Statistics,
		logger:     zap.NewNop(),
		validate:   newValidator(),
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.routes()
	return h, nil
}

func (h *Handler) routes() {
	h.handle("GET /api/v1/alarm-rules", h.listRules)
	h.handle("POST /api/v1/alarm-rules", h.createRule)
	h.handle("POST /api/v1/alarm-rules/bulk-update", h.bulkUpdateRules)
	h.handle("GET /api/v1/alarm-rules/{id}", h.getRule)
	h.handle("PATCH /api/v1/alarm-rules/{id}", h.updateRule)
	h.handle("DELETE /api/v1/alarm-rules/{id}", h.deleteRule)
	h.handle("POST /api/v1/alarm-rules/{id}/evaluate", h.evaluateRule)
	h.handle("GET /api/v1/alarm-rules/{id}/statistics", h.ruleStatistics)
	h.handle("POST /api/v1/targets/{type}/{id}/values", h.targetValue)

	h.handle("GET /api/v1/alarms", h.listAlarms)
	h.handle("GET /api/v1/alarms/{id}", h.getAlarm)
	h.handle("POST /api/v1/alarms/{id}/ack", h.acknowledgeAlarm)
	h.handle("POST /api/v1/alarms/{id}/clear", h.clearAlarm)
	if h.stream != nil {
		h.mux.Handle("GET /api/v1/alarms/stream", NewStreamHandler(h.stream))
	}

	h.handle("GET /api/v1/alarm-templates", h.listTemplates)
	h.handle("POST /api/v1/alarm-templates", h.createTemplate)
	h.handle("GET /api/v1/alarm-templates/{id}", h.getTemplate)
	h.handle("DELETE /api/v1/alarm-templates/{id}", h.deleteTemplate)
	h.handle("POST /api/v1/alarm-templates/{id}/apply", h.applyTemplate)
	h.handle("DELETE /api/v1/alarm-rule-groups/{group}", h.revertRuleGroup)
}

// handle registers fn and counts responses per route pattern.
func (h *Handler) handle(pattern string, fn http.HandlerFunc) {
	h.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, r)
		metrics.IncHTTPRequest(pattern, strconv.Itoa(sw.status))
	})
}

// ServeHTTP dispatches /api/v1 alarm routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// tenantFrom resolves the caller's tenant from the auth identity, falling back
// to the tenant header when no auth middleware ran.
func tenantFrom(r *http.Request) (string, error) {
	if tenantID := auth.TenantIDFromContext(r.Context()); tenantID != "" {
		return tenantID, nil
	}
	if tenantID := strings.TrimSpace(r.Header.Get(auth.HeaderTenant)); tenantID != "" {
		return tenantID, nil
	}
	return "", alarms.Validationf("tenant is required")
}

func actorFrom(r *http.Request) string {
	if subject := auth.SubjectFromContext(r.Context()); subject != "" {
		return subject
	}
	if user := strings.TrimSpace(r.Header.Get(auth.HeaderUser)); user != "" {
		return user
	}
	return "anonymous"
}

// decode reads a JSON body into dst and validates it. The raw body is
// returned for auditing.
func (h *Handler) decode(r *http.Request, dst any) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, alarms.Validationf("read body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return nil, alarms.Validationf("body exceeds %d bytes", maxBodyBytes)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		if errors.Is(err, alarms.ErrValidation) {
			return nil, err
		}
		return nil, alarms.Validationf("invalid JSON body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return nil, validationError(err)
	}
	return body, nil
}

func (h *Handler) recordAudit(r *http.Request, action, resourceType, resourceID string, metadata []byte) {
	if h.audit == nil {
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	entry := audit.Entry{
		TenantID:     id.TenantID,
		Actor:        actorFrom(r),
		Role:         string(id.Role),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     json.RawMessage(metadata),
	}.FromRequest(r)
	if entry.TenantID == "" {
		entry.TenantID, _ = tenantFrom(r)
	}
	if len(metadata) > 0 {
		entry.PayloadDigest = audit.DigestJSON(metadata)
	}
	if err := h.audit.Log(r.Context(), entry); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func statusFor(err error) int {
	switch alarms.CodeOf(err) {
	case alarms.CodeValidation:
		return http.StatusBadRequest
	case alarms.CodeNotFound:
		return http.StatusNotFound
	case alarms.CodeConflict:
		return http.StatusConflict
	case alarms.CodeDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("alarm api failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, alarmapp.Fail(err))
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, alarmapp.OK(data))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, alarms.Validationf("%s must be RFC3339", key)
	}
	return parsed.UTC(), nil
}

func parseIntQuery(r *http.Request, key string) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, alarms.Validationf("%s must be an integer", key)
	}
	return n, nil
}

func parseBoolQuery(r *http.Request, key string) (bool, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, alarms.Validationf("%s must be a boolean", key)
	}
	return b, nil
}
