package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	// HeaderTenant and HeaderUser carry identity when token auth is disabled.
	HeaderTenant = "X-Tenant-ID"
	HeaderUser   = "X-User-ID"
)

// Middleware validates JWTs and enforces RBAC. With an empty secret it trusts
// the tenant and user headers and grants admin; use only behind a trusted proxy.
type Middleware struct {
	Secret []byte
	Policy Policy
	Logger *zap.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy, Logger: zap.NewNop()}
}

// Wrap applies auth and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if len(m.Secret) == 0 {
			tenantID := strings.TrimSpace(r.Header.Get(HeaderTenant))
			if tenantID == "" {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", ErrMissingTenant.Error())
				return
			}
			subject := strings.TrimSpace(r.Header.Get(HeaderUser))
			if subject == "" {
				subject = "anonymous"
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), tenantID, RoleAdmin, subject)))
			return
		}

		claims, err := ParseJWT(extractBearer(r), m.Secret)
		if err != nil {
			m.logger().Debug("auth rejected", zap.String("path", r.URL.Path), zap.Error(err))
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", ErrUnauthorized.Error())
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if err := Authorize(role, required); err != nil {
			m.logger().Debug("auth forbidden", zap.String("path", r.URL.Path), zap.String("role", string(role)), zap.String("required", string(required)))
			writeAuthError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
			return
		}
		subject := claims.Subject
		if subject == "" {
			subject = string(role)
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.TenantID, role, subject)))
	})
}

func (m *Middleware) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"code":    code,
		"message": message,
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
