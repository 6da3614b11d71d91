package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opsboard/opsboard-backend/internal/directory"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/httputil"
	"github.com/opsboard/opsboard-backend/pkg/logger"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// Middleware recovers the principal from the session cookie, resolves the
// active tenant, loads the membership role, and injects the tenant scope.
type Middleware struct {
	sessions  *Sessions
	directory *directory.Repository
	logger    *logger.Logger
}

// NewMiddleware creates the auth middleware
func NewMiddleware(sessions *Sessions, dir *directory.Repository, log *logger.Logger) *Middleware {
	return &Middleware{
		sessions:  sessions,
		directory: dir,
		logger:    log,
	}
}

// Authenticate validates the session and scopes the request to the active
// tenant. URL-scoped routes (/t/{slug}/...) override the session tenant; a
// slug the principal has no membership in reads as 404 so foreign tenants are
// indistinguishable from absent ones.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := m.sessions.TokenFromRequest(r)
		if err != nil {
			httputil.Error(w, err)
			return
		}

		claims, err := m.sessions.Verify(token)
		if err != nil {
			httputil.Error(w, err)
			return
		}

		tenantID := claims.TenantID

		// UI-facing routes carry the tenant in the path.
		if slug := chi.URLParam(r, "tenantSlug"); slug != "" {
			t, err := m.directory.GetTenantBySlug(r.Context(), slug)
			if err != nil {
				httputil.Error(w, err)
				return
			}
			tenantID = t.ID
		}

		if tenantID == "" {
			httputil.Error(w, errors.Unauthorized("no active tenant"))
			return
		}

		membership, err := m.directory.GetMembership(r.Context(), claims.UserID, tenantID)
		if err != nil {
			httputil.Error(w, err)
			return
		}

		scope := tenant.Context{
			TenantID: tenantID,
			UserID:   claims.UserID,
			Role:     membership.Role,
		}

		ctx := tenant.NewContext(r.Context(), scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireWriter rejects viewers on mutation routes.
func RequireWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, err := tenant.FromContext(r.Context())
		if err != nil {
			httputil.Error(w, errors.Unauthorized("authentication required"))
			return
		}

		if !scope.Role.CanWrite() {
			httputil.Error(w, errors.Forbidden("requires engineer or admin role"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAdmin gates admin-only routes (audit logs, shared-view deletes).
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, err := tenant.FromContext(r.Context())
		if err != nil {
			httputil.Error(w, errors.Unauthorized("authentication required"))
			return
		}

		if !scope.Role.IsAdmin() {
			httputil.Error(w, errors.Forbidden("requires admin role"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Principal resolves the rate-limit identity for a request: the session
// subject when present, the remote address otherwise.
func (m *Middleware) Principal(r *http.Request) string {
	token, err := m.sessions.TokenFromRequest(r)
	if err != nil {
		return ""
	}
	claims, err := m.sessions.Verify(token)
	if err != nil {
		return ""
	}
	return claims.UserID
}
