package auth

import (
	"net/http"

	"github.com/opsboard/opsboard-backend/internal/directory"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/httputil"
	"github.com/opsboard/opsboard-backend/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// Handler exposes the session endpoints. The domain core only consumes the
// authenticated principal; this handler is the collaborator that mints it.
type Handler struct {
	sessions  *Sessions
	directory *directory.Repository
	logger    *logger.Logger
}

// NewHandler creates a new auth handler
func NewHandler(sessions *Sessions, dir *directory.Repository, log *logger.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		directory: dir,
		logger:    log,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	// TenantSlug selects the active tenant; defaults to the user's first
	// membership when omitted.
	TenantSlug string `json:"tenant_slug"`
}

type sessionResponse struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	TenantID   string `json:"tenant_id"`
	TenantSlug string `json:"tenant_slug"`
	Role       string `json:"role"`
}

// Login verifies credentials and issues the session cookie.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	user, err := h.directory.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		// Same response for unknown email and wrong password.
		httputil.Error(w, errors.Unauthorized("invalid email or password"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		httputil.Error(w, errors.Unauthorized("invalid email or password"))
		return
	}

	activeTenant, membership, err := h.resolveTenant(r, user.ID, req.TenantSlug)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	token, expiresAt, err := h.sessions.Issue(&SessionUser{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		TenantID:   activeTenant.ID,
		TenantSlug: activeTenant.Slug,
	})
	if err != nil {
		httputil.Error(w, errors.Internal("failed to issue session"))
		return
	}

	h.sessions.SetCookie(w, token, expiresAt)
	h.logger.Info().Str("user_id", user.ID).Str("tenant_id", activeTenant.ID).Msg("user logged in")

	httputil.JSON(w, http.StatusOK, sessionResponse{
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.Name,
		TenantID:   activeTenant.ID,
		TenantSlug: activeTenant.Slug,
		Role:       string(membership.Role),
	})
}

// Logout clears the session cookie.
// POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	httputil.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

type switchTenantRequest struct {
	TenantSlug string `json:"tenant_slug" validate:"required"`
}

// SwitchTenant re-issues the session cookie for another membership.
// POST /api/auth/switch-tenant
func (h *Handler) SwitchTenant(w http.ResponseWriter, r *http.Request) {
	token, err := h.sessions.TokenFromRequest(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	claims, err := h.sessions.Verify(token)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req switchTenantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	activeTenant, membership, err := h.resolveTenant(r, claims.UserID, req.TenantSlug)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	newToken, expiresAt, err := h.sessions.Issue(&SessionUser{
		ID:         claims.UserID,
		Email:      claims.Email,
		Name:       claims.Name,
		TenantID:   activeTenant.ID,
		TenantSlug: activeTenant.Slug,
	})
	if err != nil {
		httputil.Error(w, errors.Internal("failed to issue session"))
		return
	}

	h.sessions.SetCookie(w, newToken, expiresAt)

	httputil.JSON(w, http.StatusOK, sessionResponse{
		UserID:     claims.UserID,
		Email:      claims.Email,
		Name:       claims.Name,
		TenantID:   activeTenant.ID,
		TenantSlug: activeTenant.Slug,
		Role:       string(membership.Role),
	})
}

// resolveTenant picks the active tenant for a session: the named slug when
// given, otherwise the user's first membership. Membership is always
// verified.
func (h *Handler) resolveTenant(r *http.Request, userID, slug string) (*directory.Tenant, *directory.Membership, error) {
	if slug != "" {
		t, err := h.directory.GetTenantBySlug(r.Context(), slug)
		if err != nil {
			return nil, nil, err
		}
		m, err := h.directory.GetMembership(r.Context(), userID, t.ID)
		if err != nil {
			return nil, nil, err
		}
		return t, m, nil
	}

	memberships, err := h.directory.ListMembershipsForUser(r.Context(), userID)
	if err != nil {
		return nil, nil, err
	}
	if len(memberships) == 0 {
		return nil, nil, errors.Forbidden("user has no tenant memberships")
	}

	t, err := h.directory.GetTenantByID(r.Context(), memberships[0].TenantID)
	if err != nil {
		return nil, nil, err
	}
	return t, memberships[0], nil
}
