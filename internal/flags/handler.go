package flags

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/httputil"
	"github.com/opsboard/opsboard-backend/pkg/logger"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// Handler exposes feature flag operations over HTTP.
type Handler struct {
	service *Service
	logger  *logger.Logger
}

// NewHandler creates a new flags handler
func NewHandler(svc *Service, log *logger.Logger) *Handler {
	return &Handler{
		service: svc,
		logger:  log.WithComponent("flags-handler"),
	}
}

type createFlagRequest struct {
	Key         string `json:"key" validate:"required,min=1,max=100"`
	Name        string `json:"name" validate:"required,min=1,max=100"`
	Description string `json:"description" validate:"max=500"`
	Enabled     bool   `json:"enabled"`
	Environment string `json:"environment" validate:"required,oneof=DEV STAGING PROD"`
}

// Create handles POST /feature-flags
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	var req createFlagRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	flag, err := h.service.CreateFlag(r.Context(), scope, CreateFlagInput{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     req.Enabled,
		Environment: req.Environment,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, flag)
}

// List handles GET /feature-flags
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	flagList, err := h.service.ListFlags(r.Context(), scope, r.URL.Query().Get("environment"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if flagList == nil {
		flagList = []*FeatureFlag{}
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{"flags": flagList})
}

// Get handles GET /feature-flags/{flagID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	flag, rules, err := h.service.GetFlag(r.Context(), scope, chi.URLParam(r, "flagID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if rules == nil {
		rules = []*Rule{}
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"flag":  flag,
		"rules": rules,
	})
}

type updateFlagRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

// Update handles PATCH /feature-flags/{flagID}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	var req updateFlagRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	flag, err := h.service.UpdateFlag(r.Context(), scope, chi.URLParam(r, "flagID"), FlagUpdate{
		Name:        req.Name,
		Description: req.Description,
		Enabled:     req.Enabled,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, flag)
}

// Delete handles DELETE /feature-flags/{flagID}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	if err := h.service.DeleteFlag(r.Context(), scope, chi.URLParam(r, "flagID")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, nil)
}

type addRuleRequest struct {
	Type      string          `json:"type" validate:"required,oneof=ALLOWLIST PERCENT_ROLLOUT AND OR"`
	Condition json.RawMessage `json:"condition" validate:"required"`
	Order     int             `json:"order" validate:"min=0"`
}

// AddRule handles POST /feature-flags/{flagID}/rules
func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	var req addRuleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	rule, err := h.service.AddRule(r.Context(), scope, chi.URLParam(r, "flagID"), req.Type, req.Condition, req.Order)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, rule)
}

// DeleteRule handles DELETE /feature-flags/{flagID}/rules/{ruleID}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	err = h.service.DeleteRule(r.Context(), scope, chi.URLParam(r, "flagID"), chi.URLParam(r, "ruleID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, nil)
}

type evaluateRequest struct {
	UserID      string `json:"user_id" validate:"required,min=1,max=200"`
	Environment string `json:"environment" validate:"required,oneof=DEV STAGING PROD"`
	Service     string `json:"service,omitempty" validate:"omitempty,max=100"`
}

// Evaluate handles POST /feature-flags/{flagID}/evaluate
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	var req evaluateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.EvaluateFlag(r.Context(), scope, chi.URLParam(r, "flagID"), EvalContext{
		UserID:      req.UserID,
		Environment: req.Environment,
		Service:     req.Service,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
