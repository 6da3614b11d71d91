package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opsboard/opsboard-backend/pkg/httputil"
	"github.com/opsboard/opsboard-backend/pkg/logger"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// Handler serves the admin-only audit log listing.
type Handler struct {
	recorder *Recorder
	logger   *logger.Logger
}

// NewHandler creates a new audit handler
func NewHandler(recorder *Recorder, log *logger.Logger) *Handler {
	return &Handler{
		recorder: recorder,
		logger:   log,
	}
}

type listResponse struct {
	Logs       []*Entry `json:"logs"`
	NextCursor string   `json:"next_cursor,omitempty"`
	HasMore    bool     `json:"has_more"`
}

// List lists audit entries with filters and cursor pagination.
// GET /api/audit-logs (admin only; enforced by route middleware)
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	q := r.URL.Query()
	filter := ListFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
		Action:     q.Get("action"),
		Cursor:     q.Get("cursor"),
	}

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}

	if start := q.Get("start_date"); start != "" {
		if ts, err := time.Parse(time.RFC3339, start); err == nil {
			filter.StartDate = &ts
		}
	}
	if end := q.Get("end_date"); end != "" {
		if ts, err := time.Parse(time.RFC3339, end); err == nil {
			filter.EndDate = &ts
		}
	}

	entries, nextCursor, hasMore, err := h.recorder.List(r.Context(), scope, filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if entries == nil {
		entries = []*Entry{}
	}

	httputil.JSON(w, http.StatusOK, listResponse{
		Logs:       entries,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	})
}
