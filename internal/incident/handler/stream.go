package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opsboard/opsboard-backend/internal/incident/repository"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/httputil"
	"github.com/opsboard/opsboard-backend/pkg/logger"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// StreamHandler serves the per-incident change stream over SSE. Each
// connection polls the database and pushes only the delta it observes; the
// database remains the single source of truth.
type StreamHandler struct {
	incidents    *repository.IncidentRepository
	timeline     *repository.TimelineRepository
	pollInterval time.Duration
	logger       *logger.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(incidents *repository.IncidentRepository, timeline *repository.TimelineRepository, pollInterval time.Duration, log *logger.Logger) *StreamHandler {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &StreamHandler{
		incidents:    incidents,
		timeline:     timeline,
		pollInterval: pollInterval,
		logger:       log.WithComponent("incident-stream"),
	}
}

type streamEvent struct {
	Event      string                      `json:"event"`
	IncidentID string                      `json:"incident_id"`
	Status     string                      `json:"status,omitempty"`
	Severity   string                      `json:"severity,omitempty"`
	AssigneeID *string                     `json:"assignee_id,omitempty"`
	UpdatedAt  *time.Time                  `json:"updated_at,omitempty"`
	Events     []*repository.TimelineEvent `json:"events,omitempty"`
}

// Stream handles GET /incidents/{incidentID}/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	incidentID := chi.URLParam(r, "incidentID")
	ctx := r.Context()

	// Verify access before upgrading to a stream; a foreign id is a plain 404.
	state, err := h.incidents.GetWatchState(ctx, scope, incidentID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, errors.Internal("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.send(w, flusher, streamEvent{Event: "connected", IncidentID: incidentID})

	lastUpdatedAt := state.UpdatedAt
	lastEventCount := state.EventCount

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state, err := h.incidents.GetWatchState(ctx, scope, incidentID)
		if err != nil {
			if errors.IsNotFound(err) {
				h.send(w, flusher, streamEvent{Event: "deleted", IncidentID: incidentID})
				return
			}
			h.logger.WithError(err).Warn().Str("incident_id", incidentID).Msg("stream poll failed")
			continue
		}

		if state.UpdatedAt.After(lastUpdatedAt) {
			updatedAt := state.UpdatedAt
			h.send(w, flusher, streamEvent{
				Event:      "incident_updated",
				IncidentID: incidentID,
				Status:     state.Status,
				Severity:   state.Severity,
				AssigneeID: state.AssigneeID,
				UpdatedAt:  &updatedAt,
			})
			lastUpdatedAt = state.UpdatedAt
		}

		if state.EventCount > lastEventCount {
			delta := int(state.EventCount - lastEventCount)
			events, err := h.timeline.ListNewest(ctx, scope, incidentID, delta)
			if err != nil {
				h.logger.WithError(err).Warn().Str("incident_id", incidentID).Msg("stream timeline fetch failed")
			} else {
				h.send(w, flusher, streamEvent{
					Event:      "timeline_updated",
					IncidentID: incidentID,
					Events:     events,
				})
			}
			lastEventCount = state.EventCount
		}

		// A comment frame rides every poll so intermediaries never see an
		// idle connection.
		fmt.Fprint(w, ": heartbeat\n\n")
		flusher.Flush()
	}
}

func (h *StreamHandler) send(w http.ResponseWriter, flusher http.Flusher, event streamEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", body)
	flusher.Flush()
}
