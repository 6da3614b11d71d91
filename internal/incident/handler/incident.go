package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsboard/opsboard-backend/internal/incident/repository"
	"github.com/opsboard/opsboard-backend/internal/incident/service"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/httputil"
	"github.com/opsboard/opsboard-backend/pkg/logger"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// Handler exposes incident operations over HTTP. Authentication and role
// gating happen in middleware; handlers only read the scope from the context.
type Handler struct {
	service *service.Service
	logger  *logger.Logger
}

// NewHandler creates a new incident handler
func NewHandler(svc *service.Service, log *logger.Logger) *Handler {
	return &Handler{
		service: svc,
		logger:  log.WithComponent("incident-handler"),
	}
}

type createIncidentRequest struct {
	Title       string   `json:"title" validate:"required,min=5,max=200"`
	Severity    string   `json:"severity" validate:"required,oneof=SEV1 SEV2 SEV3 SEV4"`
	Service     string   `json:"service" validate:"required,min=1,max=100"`
	Environment string   `json:"environment" validate:"required,oneof=DEV STAGING PROD"`
	Tags        []string `json:"tags" validate:"max=20,dive,min=1,max=50"`
	AssigneeID  *string  `json:"assignee_id,omitempty" validate:"omitempty,uuid"`
}

// Create handles POST /incidents
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	var req createIncidentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	inc, err := h.service.Create(r.Context(), scope, service.CreateIncidentInput{
		Title:       req.Title,
		Severity:    req.Severity,
		Service:     req.Service,
		Environment: req.Environment,
		Tags:        req.Tags,
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, inc)
}

// List handles GET /incidents
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	q := r.URL.Query()
	filter := repository.ListFilter{
		Status:      q.Get("status"),
		Severity:    q.Get("severity"),
		Environment: q.Get("environment"),
		Service:     q.Get("service"),
		Tag:         q.Get("tag"),
		AssigneeID:  q.Get("assignee_id"),
		Search:      q.Get("search"),
		Cursor:      q.Get("cursor"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			httputil.Error(w, errors.BadRequest("limit must be an integer"))
			return
		}
		filter.Limit = n
	}

	incidents, nextCursor, hasMore, err := h.service.List(r.Context(), scope, filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if incidents == nil {
		incidents = []*repository.Incident{}
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"incidents":   incidents,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

// Get handles GET /incidents/{incidentID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	detail, err := h.service.Get(r.Context(), scope, chi.URLParam(r, "incidentID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, detail)
}

type changeStatusRequest struct {
	Status string  `json:"status" validate:"required,oneof=OPEN MITIGATED RESOLVED"`
	Note   *string `json:"note,omitempty" validate:"omitempty,max=2000"`
}

// ChangeStatus handles PATCH /incidents/{incidentID}
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	var req changeStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	inc, err := h.service.ChangeStatus(r.Context(), scope, chi.URLParam(r, "incidentID"), req.Status, req.Note)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, inc)
}

type assignRequest struct {
	AssigneeID *string `json:"assignee_id" validate:"omitempty,uuid"`
}

// Assign handles POST /incidents/{incidentID}/assign. A null assignee_id
// unassigns the incident.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	var req assignRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	inc, err := h.service.Assign(r.Context(), scope, chi.URLParam(r, "incidentID"), req.AssigneeID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, inc)
}

type addTimelineEventRequest struct {
	Type    string `json:"type" validate:"required,oneof=NOTE ACTION"`
	Message string `json:"message" validate:"required,min=1,max=2000"`
}

// AddTimelineEvent handles POST /incidents/{incidentID}/timeline
func (h *Handler) AddTimelineEvent(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	var req addTimelineEventRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	event, err := h.service.AddTimelineEvent(r.Context(), scope, chi.URLParam(r, "incidentID"), req.Type, req.Message)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, event)
}

type bulkActionRequest struct {
	Action      string   `json:"action" validate:"required,oneof=assign status"`
	IncidentIDs []string `json:"incident_ids" validate:"required,min=1,max=100,dive,uuid"`
	AssigneeID  string   `json:"assignee_id,omitempty" validate:"omitempty,uuid"`
	Status      string   `json:"status,omitempty" validate:"omitempty,oneof=OPEN MITIGATED RESOLVED"`
}

// BulkAction handles POST /incidents/bulk. The whole batch succeeds or fails
// together.
func (h *Handler) BulkAction(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	var req bulkActionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	var count int
	switch req.Action {
	case "assign":
		if req.AssigneeID == "" {
			httputil.Error(w, errors.BadRequest("assignee_id is required for bulk assign"))
			return
		}
		count, err = h.service.BulkAssign(r.Context(), scope, req.IncidentIDs, req.AssigneeID)
	case "status":
		if req.Status == "" {
			httputil.Error(w, errors.BadRequest("status is required for bulk status change"))
			return
		}
		count, err = h.service.BulkChangeStatus(r.Context(), scope, req.IncidentIDs, req.Status)
	}
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{"updated_count": count})
}

// maxUploadBytes caps the multipart body: the stored object plus headroom for
// the multipart framing itself.
const maxUploadBytes = service.MaxAttachmentSize + 64*1024

// AddAttachment handles POST /incidents/{incidentID}/attachments. The upload
// is multipart; the size cap is enforced against the bytes actually received,
// not a client-declared length.
func (h *Handler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, errors.BadRequest("attachment exceeds the 10 MiB size limit"))
			return
		}
		httputil.Error(w, errors.BadRequest("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	if header.Filename == "" || len(header.Filename) > 255 {
		httputil.Error(w, errors.BadRequest("file name must be between 1 and 255 characters"))
		return
	}

	// Measure the content; sniff the type when the part does not declare one.
	head := make([]byte, 512)
	n, readErr := io.ReadFull(file, head)
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		httputil.Error(w, errors.BadRequest("could not read uploaded file"))
		return
	}
	rest, err := io.Copy(io.Discard, file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, errors.BadRequest("attachment exceeds the 10 MiB size limit"))
			return
		}
		httputil.Error(w, errors.BadRequest("could not read uploaded file"))
		return
	}
	size := int64(n) + rest

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(head[:n])
	}
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	incidentID := chi.URLParam(r, "incidentID")
	storageURL := fmt.Sprintf("s3://opsboard-attachments/%s/%s/%s", incidentID, uuid.New().String(), header.Filename)

	att, err := h.service.AddAttachment(r.Context(), scope, incidentID, service.AttachmentInput{
		FileName:   header.Filename,
		MimeType:   mimeType,
		SizeBytes:  size,
		StorageURL: storageURL,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, att)
}

// DeleteAttachment handles DELETE /incidents/{incidentID}/attachments/{attachmentID}
func (h *Handler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	err = h.service.DeleteAttachment(r.Context(), scope, chi.URLParam(r, "incidentID"), chi.URLParam(r, "attachmentID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, nil)
}

type createViewRequest struct {
	Name    string          `json:"name" validate:"required,min=1,max=100"`
	Filters json.RawMessage `json:"filters" validate:"required"`
}

// CreateView handles POST /views
func (h *Handler) CreateView(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	var req createViewRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}
	if !json.Valid(req.Filters) {
		httputil.Error(w, errors.BadRequest("filters must be a JSON object"))
		return
	}

	view, err := h.service.CreateView(r.Context(), scope, req.Name, req.Filters)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, view)
}

// ListViews handles GET /views
func (h *Handler) ListViews(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	views, err := h.service.ListViews(r.Context(), scope)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if views == nil {
		views = []*repository.SavedView{}
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{"views": views})
}

// DeleteView handles DELETE /views/{viewID}
func (h *Handler) DeleteView(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("authentication required"))
		return
	}

	if err := h.service.DeleteView(r.Context(), scope, chi.URLParam(r, "viewID")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, nil)
}
