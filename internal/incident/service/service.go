package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opsboard/opsboard-backend/internal/audit"
	"github.com/opsboard/opsboard-backend/internal/directory"
	"github.com/opsboard/opsboard-backend/internal/incident/repository"
	"github.com/opsboard/opsboard-backend/internal/jobs"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/logger"
	"github.com/opsboard/opsboard-backend/pkg/messaging"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// MaxAttachmentSize is the upload cap enforced at both the HTTP body and the
// recorded metadata.
const MaxAttachmentSize = 10 << 20 // 10 MiB

var allowedMimeTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/plain": true,
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// Service implements incident operations. Every mutation runs in one
// transaction together with its timeline events, audit entry, and any
// enqueued jobs; broker events fire only after commit.
type Service struct {
	db          *database.DB
	incidents   *repository.IncidentRepository
	timeline    *repository.TimelineRepository
	attachments *repository.AttachmentRepository
	views       *repository.SavedViewRepository
	directory   *directory.Repository
	audit       *audit.Recorder
	jobs        *jobs.Repository
	events      *Events
	logger      *logger.Logger
}

// NewService creates the incident service.
func NewService(
	db *database.DB,
	incidents *repository.IncidentRepository,
	timeline *repository.TimelineRepository,
	attachments *repository.AttachmentRepository,
	views *repository.SavedViewRepository,
	dir *directory.Repository,
	auditRec *audit.Recorder,
	jobsRepo *jobs.Repository,
	events *Events,
	log *logger.Logger,
) *Service {
	return &Service{
		db:          db,
		incidents:   incidents,
		timeline:    timeline,
		attachments: attachments,
		views:       views,
		directory:   dir,
		audit:       auditRec,
		jobs:        jobsRepo,
		events:      events,
		logger:      log.WithComponent("incident-service"),
	}
}

// CreateIncidentInput carries the fields of a new incident.
type CreateIncidentInput struct {
	Title       string
	Severity    string
	Service     string
	Environment string
	Tags        []string
	AssigneeID  *string
}

// IncidentDetail is an incident with its full timeline and attachments.
type IncidentDetail struct {
	*repository.Incident
	Timeline    []*repository.TimelineEvent `json:"timeline"`
	Attachments []*repository.Attachment    `json:"attachments"`
}

// Create opens an incident in OPEN status. The creation itself appears on the
// timeline as a STATUS_CHANGE from nothing to OPEN.
func (s *Service) Create(ctx context.Context, scope tenant.Context, input CreateIncidentInput) (*repository.Incident, error) {
	if !repository.ValidSeverity(input.Severity) {
		return nil, errors.BadRequest(fmt.Sprintf("invalid severity %q", input.Severity))
	}
	if !repository.ValidEnvironment(input.Environment) {
		return nil, errors.BadRequest(fmt.Sprintf("invalid environment %q", input.Environment))
	}
	if input.AssigneeID != nil {
		if err := s.requireMember(ctx, scope, *input.AssigneeID); err != nil {
			return nil, err
		}
	}

	inc := &repository.Incident{
		Title:       input.Title,
		Severity:    input.Severity,
		Status:      repository.StatusOpen,
		Service:     input.Service,
		Environment: input.Environment,
		Tags:        repository.Tags(input.Tags),
		AssigneeID:  input.AssigneeID,
	}

	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		if err := s.incidents.Create(ctx, scope, inc); err != nil {
			return err
		}
		if _, err := s.timeline.AppendStatusChange(ctx, scope, inc.ID, nil, repository.StatusOpen); err != nil {
			return err
		}
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionCreate,
			EntityType: "incident",
			EntityID:   inc.ID,
			AfterData:  audit.Snapshot(inc),
		})
	})
	if err != nil {
		return nil, err
	}

	s.events.Created(ctx, scope.TenantID, messaging.IncidentCreatedEvent{
		IncidentID:  inc.ID,
		Title:       inc.Title,
		Severity:    inc.Severity,
		Service:     inc.Service,
		Environment: inc.Environment,
		CreatedBy:   scope.UserID,
	})

	return inc, nil
}

// Get returns an incident with its timeline (oldest first) and attachments.
func (s *Service) Get(ctx context.Context, scope tenant.Context, id string) (*IncidentDetail, error) {
	inc, err := s.incidents.GetByID(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	timeline, err := s.timeline.ListByIncident(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	attachments, err := s.attachments.ListByIncident(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	return &IncidentDetail{Incident: inc, Timeline: timeline, Attachments: attachments}, nil
}

// List returns a page of incidents matching the filter.
func (s *Service) List(ctx context.Context, scope tenant.Context, filter repository.ListFilter) ([]*repository.Incident, string, bool, error) {
	return s.incidents.List(ctx, scope, filter)
}

// ChangeStatus applies a status transition. An optional note is appended to
// the timeline alongside the STATUS_CHANGE event.
func (s *Service) ChangeStatus(ctx context.Context, scope tenant.Context, id, toStatus string, note *string) (*repository.Incident, error) {
	if !repository.ValidStatus(toStatus) {
		return nil, errors.BadRequest(fmt.Sprintf("invalid status %q", toStatus))
	}

	var inc *repository.Incident
	var fromStatus string

	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		var err error
		inc, err = s.incidents.GetByID(ctx, scope, id)
		if err != nil {
			return err
		}

		fromStatus = inc.Status
		if !CanTransition(fromStatus, toStatus) {
			return InvalidTransition(fromStatus, toStatus)
		}

		before := audit.Snapshot(inc)

		if err := s.incidents.UpdateStatus(ctx, scope, id, toStatus); err != nil {
			return err
		}
		from := fromStatus
		if _, err := s.timeline.AppendStatusChange(ctx, scope, id, &from, toStatus); err != nil {
			return err
		}
		if note != nil && *note != "" {
			event := &repository.TimelineEvent{
				IncidentID: id,
				Type:       repository.EventNote,
				Message:    note,
			}
			if err := s.timeline.Append(ctx, scope, event); err != nil {
				return err
			}
		}

		inc.Status = toStatus
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionStatusChange,
			EntityType: "incident",
			EntityID:   id,
			BeforeData: before,
			AfterData:  audit.Snapshot(inc),
		})
	})
	if err != nil {
		return nil, err
	}

	s.events.StatusChanged(ctx, scope.TenantID, messaging.IncidentStatusChangedEvent{
		IncidentID: id,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		ChangedBy:  scope.UserID,
	})

	return inc, nil
}

// Assign sets or clears the assignee. Assigning to someone outside the tenant
// is rejected before any write happens. Assignment enqueues a notification
// for the new assignee in the same transaction.
func (s *Service) Assign(ctx context.Context, scope tenant.Context, id string, assigneeID *string) (*repository.Incident, error) {
	if assigneeID != nil {
		if err := s.requireMember(ctx, scope, *assigneeID); err != nil {
			return nil, err
		}
	}

	var inc *repository.Incident

	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		var err error
		inc, err = s.incidents.GetByID(ctx, scope, id)
		if err != nil {
			return err
		}

		before := audit.Snapshot(inc)

		if err := s.incidents.UpdateAssignee(ctx, scope, id, assigneeID); err != nil {
			return err
		}

		message := "incident unassigned"
		if assigneeID != nil {
			message = "incident assigned"
		}
		event := &repository.TimelineEvent{
			IncidentID: id,
			Type:       repository.EventAction,
			Message:    &message,
		}
		if err := s.timeline.Append(ctx, scope, event); err != nil {
			return err
		}

		if assigneeID != nil && *assigneeID != scope.UserID {
			payload := jobs.SendNotificationPayload{
				UserID:  *assigneeID,
				Kind:    "incident_assigned",
				Message: fmt.Sprintf("you were assigned to incident %q", inc.Title),
			}
			if _, err := s.jobs.Enqueue(ctx, scope, jobs.TypeSendNotification, payload); err != nil {
				return err
			}
		}

		inc.AssigneeID = assigneeID
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionAssign,
			EntityType: "incident",
			EntityID:   id,
			BeforeData: before,
			AfterData:  audit.Snapshot(inc),
		})
	})
	if err != nil {
		return nil, err
	}

	if assigneeID != nil {
		s.events.Assigned(ctx, scope.TenantID, messaging.IncidentAssignedEvent{
			IncidentID: id,
			AssigneeID: *assigneeID,
			AssignedBy: scope.UserID,
		})
	}

	return inc, nil
}

// AddTimelineEvent appends a NOTE or ACTION to an incident. STATUS_CHANGE
// events come only from the transition path and cannot be added directly.
func (s *Service) AddTimelineEvent(ctx context.Context, scope tenant.Context, incidentID, eventType string, message string) (*repository.TimelineEvent, error) {
	if eventType != repository.EventNote && eventType != repository.EventAction {
		return nil, errors.BadRequest("timeline event type must be NOTE or ACTION")
	}
	if message == "" {
		return nil, errors.BadRequest("timeline event message is required")
	}

	event := &repository.TimelineEvent{
		IncidentID: incidentID,
		Type:       eventType,
		Message:    &message,
	}

	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		if _, err := s.incidents.GetByID(ctx, scope, incidentID); err != nil {
			return err
		}
		if err := s.timeline.Append(ctx, scope, event); err != nil {
			return err
		}
		// Bump updated_at so stream watchers pick up the new event.
		return s.incidents.Touch(ctx, scope, incidentID)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// BulkChangeStatus transitions a set of incidents in one transaction. Every
// incident must exist in the tenant and every transition must be legal, or
// nothing changes.
func (s *Service) BulkChangeStatus(ctx context.Context, scope tenant.Context, ids []string, toStatus string) (int, error) {
	if !repository.ValidStatus(toStatus) {
		return 0, errors.BadRequest(fmt.Sprintf("invalid status %q", toStatus))
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, errors.BadRequest("no incident ids given")
	}

	var transitions []messaging.IncidentStatusChangedEvent

	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		incidents, err := s.incidents.GetManyByIDs(ctx, scope, ids)
		if err != nil {
			return err
		}
		if len(incidents) != len(ids) {
			return errors.NotFound("incident")
		}

		// Validate everything before the first write.
		for _, inc := range incidents {
			if !CanTransition(inc.Status, toStatus) {
				return InvalidTransition(inc.Status, toStatus)
			}
		}

		for _, inc := range incidents {
			if err := s.incidents.UpdateStatus(ctx, scope, inc.ID, toStatus); err != nil {
				return err
			}
			from := inc.Status
			if _, err := s.timeline.AppendStatusChange(ctx, scope, inc.ID, &from, toStatus); err != nil {
				return err
			}
			transitions = append(transitions, messaging.IncidentStatusChangedEvent{
				IncidentID: inc.ID,
				FromStatus: from,
				ToStatus:   toStatus,
				ChangedBy:  scope.UserID,
			})
		}

		metadata, _ := json.Marshal(map[string]interface{}{
			"incident_ids": ids,
			"to_status":    toStatus,
		})
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionBulkStatusChange,
			EntityType: "incident",
			EntityID:   ids[0],
			Metadata:   metadata,
		})
	})
	if err != nil {
		return 0, err
	}

	for _, t := range transitions {
		s.events.StatusChanged(ctx, scope.TenantID, t)
	}

	return len(ids), nil
}

// BulkAssign assigns a set of incidents to one user in one transaction.
func (s *Service) BulkAssign(ctx context.Context, scope tenant.Context, ids []string, assigneeID string) (int, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, errors.BadRequest("no incident ids given")
	}
	if err := s.requireMember(ctx, scope, assigneeID); err != nil {
		return 0, err
	}

	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		incidents, err := s.incidents.GetManyByIDs(ctx, scope, ids)
		if err != nil {
			return err
		}
		if len(incidents) != len(ids) {
			return errors.NotFound("incident")
		}

		message := "incident assigned"
		for _, inc := range incidents {
			if err := s.incidents.UpdateAssignee(ctx, scope, inc.ID, &assigneeID); err != nil {
				return err
			}
			event := &repository.TimelineEvent{
				IncidentID: inc.ID,
				Type:       repository.EventAction,
				Message:    &message,
			}
			if err := s.timeline.Append(ctx, scope, event); err != nil {
				return err
			}
		}

		metadata, _ := json.Marshal(map[string]interface{}{
			"incident_ids": ids,
			"assignee_id":  assigneeID,
		})
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionBulkAssign,
			EntityType: "incident",
			EntityID:   ids[0],
			Metadata:   metadata,
		})
	})
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		s.events.Assigned(ctx, scope.TenantID, messaging.IncidentAssignedEvent{
			IncidentID: id,
			AssigneeID: assigneeID,
			AssignedBy: scope.UserID,
		})
	}

	return len(ids), nil
}

// AttachmentInput describes an uploaded file. The bytes themselves live in
// object storage; this service records metadata and schedules the scan.
type AttachmentInput struct {
	FileName   string
	MimeType   string
	SizeBytes  int64
	StorageURL string
}

// AddAttachment validates and records an attachment, then schedules a malware
// scan in the same transaction.
func (s *Service) AddAttachment(ctx context.Context, scope tenant.Context, incidentID string, input AttachmentInput) (*repository.Attachment, error) {
	if input.SizeBytes <= 0 {
		return nil, errors.BadRequest("attachment size must be positive")
	}
	if input.SizeBytes > MaxAttachmentSize {
		return nil, errors.BadRequest("attachment exceeds the 10 MiB size limit")
	}
	if !allowedMimeTypes[input.MimeType] {
		return nil, errors.BadRequest(fmt.Sprintf("mime type %q is not allowed", input.MimeType))
	}

	att := &repository.Attachment{
		IncidentID: incidentID,
		FileName:   input.FileName,
		MimeType:   input.MimeType,
		SizeBytes:  input.SizeBytes,
		StorageURL: input.StorageURL,
	}

	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		if _, err := s.incidents.GetByID(ctx, scope, incidentID); err != nil {
			return err
		}
		if err := s.attachments.Create(ctx, scope, att); err != nil {
			return err
		}
		if err := s.incidents.Touch(ctx, scope, incidentID); err != nil {
			return err
		}
		if _, err := s.jobs.Enqueue(ctx, scope, jobs.TypeScanAttachment, jobs.ScanAttachmentPayload{AttachmentID: att.ID}); err != nil {
			return err
		}
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionCreate,
			EntityType: "attachment",
			EntityID:   att.ID,
			AfterData:  audit.Snapshot(att),
		})
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

// DeleteAttachment removes an attachment from an incident.
func (s *Service) DeleteAttachment(ctx context.Context, scope tenant.Context, incidentID, attachmentID string) error {
	return s.db.Transaction(ctx, func(ctx context.Context) error {
		att, err := s.attachments.GetByID(ctx, scope, attachmentID)
		if err != nil {
			return err
		}
		if att.IncidentID != incidentID {
			return errors.NotFound("attachment")
		}
		if err := s.attachments.Delete(ctx, scope, attachmentID); err != nil {
			return err
		}
		if err := s.incidents.Touch(ctx, scope, incidentID); err != nil {
			return err
		}
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionDelete,
			EntityType: "attachment",
			EntityID:   attachmentID,
			BeforeData: audit.Snapshot(att),
		})
	})
}

// CreateView saves a named filter set for the acting user.
func (s *Service) CreateView(ctx context.Context, scope tenant.Context, name string, filters json.RawMessage) (*repository.SavedView, error) {
	view := &repository.SavedView{Name: name, Filters: filters}
	if err := s.views.Create(ctx, scope, view); err != nil {
		return nil, err
	}
	return view, nil
}

// ListViews returns the acting user's saved views.
func (s *Service) ListViews(ctx context.Context, scope tenant.Context) ([]*repository.SavedView, error) {
	return s.views.ListForUser(ctx, scope)
}

// DeleteView removes a saved view, owner or admin only.
func (s *Service) DeleteView(ctx context.Context, scope tenant.Context, id string) error {
	return s.views.Delete(ctx, scope, id)
}

func (s *Service) requireMember(ctx context.Context, scope tenant.Context, userID string) error {
	ok, err := s.directory.IsMember(ctx, scope, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.BadRequest("assignee is not a member of this tenant")
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
