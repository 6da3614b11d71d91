package service_test

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/opsboard-backend/internal/audit"
	"github.com/opsboard/opsboard-backend/internal/directory"
	"github.com/opsboard/opsboard-backend/internal/incident/repository"
	"github.com/opsboard/opsboard-backend/internal/incident/service"
	"github.com/opsboard/opsboard-backend/internal/jobs"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
	"github.com/opsboard/opsboard-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to create integration suite: %v", err)
	}

	code := m.Run()
	suite.Cleanup(ctx)
	os.Exit(code)
}

// env wires the incident service against the suite database.
type env struct {
	svc         *service.Service
	incidents   *repository.IncidentRepository
	timeline    *repository.TimelineRepository
	attachments *repository.AttachmentRepository
	jobs        *jobs.Repository
	handlers    *jobs.Handlers
	audit       *audit.Recorder
}

func newEnv() *env {
	incidents := repository.NewIncidentRepository(suite.DB)
	timeline := repository.NewTimelineRepository(suite.DB)
	attachments := repository.NewAttachmentRepository(suite.DB)
	views := repository.NewSavedViewRepository(suite.DB)
	dir := directory.NewRepository(suite.DB)
	auditRec := audit.NewRecorder(suite.DB)
	jobsRepo := jobs.NewRepository(suite.DB)
	events := service.NewEvents(nil, suite.Logger)

	return &env{
		svc: service.NewService(
			suite.DB, incidents, timeline, attachments, views,
			dir, auditRec, jobsRepo, events, suite.Logger,
		),
		incidents:   incidents,
		timeline:    timeline,
		attachments: attachments,
		jobs:        jobsRepo,
		handlers:    jobs.NewHandlers(attachments, incidents, timeline, nil, suite.Logger),
		audit:       auditRec,
	}
}

func seedTenant(t *testing.T, slug string) *testutil.TenantFixture {
	t.Helper()
	fixture, err := suite.Fixtures.SeedTenant(context.Background(), suite.RawDB, slug)
	require.NoError(t, err)
	return fixture
}

func createIncident(t *testing.T, e *env, scope tenant.Context, title string) *repository.Incident {
	t.Helper()
	inc, err := e.svc.Create(context.Background(), scope, service.CreateIncidentInput{
		Title:       title,
		Severity:    repository.SeveritySev2,
		Service:     "payments",
		Environment: repository.EnvProd,
		Tags:        []string{"db", "latency"},
	})
	require.NoError(t, err)
	return inc
}

// pendingJobsFor lists PENDING jobs belonging to one tenant. The queue is
// shared process-wide, so tests filter by their own fixture tenant.
func pendingJobsFor(t *testing.T, e *env, tenantID, jobType string) []*jobs.Job {
	t.Helper()
	all, err := e.jobs.FetchPending(context.Background(), 1000)
	require.NoError(t, err)

	var out []*jobs.Job
	for _, j := range all {
		if j.TenantID == tenantID && j.Type == jobType {
			out = append(out, j)
		}
	}
	return out
}

func TestService_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	e := newEnv()
	fixture := seedTenant(t, "create-get")
	scope := fixture.Scope(tenant.RoleEngineer)

	inc := createIncident(t, e, scope, "payments db latency")
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, repository.StatusOpen, inc.Status)

	detail, err := e.svc.Get(context.Background(), scope, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "payments db latency", detail.Title)
	assert.Equal(t, repository.Tags{"db", "latency"}, detail.Tags)

	// Creation appears on the timeline as a STATUS_CHANGE into OPEN.
	require.Len(t, detail.Timeline, 1)
	assert.Equal(t, repository.EventStatusChange, detail.Timeline[0].Type)

	var change repository.StatusChangeData
	require.NoError(t, json.Unmarshal(detail.Timeline[0].Data, &change))
	assert.Nil(t, change.From)
	assert.Equal(t, repository.StatusOpen, change.To)

	count, err := e.audit.CountByAction(context.Background(), scope, audit.ActionCreate)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestService_TenantIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	e := newEnv()
	tenantA := seedTenant(t, "isolation-a")
	tenantB := seedTenant(t, "isolation-b")

	inc := createIncident(t, e, tenantA.Scope(tenant.RoleEngineer), "tenant A incident")

	// The other tenant sees not-found, never forbidden; existence must not leak.
	_, err := e.svc.Get(context.Background(), tenantB.Scope(tenant.RoleAdmin), inc.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	list, _, _, err := e.svc.List(context.Background(), tenantB.Scope(tenant.RoleViewer), repository.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_StatusTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	e := newEnv()
	fixture := seedTenant(t, "transitions")
	scope := fixture.Scope(tenant.RoleEngineer)
	ctx := context.Background()

	inc := createIncident(t, e, scope, "walk the state machine")

	note := "mitigated by failover"
	updated, err := e.svc.ChangeStatus(ctx, scope, inc.ID, repository.StatusMitigated, &note)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusMitigated, updated.Status)

	updated, err = e.svc.ChangeStatus(ctx, scope, inc.ID, repository.StatusResolved, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusResolved, updated.Status)

	// RESOLVED is terminal; the rejection leaves no trace behind.
	detailBefore, err := e.svc.Get(ctx, scope, inc.ID)
	require.NoError(t, err)

	_, err = e.svc.ChangeStatus(ctx, scope, inc.ID, repository.StatusOpen, nil)
	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 400, appErr.StatusCode)
	assert.Contains(t, appErr.Message, "terminal")

	detailAfter, err := e.svc.Get(ctx, scope, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusResolved, detailAfter.Status)
	assert.Len(t, detailAfter.Timeline, len(detailBefore.Timeline))
}

func TestService_BulkChangeStatus_AllOrNothing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	e := newEnv()
	fixture := seedTenant(t, "bulk-status")
	scope := fixture.Scope(tenant.RoleEngineer)
	ctx := context.Background()

	open := createIncident(t, e, scope, "still open")
	mitigated := createIncident(t, e, scope, "already mitigated")
	resolved := createIncident(t, e, scope, "already resolved")

	_, err := e.svc.ChangeStatus(ctx, scope, mitigated.ID, repository.StatusMitigated, nil)
	require.NoError(t, err)
	_, err = e.svc.ChangeStatus(ctx, scope, resolved.ID, repository.StatusResolved, nil)
	require.NoError(t, err)

	// One illegal transition in the batch rolls back the whole batch.
	_, err = e.svc.BulkChangeStatus(ctx, scope, []string{open.ID, resolved.ID}, repository.StatusResolved)
	require.Error(t, err)

	detail, err := e.svc.Get(ctx, scope, open.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusOpen, detail.Status)

	// A fully legal batch lands, with a single audit row for the action.
	count, err := e.svc.BulkChangeStatus(ctx, scope, []string{open.ID, mitigated.ID}, repository.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, id := range []string{open.ID, mitigated.ID} {
		detail, err := e.svc.Get(ctx, scope, id)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusResolved, detail.Status)
	}

	auditCount, err := e.audit.CountByAction(ctx, scope, audit.ActionBulkStatusChange)
	require.NoError(t, err)
	assert.Equal(t, int64(1), auditCount)
}

func TestService_BulkChangeStatus_UnknownIDRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	e := newEnv()
	fixture := seedTenant(t, "bulk-unknown")
	scope := fixture.Scope(tenant.RoleEngineer)

	inc := createIncident(t, e, scope, "known incident")

	_, err := e.svc.BulkChangeStatus(context.Background(), scope,
		[]string{inc.ID, "00000000-0000-0000-0000-000000000000"}, repository.StatusMitigated)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestService_Assign(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	e := newEnv()
	fixture := seedTenant(t, "assign")
	scope := fixture.Scope(tenant.RoleAdmin)
	ctx := context.Background()

	inc := createIncident(t, e, scope, "needs an owner")

	updated, err := e.svc.Assign(ctx, scope, inc.ID, &fixture.EngineerID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssigneeID)
	assert.Equal(t, fixture.EngineerID, *updated.AssigneeID)

	// Assigning someone else enqueues a notification in the same transaction.
	pending := pendingJobsFor(t, e, fixture.TenantID, jobs.TypeSendNotification)
	require.Len(t, pending, 1)

	var payload jobs.SendNotificationPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, fixture.EngineerID, payload.UserID)

	// Unassign clears the field.
	updated, err = e.svc.Assign(ctx, scope, inc.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, updated.AssigneeID)
}

func TestService_Assign_RejectsNonMember(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	e := newEnv()
	home := seedTenant(t, "assign-home")
	other := seedTenant(t, "assign-other")
	scope := home.Scope(tenant.RoleAdmin)

	inc := createIncident(t, e, scope, "no outside owners")

	_, err := e.svc.Assign(context.Background(), scope, inc.ID, &other.EngineerID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	detail, err := e.svc.Get(context.Background(), scope, inc.ID)
	require.NoError(t, err)
	assert.Nil(t, detail.AssigneeID)
}

func TestService_AttachmentLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	e := newEnv()
	fixture := seedTenant(t, "attachments")
	scope := fixture.Scope(tenant.RoleEngineer)
	ctx := context.Background()

	inc := createIncident(t, e, scope, "with evidence")

	att, err := e.svc.AddAttachment(ctx, scope, inc.ID, service.AttachmentInput{
		FileName:   "latency-graph.png",
		MimeType:   "image/png",
		SizeBytes:  128 * 1024,
		StorageURL: "s3://opsboard-test/latency-graph.png",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.ScanPending, att.ScanStatus)

	// The scan job rides the upload transaction; drive it like the worker does.
	pending := pendingJobsFor(t, e, fixture.TenantID, jobs.TypeScanAttachment)
	require.Len(t, pending, 1)

	claimed, err := e.jobs.Claim(ctx, pending[0].ID, 2*time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	result, err := e.handlers.Handle(ctx, pending[0])
	require.NoError(t, err)
	require.NoError(t, e.jobs.Complete(ctx, pending[0].ID, result))

	scanned, err := e.attachments.GetByID(ctx, scope, att.ID)
	require.NoError(t, err)
	assert.Contains(t, []string{repository.ScanClean, repository.ScanInfected}, scanned.ScanStatus)

	processed, err := e.jobs.GetByID(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, processed.Status)

	require.NoError(t, e.svc.DeleteAttachment(ctx, scope, inc.ID, att.ID))
	_, err = e.attachments.GetByID(ctx, scope, att.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestService_AddAttachment_Rejections(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	e := newEnv()
	fixture := seedTenant(t, "attachment-rejections")
	scope := fixture.Scope(tenant.RoleEngineer)
	inc := createIncident(t, e, scope, "strict uploads")

	_, err := e.svc.AddAttachment(context.Background(), scope, inc.ID, service.AttachmentInput{
		FileName:   "huge.bin",
		MimeType:   "application/pdf",
		SizeBytes:  11 << 20,
		StorageURL: "s3://opsboard-test/huge.bin",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10 MiB")

	_, err = e.svc.AddAttachment(context.Background(), scope, inc.ID, service.AttachmentInput{
		FileName:   "payload.exe",
		MimeType:   "application/x-msdownload",
		SizeBytes:  1024,
		StorageURL: "s3://opsboard-test/payload.exe",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestService_SavedViews(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	e := newEnv()
	fixture := seedTenant(t, "saved-views")
	engineer := fixture.Scope(tenant.RoleEngineer)
	viewer := fixture.Scope(tenant.RoleViewer)
	ctx := context.Background()

	view, err := e.svc.CreateView(ctx, engineer, "prod sev1", json.RawMessage(`{"severity":"SEV1","environment":"PROD"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, view.ID)

	// Views are per-user; the viewer's list stays empty.
	mine, err := e.svc.ListViews(ctx, engineer)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	theirs, err := e.svc.ListViews(ctx, viewer)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	require.NoError(t, e.svc.DeleteView(ctx, engineer, view.ID))
	mine, err = e.svc.ListViews(ctx, engineer)
	require.NoError(t, err)
	assert.Empty(t, mine)
}
