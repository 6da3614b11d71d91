package flags_test

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/opsboard-backend/internal/audit"
	"github.com/opsboard/opsboard-backend/internal/flags"
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

func newFlagService() *flags.Service {
	return flags.NewService(suite.DB, flags.NewRepository(suite.DB), audit.NewRecorder(suite.DB), suite.Logger)
}

func seedTenant(t *testing.T, slug string) *testutil.TenantFixture {
	t.Helper()
	fixture, err := suite.Fixtures.SeedTenant(context.Background(), suite.RawDB, slug)
	require.NoError(t, err)
	return fixture
}

func createFlag(t *testing.T, svc *flags.Service, scope tenant.Context, key string) *flags.FeatureFlag {
	t.Helper()
	flag, err := svc.CreateFlag(context.Background(), scope, flags.CreateFlagInput{
		Key:         key,
		Name:        "New checkout flow",
		Description: "Reworked checkout funnel",
		Enabled:     true,
		Environment: "PROD",
	})
	require.NoError(t, err)
	return flag
}

func TestFlagService_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	svc := newFlagService()
	fixture := seedTenant(t, "flags-create")
	scope := fixture.Scope(tenant.RoleEngineer)

	flag := createFlag(t, svc, scope, "new_checkout_flow")
	assert.NotEmpty(t, flag.ID)

	got, rules, err := svc.GetFlag(context.Background(), scope, flag.ID)
	require.NoError(t, err)
	assert.Equal(t, "new_checkout_flow", got.Key)
	assert.True(t, got.Enabled)
	assert.Empty(t, rules)
}

func TestFlagService_DuplicateKeyConflicts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	svc := newFlagService()
	fixture := seedTenant(t, "flags-duplicate")
	scope := fixture.Scope(tenant.RoleEngineer)
	ctx := context.Background()

	createFlag(t, svc, scope, "dark_mode")

	// Same key in the same environment collides.
	_, err := svc.CreateFlag(ctx, scope, flags.CreateFlagInput{
		Key: "dark_mode", Name: "Dark mode", Environment: "PROD",
	})
	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 409, appErr.StatusCode)

	// Same key in another environment is a distinct flag.
	_, err = svc.CreateFlag(ctx, scope, flags.CreateFlagInput{
		Key: "dark_mode", Name: "Dark mode", Environment: "STAGING",
	})
	require.NoError(t, err)
}

func TestFlagService_SameKeyAcrossTenants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	svc := newFlagService()
	tenantA := seedTenant(t, "flags-tenant-a")
	tenantB := seedTenant(t, "flags-tenant-b")

	flagA := createFlag(t, svc, tenantA.Scope(tenant.RoleEngineer), "shared_key")
	createFlag(t, svc, tenantB.Scope(tenant.RoleEngineer), "shared_key")

	// Cross-tenant reads see nothing.
	_, _, err := svc.GetFlag(context.Background(), tenantB.Scope(tenant.RoleAdmin), flagA.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestFlagService_InvalidKeyRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	svc := newFlagService()
	fixture := seedTenant(t, "flags-bad-key")
	scope := fixture.Scope(tenant.RoleEngineer)

	_, err := svc.CreateFlag(context.Background(), scope, flags.CreateFlagInput{
		Key: "Bad Key!", Name: "nope", Environment: "PROD",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestFlagService_RulesAndEvaluation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	svc := newFlagService()
	fixture := seedTenant(t, "flags-rules")
	scope := fixture.Scope(tenant.RoleEngineer)
	ctx := context.Background()

	flag := createFlag(t, svc, scope, "beta_dashboard")

	rule, err := svc.AddRule(ctx, scope, flag.ID, flags.RuleAllowlist,
		json.RawMessage(`{"user_ids": ["beta-user"]}`), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)

	// Malformed rules never reach the store.
	_, err = svc.AddRule(ctx, scope, flag.ID, flags.RulePercentRollout,
		json.RawMessage(`{"percentage": 250}`), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	result, err := svc.EvaluateFlag(ctx, scope, flag.ID, flags.EvalContext{
		UserID: "beta-user", Environment: "PROD",
	})
	require.NoError(t, err)
	assert.True(t, result.Enabled)
	assert.Equal(t, "matched rule 1", result.Reason)

	result, err = svc.EvaluateFlag(ctx, scope, flag.ID, flags.EvalContext{
		UserID: "someone-else", Environment: "PROD",
	})
	require.NoError(t, err)
	assert.False(t, result.Enabled)

	require.NoError(t, svc.DeleteRule(ctx, scope, flag.ID, rule.ID))

	// With no rules left the flag is on for everyone in its environment.
	result, err = svc.EvaluateFlag(ctx, scope, flag.ID, flags.EvalContext{
		UserID: "someone-else", Environment: "PROD",
	})
	require.NoError(t, err)
	assert.True(t, result.Enabled)
}

func TestFlagService_UpdateTogglesEnabled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	svc := newFlagService()
	fixture := seedTenant(t, "flags-update")
	scope := fixture.Scope(tenant.RoleEngineer)
	ctx := context.Background()

	flag := createFlag(t, svc, scope, "kill_switch")

	disabled := false
	updated, err := svc.UpdateFlag(ctx, scope, flag.ID, flags.FlagUpdate{Enabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, flag.Key, updated.Key)

	result, err := svc.EvaluateFlag(ctx, scope, flag.ID, flags.EvalContext{
		UserID: "anyone", Environment: "PROD",
	})
	require.NoError(t, err)
	assert.False(t, result.Enabled)
	assert.Equal(t, "globally disabled", result.Reason)
}

func TestFlagService_DeleteCascadesRules(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	svc := newFlagService()
	fixture := seedTenant(t, "flags-delete")
	scope := fixture.Scope(tenant.RoleEngineer)
	ctx := context.Background()

	flag := createFlag(t, svc, scope, "doomed_flag")
	_, err := svc.AddRule(ctx, scope, flag.ID, flags.RuleAllowlist,
		json.RawMessage(`{"user_ids": ["u1"]}`), 0)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteFlag(ctx, scope, flag.ID))

	_, _, err = svc.GetFlag(ctx, scope, flag.ID)
	assert.True(t, errors.IsNotFound(err))
}

// flagRouter mounts the handler behind a middleware that injects the scope,
// standing in for the auth middleware.
func flagRouter(scope tenant.Context) http.Handler {
	handler := flags.NewHandler(newFlagService(), suite.Logger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(tenant.NewContext(req.Context(), scope)))
		})
	})
	r.Post("/feature-flags", handler.Create)
	r.Post("/feature-flags/{flagID}/evaluate", handler.Evaluate)
	r.Delete("/feature-flags/{flagID}", handler.Delete)
	return r
}

func TestFlagHandler_CreateAndEvaluate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	fixture := seedTenant(t, "flags-http")
	router := flagRouter(fixture.Scope(tenant.RoleEngineer))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, testutil.JSONRequest(t, http.MethodPost, "/feature-flags", map[string]interface{}{
		"key":         "http_created_flag",
		"name":        "Created over HTTP",
		"enabled":     true,
		"environment": "PROD",
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created flags.FeatureFlag
	testutil.DecodeResponse(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "http_created_flag", created.Key)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, testutil.JSONRequest(t, http.MethodPost, "/feature-flags/"+created.ID+"/evaluate", map[string]interface{}{
		"user_id":     "u1",
		"environment": "PROD",
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	var result flags.EvalResult
	testutil.DecodeResponse(t, rec, &result)
	assert.True(t, result.Enabled)
	assert.Equal(t, "no rules, enabled for all", result.Reason)
}

func TestFlagHandler_DeleteReturnsEnvelope(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	svc := newFlagService()
	fixture := seedTenant(t, "flags-http-delete")
	scope := fixture.Scope(tenant.RoleEngineer)
	flag := createFlag(t, svc, scope, "http_deleted_flag")
	router := flagRouter(scope)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/feature-flags/"+flag.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Deletes answer with the bare envelope, never an empty body.
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Nil(t, envelope.Data)
}

func TestFlagHandler_ValidationErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	fixture := seedTenant(t, "flags-http-invalid")
	router := flagRouter(fixture.Scope(tenant.RoleEngineer))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, testutil.JSONRequest(t, http.MethodPost, "/feature-flags", map[string]interface{}{
		"key":         "bad_env_flag",
		"name":        "Bad environment",
		"environment": "QA",
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
