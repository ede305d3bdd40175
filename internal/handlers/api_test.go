package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/amendment"
	"github.com/ph0en1x29/FT-sub001/internal/auth"
	"github.com/ph0en1x29/FT-sub001/internal/checkrun"
	"github.com/ph0en1x29/FT-sub001/internal/config"
	"github.com/ph0en1x29/FT-sub001/internal/db"
	"github.com/ph0en1x29/FT-sub001/internal/intents"
	"github.com/ph0en1x29/FT-sub001/internal/middleware"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/ph0en1x29/FT-sub001/internal/readings"
	"github.com/ph0en1x29/FT-sub001/internal/schedule"
	"github.com/ph0en1x29/FT-sub001/internal/upgrade"
	"github.com/ph0en1x29/FT-sub001/internal/usage"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type testServer struct {
	store   *db.MemoryStore
	auth    *auth.Service
	handler http.Handler
}

func newTestServer(t *testing.T, readingsPerMinute int) *testServer {
	t.Helper()
	e := config.DefaultEngine()
	logger, _ := test.NewNullLogger()
	store := db.NewMemoryStore()

	estimator := usage.NewEstimator(e.UsageLookback(), e.TrendThresholdPercent)
	planner := schedule.NewPlanner(store, schedule.NewCalculator(e), estimator, e.StalenessThreshold(), logger)
	api := NewAPI(Deps{
		Store:      store,
		Readings:   readings.NewService(store, readings.NewValidator(readings.ThresholdsFrom(e), estimator), logger),
		Amendments: amendment.NewWorkflow(store, logger),
		Advisor:    upgrade.NewAdvisor(store, planner, logger),
		Planner:    planner,
		Runner:     checkrun.NewRunner(store, planner, intents.NewLogSink(logger), 2, logger),
		Logger:     logger,
	})

	authService, err := auth.NewService("handler-test-secret", time.Hour)
	require.NoError(t, err)
	var limiter *middleware.RateLimiter
	if readingsPerMinute > 0 {
		limiter, err = middleware.NewRateLimiter(middleware.RateLimitConfig{PerMinute: readingsPerMinute}, logger)
		require.NoError(t, err)
	}
	handler := api.Routes(middleware.NewAuthMiddleware(authService), limiter)

	_, err = store.Policies().InsertPolicy(context.Background(), models.ServiceIntervalPolicy{
		AssetType:         models.AssetDiesel,
		Name:              "500h service",
		HourmeterInterval: 500,
		Priority:          1,
	})
	require.NoError(t, err)

	return &testServer{store: store, auth: authService, handler: handler}
}

func (s *testServer) asset(t *testing.T, name string, hourmeter float64, lastReading time.Time) models.Asset {
	t.Helper()
	ctx := context.Background()
	a, err := s.store.Assets().InsertAsset(ctx, models.Asset{Name: name, Type: models.AssetDiesel, LastServicedHourmeter: 1000})
	require.NoError(t, err)
	require.NoError(t, s.store.Assets().SetHourmeter(ctx, a.ID, hourmeter, lastReading, false))
	return a
}

func (s *testServer) do(t *testing.T, role models.Role, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:4000"
	if role != "" {
		token, err := s.auth.GenerateToken(&models.User{ID: primitive.NewObjectID(), Username: string(role) + "-user", Role: role})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	w = s.do(t, "", http.MethodGet, "/api/fleet/overview", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitReading(t *testing.T) {
	s := newTestServer(t, 0)
	now := time.Now().UTC()
	a := s.asset(t, "FL-01", 1000, now.Add(-24*time.Hour))

	t.Run("clean reading is applied", func(t *testing.T) {
		w := s.do(t, models.RoleTechnician, http.MethodPost, "/api/readings", map[string]interface{}{
			"asset_id":    a.ID.Hex(),
			"value":       1010,
			"recorded_at": now.Add(-time.Minute),
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		res := decode[readings.SubmitResult](t, w)
		assert.True(t, res.Accepted)
		require.NotNil(t, res.Reading)
		assert.Equal(t, "technician-user", res.Reading.SubmittedBy)
	})

	t.Run("jump is parked for review", func(t *testing.T) {
		w := s.do(t, models.RoleTechnician, http.MethodPost, "/api/readings", map[string]interface{}{
			"asset_id":    a.ID.Hex(),
			"value":       1800,
			"recorded_at": now,
		})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		res := decode[readings.SubmitResult](t, w)
		assert.False(t, res.Accepted)
		require.NotNil(t, res.Amendment)
		assert.True(t, res.Flags.Has(models.FlagExcessiveJump))

		stored, err := s.store.Assets().FindAssetByID(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, 1010.0, stored.CurrentHourmeter)
	})

	t.Run("rejected input", func(t *testing.T) {
		tests := []struct {
			name string
			role models.Role
			body interface{}
			want int
		}{
			{"viewer may not submit", models.RoleViewer, map[string]interface{}{"asset_id": a.ID.Hex(), "value": 1020, "recorded_at": now}, http.StatusForbidden},
			{"unknown asset", models.RoleTechnician, map[string]interface{}{"asset_id": primitive.NewObjectID().Hex(), "value": 10, "recorded_at": now}, http.StatusNotFound},
			{"bad asset id", models.RoleTechnician, map[string]interface{}{"asset_id": "nope", "value": 10, "recorded_at": now}, http.StatusBadRequest},
			{"negative value", models.RoleTechnician, map[string]interface{}{"asset_id": a.ID.Hex(), "value": -5, "recorded_at": now}, http.StatusBadRequest},
			{"not json", models.RoleTechnician, "{", http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := s.do(t, tt.role, http.MethodPost, "/api/readings", tt.body)
				assert.Equal(t, tt.want, w.Code, w.Body.String())
			})
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		w := s.do(t, models.RoleTechnician, http.MethodGet, "/api/readings", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestSubmitReading_RateLimited(t *testing.T) {
	s := newTestServer(t, 1)
	now := time.Now().UTC()
	a := s.asset(t, "FL-01", 1000, now.Add(-24*time.Hour))
	body := map[string]interface{}{"asset_id": a.ID.Hex(), "value": 1005, "recorded_at": now.Add(-time.Minute)}

	w := s.do(t, models.RoleTechnician, http.MethodPost, "/api/readings", body)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, models.RoleTechnician, http.MethodPost, "/api/readings", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestSubmitReading_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, 0)
	a := s.asset(t, "FL-01", 1000, time.Now().Add(-24*time.Hour))
	body := map[string]interface{}{
		"asset_id": a.ID.Hex(),
		"value":    1005,
		"padding":  strings.Repeat("x", maxBodyBytes),
	}

	w := s.do(t, models.RoleTechnician, http.MethodPost, "/api/readings", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "must not exceed")

	got, err := s.store.Assets().FindAssetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, got.CurrentHourmeter)
}

func TestAmendmentReview(t *testing.T) {
	s := newTestServer(t, 0)
	now := time.Now().UTC()
	a := s.asset(t, "FL-01", 1000, now.Add(-24*time.Hour))

	w := s.do(t, models.RoleTechnician, http.MethodPost, "/api/readings", map[string]interface{}{
		"asset_id": a.ID.Hex(), "value": 1800, "recorded_at": now,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	pending := decode[readings.SubmitResult](t, w).Amendment
	require.NotNil(t, pending)

	w = s.do(t, models.RoleViewer, http.MethodGet, "/api/amendments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Amendment](t, w), 1)

	w = s.do(t, models.RoleViewer, http.MethodGet, "/api/amendments?status=approved", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Amendment](t, w))

	w = s.do(t, models.RoleViewer, http.MethodGet, "/api/amendments?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	approve := fmt.Sprintf("/api/amendments/%s/approve", pending.ID.Hex())

	w = s.do(t, models.RoleTechnician, http.MethodPost, approve, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, models.RoleManager, http.MethodPost, fmt.Sprintf("/api/amendments/%s/reject", pending.ID.Hex()), map[string]string{"notes": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, models.RoleManager, http.MethodPost, approve, map[string]string{"notes": "meter replaced"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decode[models.Amendment](t, w)
	assert.Equal(t, models.AmendmentApproved, approved.Status)
	assert.Equal(t, "manager-user", approved.ReviewedBy)

	w = s.do(t, models.RoleManager, http.MethodPost, approve, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, models.RoleViewer, http.MethodGet, "/api/amendments/"+pending.ID.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AmendmentApproved, decode[models.Amendment](t, w).Status)

	stored, err := s.store.Assets().FindAssetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1800.0, stored.CurrentHourmeter)
}

func TestAmendmentPaths(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.do(t, models.RoleManager, http.MethodPost, "/api/amendments/not-an-id/approve", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, models.RoleManager, http.MethodPost, "/api/amendments/"+primitive.NewObjectID().Hex()+"/approve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, models.RoleManager, http.MethodGet, "/api/amendments/"+primitive.NewObjectID().Hex()+"/approve", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestManualAmendmentRequest(t *testing.T) {
	s := newTestServer(t, 0)
	now := time.Now().UTC()
	a := s.asset(t, "FL-01", 1200, now.Add(-time.Hour))

	w := s.do(t, models.RoleTechnician, http.MethodPost, "/api/amendments", map[string]interface{}{
		"asset_id":            a.ID.Hex(),
		"amended_reading":     1150,
		"amended_recorded_at": now.Add(-time.Hour),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	got := decode[models.Amendment](t, w)
	assert.Equal(t, models.AmendmentPending, got.Status)
	assert.True(t, got.FlagReasons.Has(models.FlagManual))
	assert.Equal(t, 1200.0, got.OriginalReading)
	assert.Equal(t, "technician-user", got.RequestedBy)
}

func TestUpgradeFlow(t *testing.T) {
	s := newTestServer(t, 0)
	now := time.Now().UTC()
	a := s.asset(t, "FL-01", 1520, now.Add(-time.Hour))
	job, err := s.store.Jobs().InsertJob(context.Background(), models.MaintenanceJob{
		AssetID: a.ID,
		JobType: models.JobMinorService,
		Status:  models.JobScheduled,
	})
	require.NoError(t, err)

	prompt := "/api/jobs/" + job.ID.Hex() + "/upgrade-prompt"
	decide := "/api/jobs/" + job.ID.Hex() + "/upgrade-decision"

	w := s.do(t, models.RoleTechnician, http.MethodGet, prompt, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode[upgrade.Prompt](t, w)
	assert.True(t, p.Required)
	assert.Equal(t, models.DueOverdue, p.DueStatus)

	w = s.do(t, models.RoleTechnician, http.MethodPost, decide, map[string]string{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, models.RoleTechnician, http.MethodPost, decide, map[string]string{"decision": "upgraded"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, models.UpgradeAccepted, decode[models.ServiceUpgradeDecision](t, w).Decision)

	w = s.do(t, models.RoleTechnician, http.MethodPost, decide, map[string]string{"decision": "declined"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, models.RoleTechnician, http.MethodGet, prompt, nil)
	require.Equal(t, http.StatusOK, w.Code)
	p = decode[upgrade.Prompt](t, w)
	assert.False(t, p.Required)
	assert.Equal(t, models.JobFullService, p.JobType)
	require.NotNil(t, p.Decision)

	w = s.do(t, models.RoleViewer, http.MethodGet, prompt, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFleetOverview(t *testing.T) {
	s := newTestServer(t, 0)
	now := time.Now().UTC()
	s.asset(t, "FL-OK", 1100, now.Add(-time.Hour))
	overdue := s.asset(t, "FL-LATE", 1600, now.Add(-time.Hour))

	w := s.do(t, models.RoleViewer, http.MethodGet, "/api/fleet/overview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]models.FleetServiceOverview](t, w)
	require.Len(t, rows, 2)
	assert.Equal(t, overdue.ID, rows[0].AssetID)
	assert.Equal(t, models.DueOverdue, rows[0].Status)
	assert.Equal(t, 100.0, rows[0].HoursOverdue)

	w = s.do(t, models.RoleViewer, http.MethodGet, "/api/assets/"+overdue.ID.Hex()+"/schedule", nil)
	require.Equal(t, http.StatusOK, w.Code)
	a := decode[schedule.Assessment](t, w)
	assert.Equal(t, models.DueOverdue, a.Schedule.Status)
	assert.Equal(t, "500h service", a.Schedule.DrivingPolicy)

	w = s.do(t, models.RoleViewer, http.MethodGet, "/api/assets/xyz/schedule", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFleetRegistration(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.do(t, models.RoleManager, http.MethodPost, "/api/assets", map[string]interface{}{
		"name":                    "FL-NEW",
		"type":                    "Electric",
		"current_hourmeter":       320,
		"last_serviced_hourmeter": 250,
		"last_due_status":         "overdue",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Asset](t, w)
	assert.False(t, created.ID.IsZero())
	assert.Empty(t, created.LastDueStatus)

	w = s.do(t, models.RoleTechnician, http.MethodPost, "/api/readings", map[string]interface{}{
		"asset_id": created.ID.Hex(), "value": 10, "recorded_at": time.Now().UTC(),
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.True(t, decode[readings.SubmitResult](t, w).Flags.Has(models.FlagLowerThanPrevious))

	w = s.do(t, models.RoleManager, http.MethodPost, "/api/assets", map[string]interface{}{"name": "FL-BAD", "type": "Steam"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, models.RoleTechnician, http.MethodPost, "/api/assets", map[string]interface{}{"name": "FL-X", "type": "LPG"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, models.RoleManager, http.MethodPost, "/api/policies", map[string]interface{}{
		"asset_type":             "Electric",
		"name":                   "quarterly inspection",
		"calendar_interval_days": 90,
		"priority":               2,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, models.RoleManager, http.MethodPost, "/api/policies", map[string]interface{}{"asset_type": "Electric", "name": "empty"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, models.RoleViewer, http.MethodGet, "/api/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.ServiceIntervalPolicy](t, w), 2)
}

func TestRunServiceCheck(t *testing.T) {
	s := newTestServer(t, 0)
	now := time.Now().UTC()
	s.asset(t, "FL-LATE", 1600, now.Add(-time.Hour))

	w := s.do(t, models.RoleManager, http.MethodPost, "/api/service-checks/run", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, models.RoleAdmin, http.MethodPost, "/api/service-checks/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[runResponse](t, w)
	assert.Equal(t, 1, resp.Summary.AssetsChecked)
	assert.Equal(t, 1, resp.Summary.JobsEmitted)
	assert.Empty(t, resp.Error)
}

func TestWriteError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := &API{log: logger}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &models.ValidationError{Field: "value", Message: "bad"}, http.StatusBadRequest},
		{"not found", fmt.Errorf("asset x: %w", models.ErrNotFound), http.StatusNotFound},
		{"invalid state", &models.InvalidStateError{Entity: "amendment", Current: "approved", Wanted: "pending"}, http.StatusConflict},
		{"decision required", fmt.Errorf("job x: %w", models.ErrDecisionRequired), http.StatusConflict},
		{"open job", models.ErrOpenJobExists, http.StatusConflict},
		{"other", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.writeError(w, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "connection reset")
			}
		})
	}

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "Request failed", hook.LastEntry().Message)
}
