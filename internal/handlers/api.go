package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ph0en1x29/FT-sub001/internal/amendment"
	"github.com/ph0en1x29/FT-sub001/internal/checkrun"
	"github.com/ph0en1x29/FT-sub001/internal/db"
	"github.com/ph0en1x29/FT-sub001/internal/middleware"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/ph0en1x29/FT-sub001/internal/readings"
	"github.com/ph0en1x29/FT-sub001/internal/schedule"
	"github.com/ph0en1x29/FT-sub001/internal/upgrade"
	"github.com/sirupsen/logrus"
)

// API serves the maintenance engine over HTTP.
type API struct {
	store      db.Store
	readings   *readings.Service
	amendments *amendment.Workflow
	advisor    *upgrade.Advisor
	planner    *schedule.Planner
	runner     *checkrun.Runner
	log        logrus.FieldLogger
}

// Deps are the engine services the API calls into.
type Deps struct {
	Store      db.Store
	Readings   *readings.Service
	Amendments *amendment.Workflow
	Advisor    *upgrade.Advisor
	Planner    *schedule.Planner
	Runner     *checkrun.Runner
	Logger     logrus.FieldLogger
}

// NewAPI creates the HTTP handlers
func NewAPI(d Deps) *API {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &API{
		store:      d.Store,
		readings:   d.Readings,
		amendments: d.Amendments,
		advisor:    d.Advisor,
		planner:    d.Planner,
		runner:     d.Runner,
		log:        logger.WithField("component", "http"),
	}
}

// Routes wires every endpoint behind authentication and the per-action
// permission check. Reading submission is rate limited per client when
// limiter is non-nil.
func (h *API) Routes(auth *middleware.AuthMiddleware, limiter *middleware.RateLimiter) http.Handler {
	mux := http.NewServeMux()
	guard := func(action string, fn http.HandlerFunc) http.Handler {
		return auth.RequirePermission(action)(fn)
	}

	mux.HandleFunc("/health", h.Health)

	submit := guard(models.ActionSubmitReading, h.SubmitReading)
	if limiter != nil {
		submit = limiter.Limit(submit)
	}
	mux.Handle("/api/readings", submit)

	mux.Handle("GET /api/amendments", guard(models.ActionViewFleet, h.ListAmendments))
	mux.Handle("POST /api/amendments", guard(models.ActionRequestAmendment, h.RequestAmendment))
	mux.Handle("GET /api/amendments/{id}", guard(models.ActionViewFleet, h.GetAmendment))
	mux.Handle("/api/amendments/{id}/approve", guard(models.ActionReviewAmendment, h.ApproveAmendment))
	mux.Handle("/api/amendments/{id}/reject", guard(models.ActionReviewAmendment, h.RejectAmendment))

	mux.Handle("/api/jobs/{id}/upgrade-prompt", guard(models.ActionDecideUpgrade, h.UpgradePrompt))
	mux.Handle("/api/jobs/{id}/upgrade-decision", guard(models.ActionDecideUpgrade, h.UpgradeDecision))

	mux.Handle("POST /api/assets", guard(models.ActionManageFleet, h.CreateAsset))
	mux.Handle("GET /api/policies", guard(models.ActionViewFleet, h.ListPolicies))
	mux.Handle("POST /api/policies", guard(models.ActionManageFleet, h.CreatePolicy))

	mux.Handle("/api/fleet/overview", guard(models.ActionViewFleet, h.FleetOverview))
	mux.Handle("/api/assets/{id}/schedule", guard(models.ActionViewFleet, h.AssetSchedule))

	mux.Handle("/api/service-checks/run", guard(models.ActionRunServiceCheck, h.RunServiceCheck))

	return auth.Authenticate(mux)
}

// Health reports that the process is serving.
func (h *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// maxBodyBytes caps every request body.
const maxBodyBytes = 64 << 10

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &models.ValidationError{Field: "body", Message: fmt.Sprintf("must not exceed %d bytes", tooLarge.Limit)}
	}
	if err != nil {
		return &models.ValidationError{Field: "body", Message: "failed to read request body"}
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &models.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors to status codes. Anything unrecognised is
// logged and reported as an internal error without its detail.
func (h *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case models.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case models.IsInvalidState(err),
		errors.Is(err, models.ErrDecisionRequired),
		errors.Is(err, models.ErrOpenJobExists):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// actor names the authenticated caller for audit fields.
func actor(r *http.Request) string {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.Username
}
