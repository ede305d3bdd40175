package handlers

import (
	"net/http"

	"github.com/ph0en1x29/FT-sub001/internal/checkrun"
	"github.com/ph0en1x29/FT-sub001/internal/models"
)

type decisionRequest struct {
	Decision models.UpgradeChoice `json:"decision"`
}

// UpgradePrompt tells the technician whether the job needs an upgrade
// decision before it can start.
func (h *API) UpgradePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := models.ParseID("id", r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.advisor.Prompt(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpgradeDecision records the answer to the upgrade prompt.
func (h *API) UpgradeDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := models.ParseID("id", r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req decisionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.advisor.Decide(r.Context(), id, req.Decision, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// FleetOverview returns the service overview of every asset, most urgent
// first.
func (h *API) FleetOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rows, err := h.planner.Overview(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// AssetSchedule returns the full assessment of one asset.
func (h *API) AssetSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a, err := h.planner.AssessByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type runResponse struct {
	Summary checkrun.Summary `json:"summary"`
	Error   string           `json:"error,omitempty"`
}

// RunServiceCheck runs the service check now. Per-asset failures are
// reported alongside the summary; only a run that could not start fails.
func (h *API) RunServiceCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.runner.Run(r.Context())
	if err != nil && summary.Failed == 0 {
		h.writeError(w, r, err)
		return
	}
	resp := runResponse{Summary: summary}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
