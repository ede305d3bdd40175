package handlers

import (
	"net/http"

	"github.com/ph0en1x29/FT-sub001/internal/readings"
)

// SubmitReading handles hourmeter reading submission. A flagged reading is
// still a successful request: it answers 202 with the pending amendment.
func (h *API) SubmitReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req readings.SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.SubmittedBy = actor(r)

	result, err := h.readings.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if !result.Accepted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}
