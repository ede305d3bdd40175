package handlers

import (
	"context"
	"net/http"

	"github.com/ph0en1x29/FT-sub001/internal/amendment"
	"github.com/ph0en1x29/FT-sub001/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type reviewRequest struct {
	Notes string `json:"notes"`
}

// ListAmendments lists amendments by status, pending when none is given.
func (h *API) ListAmendments(w http.ResponseWriter, r *http.Request) {
	status := models.AmendmentStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.AmendmentPending
	}

	list, err := h.amendments.List(r.Context(), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Amendment{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetAmendment returns one amendment.
func (h *API) GetAmendment(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseID("id", r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.amendments.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RequestAmendment raises a manual correction.
func (h *API) RequestAmendment(w http.ResponseWriter, r *http.Request) {
	var in amendment.RequestInput
	if err := decodeBody(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	in.RequestedBy = actor(r)

	a, err := h.amendments.Request(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ApproveAmendment approves a pending amendment and applies its value.
func (h *API) ApproveAmendment(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.amendments.Approve)
}

// RejectAmendment rejects a pending amendment. Notes are mandatory.
func (h *API) RejectAmendment(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.amendments.Reject)
}

func (h *API) review(w http.ResponseWriter, r *http.Request, resolve func(ctx context.Context, id primitive.ObjectID, reviewer, notes string) (*models.Amendment, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := models.ParseID("id", r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req reviewRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	a, err := resolve(r.Context(), id, actor(r), req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
