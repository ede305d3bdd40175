package handlers

import (
	"fmt"
	"net/http"

	"github.com/ph0en1x29/FT-sub001/internal/models"
	"github.com/sirupsen/logrus"
)

// CreateAsset registers a forklift. The check state fields are owned by the
// service check and ignored here.
func (h *API) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var asset models.Asset
	if err := decodeBody(w, r, &asset); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := asset.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	asset.LastReadingAt = nil
	asset.LastDueStatus = ""
	asset.LastStale = false
	asset.LastCheckedAt = nil

	created, err := h.store.Assets().InsertAsset(r.Context(), asset)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("store asset: %w", err))
		return
	}
	h.log.WithFields(logrus.Fields{
		"asset_id": created.ID.Hex(),
		"name":     created.Name,
		"type":     created.Type,
	}).Info("Asset registered")
	writeJSON(w, http.StatusCreated, created)
}

// ListPolicies returns every service interval policy.
func (h *API) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.store.Policies().FindPolicies(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if policies == nil {
		policies = []models.ServiceIntervalPolicy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

// CreatePolicy adds a service interval policy.
func (h *API) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy models.ServiceIntervalPolicy
	if err := decodeBody(w, r, &policy); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := policy.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.store.Policies().InsertPolicy(r.Context(), policy)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("store policy: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
