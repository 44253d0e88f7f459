package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"slotmarket.org/internal/audit"
	"slotmarket.org/internal/catalog"
)

type purchaseRequestBody struct {
	GroupID    string `json:"group_id"`
	PropertyID string `json:"property_id"`
}

func (a *API) handleProperties(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"properties": a.catalog.Properties(r.Context()),
	})
}

// handlePropertyDetail serves /v1/properties/detail/{name}/{location}.
func (a *API) handlePropertyDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/properties/detail/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	name, err := url.PathUnescape(parts[0])
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	location, err := url.PathUnescape(parts[1])
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	found, err := a.catalog.FindDetail(r.Context(), name, location)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "property not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": found})
}

func (a *API) handlePurchaseRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createPurchaseRequest(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"purchase_requests": a.catalog.PurchaseRequests(r.Context()),
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pr, err := a.catalog.CreatePurchaseRequest(r.Context(), strings.TrimSpace(req.GroupID), strings.TrimSpace(req.PropertyID))
	if err != nil {
		if errors.Is(err, catalog.ErrMissingField) {
			writeError(w, r, http.StatusBadRequest, "group_id and property_id are required")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = audit.LogEvent(r.Context(), "catalog.purchase_request.create", map[string]any{
		"purchase_request": pr.ID,
		"property_id":      pr.PropertyID,
		"group_id":         pr.GroupID,
	})
	writeJSON(w, http.StatusCreated, pr)
}
