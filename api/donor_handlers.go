package api

import (
	"net/http"

	"github.com/jmcleod/donorhub/donor"
)

// CreateRegistration handles POST /donors/donor-registration. The
// registration belongs to the caller and only administrators may pick its
// initial status.
func (a *API) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeJSON[donor.CreateInput](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	actor := identityFrom(r.Context())
	in.UserID = actor.UserID
	in.CreatedBy = actor.UserID
	in.UpdatedBy = actor.UserID
	if !actor.IsAdmin() {
		in.Status = ""
	}
	rec, err := a.donors.Create(r.Context(), in, a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	reg, err := a.donors.Get(r.Context(), rec.ID, actor)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// ListRegistrations handles GET /donors/donor-registrations.
func (a *API) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	page, perPage := parsePage(r)
	q := r.URL.Query()
	out, err := a.donors.List(r.Context(), donor.ListParams{
		Page:    page,
		PerPage: perPage,
		Search:  q.Get("search"),
		Status:  q.Get("status"),
	}, identityFrom(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRegistration handles GET /donors/donor-registration/{id}.
func (a *API) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	reg, err := a.donors.Get(r.Context(), id, identityFrom(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if reg == nil {
		writeError(w, http.StatusNotFound, "donor registration not found")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// UpdateRegistration handles PUT /donors/donor-registration/{id}.
func (a *API) UpdateRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	patch, ok := decodeJSON[donor.Patch](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	reg, err := a.donors.Update(r.Context(), id, patch, a.extractClientIP(r), identityFrom(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// DeleteRegistration handles DELETE /donors/donor-registration/{id}.
func (a *API) DeleteRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	reg, err := a.donors.SoftDelete(r.Context(), id, identityFrom(r.Context()), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// ConfirmRegistration handles POST /donors/donor-registration/{id}/confirm.
func (a *API) ConfirmRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	reg, err := a.donors.Confirm(r.Context(), id, identityFrom(r.Context()), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// RejectRegistration handles POST /donors/donor-registration/{id}/reject.
// Administrators only.
func (a *API) RejectRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decodeJSON[RejectRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	reg, err := a.donors.Reject(r.Context(), id, req.Reason, identityFrom(r.Context()), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// ConfirmDirect handles POST /donors/donor-registration/confirm-direct,
// which registers a donor with the laboratory without a stored record.
func (a *API) ConfirmDirect(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[donor.ConfirmRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	res, err := a.donors.ConfirmDirect(r.Context(), req)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
