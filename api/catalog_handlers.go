package api

import (
	"net/http"

	"github.com/jmcleod/donorhub/catalog"
	"github.com/jmcleod/donorhub/internal/opt"
	"github.com/jmcleod/donorhub/payment"
)

// ListServices handles GET /services. Fee bounds are decimal amounts.
func (a *API) ListServices(w http.ResponseWriter, r *http.Request) {
	page, perPage := parsePage(r)
	q := r.URL.Query()
	p := catalog.ListParams{
		Page:      page,
		PerPage:   perPage,
		Search:    q.Get("search"),
		Status:    q.Get("status"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}
	for key, dst := range map[string]*opt.Value[payment.Amount]{"minFee": &p.MinFee, "maxFee": &p.MaxFee} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		v, err := payment.ParseAmount(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+key)
			return
		}
		*dst = opt.Some(v)
	}
	out, err := a.catalog.List(r.Context(), p)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetService handles GET /services/{id}. No authentication is needed.
func (a *API) GetService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	svc, err := a.catalog.Get(r.Context(), id, identityFrom(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if svc == nil {
		writeError(w, http.StatusNotFound, "service not found")
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

// CreateService handles POST /services. Administrators only.
func (a *API) CreateService(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeJSON[catalog.CreateInput](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	svc, err := a.catalog.Create(r.Context(), in, identityFrom(r.Context()), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

// UpdateService handles PUT /services/{id}. Administrators only.
func (a *API) UpdateService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	patch, ok := decodeJSON[catalog.Patch](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	svc, err := a.catalog.Update(r.Context(), id, patch, identityFrom(r.Context()), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

// DeleteService handles DELETE /services/{id}. Administrators only.
func (a *API) DeleteService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	svc, err := a.catalog.SoftDelete(r.Context(), id, identityFrom(r.Context()), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}
