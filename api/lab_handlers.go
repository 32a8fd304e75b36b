package api

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultSiteDistance = 25

// LocateSites handles GET /labcorp?zip=&distance= and lists nearby
// collection sites. Distance is in miles.
func (a *API) LocateSites(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zip := strings.TrimSpace(q.Get("zip"))
	if zip == "" {
		writeError(w, http.StatusBadRequest, "ZIP code is required")
		return
	}
	distance := defaultSiteDistance
	if raw := q.Get("distance"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "distance must be a positive integer")
			return
		}
		distance = n
	}
	if a.sites == nil {
		writeError(w, http.StatusBadGateway, "site lookup is not configured")
		return
	}
	sites, err := a.sites.LocateCollectionSites(r.Context(), zip, distance)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LocateSitesResponse{Sites: sites})
}
