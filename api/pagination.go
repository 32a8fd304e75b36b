package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 200
	defaultPerPage   = 10
)

// PaginationMeta is embedded in offset-paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// parsePagination reads "limit" and "offset" query parameters from the
// request. Missing or invalid values fall back to defaults (offset=0,
// limit=defaultPageLimit); limit is capped at maxPageLimit.
func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = positiveInt(q.Get("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit, positiveInt(q.Get("offset"), 0)
}

func paginationMeta(total, limit, offset, returned int) PaginationMeta {
	return PaginationMeta{
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    offset+returned < total,
	}
}

// parsePage reads the 1-based "page" and "perPage" parameters used by the
// record listings. The services clamp perPage to their own maximum.
func parsePage(r *http.Request) (page, perPage int) {
	q := r.URL.Query()
	return positiveInt(q.Get("page"), 1), positiveInt(q.Get("perPage"), defaultPerPage)
}

func positiveInt(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return def
}
