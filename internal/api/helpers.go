package api

import (
	"net/http"
	"strconv"

	"github.com/bookhaven/bookhaven-server/internal/store"
)

// pageParams reads ?page and ?limit. Out-of-range values are normalized by
// the store.
func pageParams(r *http.Request) store.PaginationParams {
	var p store.PaginationParams
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		p.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		p.Limit = v
	}
	return p
}
