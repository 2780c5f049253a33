package api

import (
	"net/http"

	"github.com/bookhaven/bookhaven-server/internal/http/response"
)

// writeLimit throttles mutating endpoints per user (falling back to the
// client address for the unlikely anonymous case). Keyed per caller so one
// eager script cannot starve everyone else.
func (s *Server) writeLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := getUserID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.limiter.Allow(key) {
			response.TooManyRequests(w, "Too many requests, slow down", s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}
