package api

import (
	"net/http"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/http/response"
)

var startedAt = time.Now()

// handleHealthCheck reports liveness. Storage problems surface as errors on
// the real endpoints; this only says the process is up and serving.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(startedAt).Round(time.Second).String(),
	}, s.logger)
}
