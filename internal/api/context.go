package api

import (
	"context"
	"net/http"

	"github.com/bookhaven/bookhaven-server/internal/http/response"
)

// Identity headers. Authentication lives in the gateway in front of this
// service; it forwards the verified user and role. Anything arriving without
// them is anonymous.
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"

	roleStaff = "staff"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	userRoleKey contextKey = "user_role"
)

// identity copies the forwarded identity headers into the request context.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if userID := r.Header.Get(headerUserID); userID != "" {
			ctx = context.WithValue(ctx, userIDKey, userID)
		}
		if role := r.Header.Get(headerUserRole); role != "" {
			ctx = context.WithValue(ctx, userRoleKey, role)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser rejects anonymous requests.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if getUserID(r.Context()) == "" {
			response.Unauthorized(w, "Authentication required", s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireStaff rejects requests without the staff role.
func (s *Server) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if getUserID(r.Context()) == "" {
			response.Unauthorized(w, "Authentication required", s.logger)
			return
		}
		if !isStaff(r.Context()) {
			response.Forbidden(w, "Staff access required", s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getUserID returns the authenticated user's ID, or "" if anonymous.
func getUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// isStaff reports whether the request carries the staff role.
func isStaff(ctx context.Context) bool {
	role, _ := ctx.Value(userRoleKey).(string)
	return role == roleStaff
}

// ownerScope returns the user ID services should scope reads and mutations
// to: staff see everything, members only themselves.
func ownerScope(ctx context.Context) string {
	if isStaff(ctx) {
		return ""
	}
	return getUserID(ctx)
}
