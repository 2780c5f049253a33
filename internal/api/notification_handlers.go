package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bookhaven/bookhaven-server/internal/http/response"
	"github.com/bookhaven/bookhaven-server/internal/store"
)

// handleListNotifications returns a page of the caller's notifications.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	filter := store.NotificationFilter{
		UnreadOnly: r.URL.Query().Get("unread") == "true",
		Page:       pageParams(r),
	}

	result, err := s.notifications.List(r.Context(), getUserID(r.Context()), filter)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, result, s.logger)
}

// handleUnreadCount returns the caller's unread badge count.
func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.notifications.CountUnread(r.Context(), getUserID(r.Context()))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, map[string]int{"unread": count}, s.logger)
}

// handleMarkRead marks one of the caller's notifications read.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.notifications.MarkRead(r.Context(), getUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, n, s.logger)
}

// handleMarkAllRead marks all of the caller's notifications read.
func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	count, err := s.notifications.MarkAllRead(r.Context(), getUserID(r.Context()))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, map[string]int{"marked": count}, s.logger)
}
