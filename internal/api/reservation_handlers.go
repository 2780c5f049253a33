package api

import (
	"encoding/json/v2"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	"github.com/bookhaven/bookhaven-server/internal/http/response"
	"github.com/bookhaven/bookhaven-server/internal/service"
	"github.com/bookhaven/bookhaven-server/internal/store"
)

// handleReserve joins the caller to a title's queue.
func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req service.ReserveRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	if req.UserID == "" || !isStaff(r.Context()) {
		req.UserID = getUserID(r.Context())
	}

	reservation, err := s.reservations.Reserve(r.Context(), req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Created(w, reservation, s.logger)
}

// handleGetReservation returns one reservation. Members only see their own.
func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := s.reservations.Get(r.Context(), ownerScope(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, reservation, s.logger)
}

// handleListReservations returns a filtered page of reservations. Members
// are pinned to their own; staff may filter freely.
func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	filter := store.ReservationFilter{
		UserID:  r.URL.Query().Get("user_id"),
		TitleID: r.URL.Query().Get("title_id"),
		Status:  domain.ReservationStatus(r.URL.Query().Get("status")),
		Page:    pageParams(r),
	}
	if !isStaff(r.Context()) {
		filter.UserID = getUserID(r.Context())
	}

	result, err := s.reservations.List(r.Context(), filter)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, result, s.logger)
}

// handleCancelReservation withdraws a reservation from the queue.
func (s *Server) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := s.reservations.Cancel(r.Context(), ownerScope(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, reservation, s.logger)
}
