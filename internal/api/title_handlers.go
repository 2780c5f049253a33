package api

import (
	"encoding/json/v2"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bookhaven/bookhaven-server/internal/http/response"
	"github.com/bookhaven/bookhaven-server/internal/service"
)

// handleCreateTitle adds a title to the catalog.
func (s *Server) handleCreateTitle(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTitleRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	title, err := s.catalog.CreateTitle(r.Context(), req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Created(w, title, s.logger)
}

// handleGetTitle returns one title with its ledger counts.
func (s *Server) handleGetTitle(w http.ResponseWriter, r *http.Request) {
	title, err := s.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, title, s.logger)
}

// handleListTitles returns a page of the catalog.
func (s *Server) handleListTitles(w http.ResponseWriter, r *http.Request) {
	result, err := s.catalog.List(r.Context(), pageParams(r))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, result, s.logger)
}

// handleUpdateTitle edits a title's descriptive fields.
func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateTitleRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	title, err := s.catalog.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, title, s.logger)
}

// SetActiveRequest toggles whether a title accepts loans and reservations.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// handleSetTitleActive activates or deactivates a title.
func (s *Server) handleSetTitleActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	title, err := s.catalog.SetActive(r.Context(), chi.URLParam(r, "id"), req.Active)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, title, s.logger)
}

// handleQueueStats returns pending/ready/fulfilled counts for a title.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reservations.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, stats, s.logger)
}

// handleQueuePosition returns the caller's place in a title's queue.
func (s *Server) handleQueuePosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.reservations.Position(r.Context(), getUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, map[string]int{"position": pos}, s.logger)
}

// handleTrending returns the most-borrowed titles over the trending window.
func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.trending.Trending(r.Context(), limit)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, entries, s.logger)
}
