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

// handleBorrow checks a copy out to the caller. Staff may borrow on behalf
// of another user by setting user_id in the body.
func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req service.BorrowRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	if req.UserID == "" || !isStaff(r.Context()) {
		req.UserID = getUserID(r.Context())
	}

	loan, err := s.loans.Borrow(r.Context(), req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Created(w, loan, s.logger)
}

// handleGetLoan returns one loan. Members only see their own.
func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.loans.Get(r.Context(), ownerScope(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, loan, s.logger)
}

// handleListLoans returns a filtered page of loans. Members are pinned to
// their own; staff may filter freely.
func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	filter := store.LoanFilter{
		UserID:  r.URL.Query().Get("user_id"),
		TitleID: r.URL.Query().Get("title_id"),
		Status:  domain.LoanStatus(r.URL.Query().Get("status")),
		Page:    pageParams(r),
	}
	if !isStaff(r.Context()) {
		filter.UserID = getUserID(r.Context())
	}

	result, err := s.loans.List(r.Context(), filter)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, result, s.logger)
}

// handleReturnLoan brings a copy back.
func (s *Server) handleReturnLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.loans.Return(r.Context(), ownerScope(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, loan, s.logger)
}

// handleMarkLoanLost writes a loan off. Staff only.
func (s *Server) handleMarkLoanLost(w http.ResponseWriter, r *http.Request) {
	loan, err := s.loans.MarkLost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, loan, s.logger)
}
