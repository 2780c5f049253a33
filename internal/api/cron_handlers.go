package api

import (
	"net/http"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/http/response"
)

// handleCronDaily runs the full daily maintenance pass: flip overdue loans,
// remind upcoming due dates, sweep expired reservations. Each step reports
// its count; a failing step fails the call so the scheduler retries.
func (s *Server) handleCronDaily(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()

	overdue, err := s.loans.MarkOverdue(ctx, now)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	reminded, err := s.loans.RemindDueSoon(ctx, now)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	expired, err := s.reservations.Sweep(ctx, now)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, map[string]int{
		"overdue":  overdue,
		"reminded": reminded,
		"expired":  expired,
	}, s.logger)
}

// handleCronSweep expires lapsed reservations.
func (s *Server) handleCronSweep(w http.ResponseWriter, r *http.Request) {
	expired, err := s.reservations.Sweep(r.Context(), time.Now())
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, map[string]int{"expired": expired}, s.logger)
}

// handleCronOverdue flips ACTIVE loans past their due date.
func (s *Server) handleCronOverdue(w http.ResponseWriter, r *http.Request) {
	overdue, err := s.loans.MarkOverdue(r.Context(), time.Now())
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, map[string]int{"overdue": overdue}, s.logger)
}

// handleCronRemindDue sends due-soon reminders.
func (s *Server) handleCronRemindDue(w http.ResponseWriter, r *http.Request) {
	reminded, err := s.loans.RemindDueSoon(r.Context(), time.Now())
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, map[string]int{"reminded": reminded}, s.logger)
}
