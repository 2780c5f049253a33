package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	domainerrors "github.com/bookhaven/bookhaven-server/internal/errors"
	"github.com/bookhaven/bookhaven-server/internal/id"
	"github.com/bookhaven/bookhaven-server/internal/store"
	"github.com/bookhaven/bookhaven-server/internal/validation"
)

// DueSoonWindow is how far ahead the due-soon reminder looks.
const DueSoonWindow = 24 * time.Hour

// LoanService orchestrates borrowing and the ledger movements that go with it.
type LoanService struct {
	store        store.Store
	reservations *ReservationService
	notifier     Notifier
	validate     *validation.Validator
	logger       *slog.Logger
}

// NewLoanService creates a new loan service.
func NewLoanService(st store.Store, reservations *ReservationService, notifier Notifier, logger *slog.Logger) *LoanService {
	return &LoanService{
		store:        st,
		reservations: reservations,
		notifier:     notifier,
		validate:     validation.New(),
		logger:       logger,
	}
}

// BorrowRequest is the payload for checking out a copy.
type BorrowRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	TitleID string `json:"title_id" validate:"required"`
	// DueDate optionally overrides the default loan period, RFC 3339.
	DueDate string `json:"due_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Borrow checks a copy out to the user. If the user holds a READY reservation
// for the title it is fulfilled by this loan in the same transaction, closing
// the reserve-then-borrow loop.
func (s *LoanService) Borrow(ctx context.Context, req BorrowRequest) (*domain.Loan, error) {
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	var dueDate time.Time
	if req.DueDate != "" {
		parsed, err := time.Parse(time.RFC3339, req.DueDate)
		if err != nil {
			return nil, domainerrors.Validation("due_date must be RFC 3339")
		}
		if !parsed.After(time.Now()) {
			return nil, domainerrors.Validation("due_date must be in the future")
		}
		dueDate = parsed
	}

	loanID, err := id.Generate(id.PrefixLoan)
	if err != nil {
		return nil, fmt.Errorf("generate loan ID: %w", err)
	}
	loan := domain.NewLoan(loanID, req.UserID, req.TitleID, time.Now(), dueDate)

	// A READY reservation held by this user is consumed by the loan. A failed
	// lookup aborts the borrow: proceeding would leave the user holding both
	// an open loan and a live READY offer for the same title.
	var fulfillID string
	live, err := s.store.GetLiveReservation(ctx, req.UserID, req.TitleID)
	switch {
	case err == nil:
		if live.Status == domain.ReservationStatusReady {
			fulfillID = live.ID
		}
	case !errors.Is(err, domainerrors.ErrNotFound):
		return nil, fmt.Errorf("look up live reservation: %w", err)
	}

	if err := s.store.CreateLoan(ctx, loan, fulfillID); err != nil {
		return nil, err
	}

	s.logger.Info("loan created",
		"loan_id", loan.ID,
		"user_id", loan.UserID,
		"title_id", loan.TitleID,
		"due_date", loan.DueDate,
		"fulfilled_reservation", fulfillID,
	)
	return loan, nil
}

// Get retrieves a loan, restricted to its borrower when userID is set.
func (s *LoanService) Get(ctx context.Context, userID, loanID string) (*domain.Loan, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if userID != "" && loan.UserID != userID {
		return nil, domainerrors.ErrForbidden
	}
	return loan, nil
}

// List returns a filtered page of loans.
func (s *LoanService) List(ctx context.Context, filter store.LoanFilter) (*store.PaginatedResult[*domain.Loan], error) {
	return s.store.ListLoans(ctx, filter)
}

// Return brings a copy back. When userID is set the loan must belong to that
// user; staff callers pass an empty userID.
//
// The credit commits with the status change; the queue promotion that may
// follow runs afterwards and its failure never unwinds the return.
func (s *LoanService) Return(ctx context.Context, userID, loanID string) (*domain.Loan, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if userID != "" && loan.UserID != userID {
		return nil, domainerrors.ErrForbidden
	}

	returned, err := s.store.ReturnLoan(ctx, loanID, time.Now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("loan returned",
		"loan_id", returned.ID,
		"user_id", returned.UserID,
		"title_id", returned.TitleID,
	)

	s.reservations.PromoteNext(ctx, returned.TitleID)
	return returned, nil
}

// MarkLost writes a loan off. The copy does not come back, the ledger keeps
// the debit, and nobody gets promoted.
func (s *LoanService) MarkLost(ctx context.Context, loanID string) (*domain.Loan, error) {
	lost, err := s.store.MarkLoanLost(ctx, loanID, time.Now())
	if err != nil {
		return nil, err
	}

	s.logger.Warn("loan marked lost",
		"loan_id", lost.ID,
		"user_id", lost.UserID,
		"title_id", lost.TitleID,
	)
	return lost, nil
}

// MarkOverdue flips every ACTIVE loan past its due date to OVERDUE and
// notifies the borrowers. Returns how many loans flipped.
func (s *LoanService) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	flipped, err := s.store.MarkOverdueLoans(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("mark overdue loans: %w", err)
	}

	for _, loan := range flipped {
		s.logger.Info("loan overdue",
			"loan_id", loan.ID,
			"user_id", loan.UserID,
			"title_id", loan.TitleID,
			"due_date", loan.DueDate,
		)
		s.notifyWithTitle(ctx, loan, s.notifier.LoanOverdue)
	}
	return len(flipped), nil
}

// RemindDueSoon notifies borrowers whose loans come due within DueSoonWindow.
// Returns how many reminders went out.
func (s *LoanService) RemindDueSoon(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListLoansDueWithin(ctx, now, DueSoonWindow)
	if err != nil {
		return 0, fmt.Errorf("list due loans: %w", err)
	}

	for _, loan := range due {
		s.notifyWithTitle(ctx, loan, s.notifier.LoanDueSoon)
	}
	return len(due), nil
}

func (s *LoanService) notifyWithTitle(ctx context.Context, loan *domain.Loan, notify func(context.Context, *domain.Loan, *domain.Title)) {
	title, err := s.store.GetTitle(ctx, loan.TitleID)
	if err != nil {
		s.logger.Error("loan title lookup failed", "loan_id", loan.ID, "title_id", loan.TitleID, "error", err)
		return
	}
	notify(ctx, loan, title)
}
