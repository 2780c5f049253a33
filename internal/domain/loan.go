package domain

import "time"

// LoanStatus represents the lifecycle state of a loan.
type LoanStatus string

const (
	// LoanStatusActive indicates the copy is out with the borrower.
	LoanStatusActive LoanStatus = "ACTIVE"
	// LoanStatusReturned indicates the copy came back and the ledger was credited.
	LoanStatusReturned LoanStatus = "RETURNED"
	// LoanStatusOverdue indicates the due date passed without a return.
	// The copy is still out, so the ledger debit stands.
	LoanStatusOverdue LoanStatus = "OVERDUE"
	// LoanStatusLost is an administrative terminal state. The copy does not
	// come back and the ledger is not credited.
	LoanStatusLost LoanStatus = "LOST"
)

// DefaultLoanPeriod is the loan duration applied when no due date is given.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// Valid reports whether s is a known loan status.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusActive, LoanStatusReturned, LoanStatusOverdue, LoanStatusLost:
		return true
	}
	return false
}

// Open reports whether the loan still holds a copy for ledger purposes.
// OVERDUE loans are open: the borrower simply hasn't brought the copy back.
func (s LoanStatus) Open() bool {
	return s == LoanStatusActive || s == LoanStatusOverdue
}

// CanTransitionTo reports whether next is a legal lifecycle transition.
// Transitions are checked at every status change so an illegal edge is a
// programming error surfaced immediately, not silently stored.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	switch s {
	case LoanStatusActive:
		return next == LoanStatusReturned || next == LoanStatusOverdue || next == LoanStatusLost
	case LoanStatusOverdue:
		return next == LoanStatusReturned || next == LoanStatusLost
	default:
		// RETURNED and LOST are terminal.
		return false
	}
}

// Loan represents a borrowing record against a title.
// A user holds at most one open loan per title at a time.
type Loan struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TitleID    string     `json:"title_id"`
	Status     LoanStatus `json:"status"`
	LoanDate   time.Time  `json:"loan_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewLoan creates an active loan starting now. A zero dueDate defaults to
// loanDate + DefaultLoanPeriod.
func NewLoan(id, userID, titleID string, now, dueDate time.Time) *Loan {
	if dueDate.IsZero() {
		dueDate = now.Add(DefaultLoanPeriod)
	}
	return &Loan{
		ID:        id,
		UserID:    userID,
		TitleID:   titleID,
		Status:    LoanStatusActive,
		LoanDate:  now,
		DueDate:   dueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsOpen reports whether the loan still holds a copy.
func (l *Loan) IsOpen() bool {
	return l.Status.Open()
}

// IsOverdue reports whether an open loan's due date has passed.
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.IsOpen() && l.DueDate.Before(now)
}
