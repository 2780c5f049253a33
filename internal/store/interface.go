// Package store defines the persistence interface for the Bookhaven server.
//
// The store owns every multi-row atomic unit in the lending core: a ledger
// debit commits in the same transaction as the loan row it pays for, and a
// queue re-rank commits in the same transaction as the status change that
// triggered it. Callers never get to observe (or create) a half-applied
// state, and never hold an in-process lock across a store call.
package store

import (
	"context"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
)

// LoanFilter narrows ListLoans results. Zero values mean "any".
type LoanFilter struct {
	UserID  string
	TitleID string
	Status  domain.LoanStatus
	Page    PaginationParams
}

// ReservationFilter narrows ListReservations results. Zero values mean "any".
type ReservationFilter struct {
	UserID  string
	TitleID string
	Status  domain.ReservationStatus
	Page    PaginationParams
}

// NotificationFilter narrows ListNotifications results.
type NotificationFilter struct {
	UnreadOnly bool
	Page       PaginationParams
}

// QueueStats summarizes a title's reservation queue.
type QueueStats struct {
	Pending   int `json:"pending"`
	Ready     int `json:"ready"`
	Fulfilled int `json:"fulfilled"`
	Total     int `json:"total"`
}

// TitleLoanCount pairs a title with its loan count over some window.
// Used by the trending computation.
type TitleLoanCount struct {
	TitleID string `json:"title_id"`
	Loans   int    `json:"loans"`
}

// Store defines the interface for all persistence operations.
type Store interface {
	// Lifecycle
	Close() error

	// Titles (catalog surface + inventory ledger).
	// AvailableCopies is only ever mutated by CreateLoan, ReturnLoan and
	// MarkLoanLost; UpdateTitleInfo deliberately cannot touch the counts.
	CreateTitle(ctx context.Context, title *domain.Title) error
	GetTitle(ctx context.Context, id string) (*domain.Title, error)
	ListTitles(ctx context.Context, params PaginationParams) (*PaginatedResult[*domain.Title], error)
	UpdateTitleInfo(ctx context.Context, id, titleText, subtitle string, authors []string) (*domain.Title, error)
	SetTitleActive(ctx context.Context, id string, active bool) (*domain.Title, error)

	// Loans. CreateLoan debits the ledger and inserts the loan in one
	// transaction; a non-empty fulfillReservationID additionally marks that
	// READY reservation FULFILLED in the same transaction.
	// Returns ErrNotFound (title missing/inactive), ErrOutOfStock (ledger
	// empty), ErrDuplicateLoan (open loan exists), ErrInvalidState (the
	// reservation to fulfill is not READY).
	CreateLoan(ctx context.Context, loan *domain.Loan, fulfillReservationID string) error
	GetLoan(ctx context.Context, id string) (*domain.Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter) (*PaginatedResult[*domain.Loan], error)
	// ReturnLoan closes an open loan and credits the ledger in one
	// transaction. Returns ErrNotFound, ErrInvalidState (not open), or
	// ErrLedgerCorruption (credit would exceed total copies).
	ReturnLoan(ctx context.Context, loanID string, now time.Time) (*domain.Loan, error)
	// MarkLoanLost closes an open loan without crediting the ledger.
	MarkLoanLost(ctx context.Context, loanID string, now time.Time) (*domain.Loan, error)
	// MarkOverdueLoans transitions every ACTIVE loan past its due date to
	// OVERDUE and returns the affected loans. The ledger is untouched.
	MarkOverdueLoans(ctx context.Context, now time.Time) ([]*domain.Loan, error)
	// ListLoansDueWithin returns open loans due in (now, now+window].
	ListLoansDueWithin(ctx context.Context, now time.Time, window time.Duration) ([]*domain.Loan, error)
	// RecentLoanCounts returns per-title loan counts for loans opened since
	// the given time, most-borrowed first, at most limit entries.
	RecentLoanCounts(ctx context.Context, since time.Time, limit int) ([]TitleLoanCount, error)

	// Reservations. CreateReservation checks the title, the Available rule
	// and the duplicate rule, computes the next dense priority, and inserts —
	// all in one transaction. Returns ErrNotFound, ErrAvailable,
	// ErrDuplicateReservation.
	CreateReservation(ctx context.Context, userID, titleID, notes string, now time.Time) (*domain.Reservation, error)
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) (*PaginatedResult[*domain.Reservation], error)
	GetLiveReservation(ctx context.Context, userID, titleID string) (*domain.Reservation, error)
	// CloseReservation moves a live reservation to CANCELLED or EXPIRED,
	// stamping the appropriate timestamp, and reports the status the
	// reservation held inside the transaction. If that status was PENDING,
	// every higher priority in the title's queue is decremented in the same
	// transaction so the rank sequence stays dense. Returns ErrNotFound or
	// ErrInvalidState (already terminal, or illegal transition).
	CloseReservation(ctx context.Context, id string, to domain.ReservationStatus, now time.Time) (*domain.Reservation, domain.ReservationStatus, error)
	// PromoteReservation advances the head of the title's PENDING queue to
	// READY with a fresh pickup window, re-validating inside its own
	// transaction that the title has more available copies than outstanding
	// READY offers. Returns (nil, nil) when there is nothing to promote: no
	// uncommitted copy, or no PENDING entry. Promotion does not debit the
	// ledger and does not re-rank the remaining queue.
	PromoteReservation(ctx context.Context, titleID string, now time.Time) (*domain.Reservation, error)
	// ListTitlesAwaitingPromotion returns IDs of active titles with a
	// PENDING queue and more available copies than outstanding READY
	// offers, i.e. queues whose promotion was missed.
	ListTitlesAwaitingPromotion(ctx context.Context) ([]string, error)
	// QueuePosition returns the 1-based rank of the user's PENDING
	// reservation, or 0 if the user has none.
	QueuePosition(ctx context.Context, userID, titleID string) (int, error)
	// ListExpiredReservations returns live reservations whose window lapsed
	// at or before now.
	ListExpiredReservations(ctx context.Context, now time.Time) ([]*domain.Reservation, error)
	QueueStats(ctx context.Context, titleID string) (*QueueStats, error)

	// Notifications
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, userID string, filter NotificationFilter) (*PaginatedResult[*domain.Notification], error)
	MarkNotificationRead(ctx context.Context, userID, id string, now time.Time) (*domain.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, userID string, now time.Time) (int, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
}
