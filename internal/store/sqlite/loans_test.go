package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	dErrors "github.com/bookhaven/bookhaven-server/internal/errors"
	"github.com/bookhaven/bookhaven-server/internal/id"
	"github.com/bookhaven/bookhaven-server/internal/store"
)

// makeTestLoan creates an ACTIVE loan for the user against the title.
func makeTestLoan(t *testing.T, s *Store, userID, titleID string) *domain.Loan {
	t.Helper()
	loan := domain.NewLoan(id.MustGenerate(id.PrefixLoan), userID, titleID, time.Now(), time.Time{})
	if err := s.CreateLoan(context.Background(), loan, ""); err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	return loan
}

func TestCreateLoanDebitsLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 2, 2)
	loan := makeTestLoan(t, s, "user-1", title.ID)

	got, err := s.GetLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("GetLoan: %v", err)
	}
	if got.Status != domain.LoanStatusActive {
		t.Errorf("status: got %s, want ACTIVE", got.Status)
	}
	if want := loan.LoanDate.Add(domain.DefaultLoanPeriod); !got.DueDate.Equal(want.UTC()) {
		t.Errorf("due date: got %v, want %v", got.DueDate, want)
	}

	after, err := s.GetTitle(ctx, title.ID)
	if err != nil {
		t.Fatalf("GetTitle: %v", err)
	}
	if after.AvailableCopies != 1 {
		t.Errorf("available: got %d, want 1", after.AvailableCopies)
	}
}

func TestCreateLoanOutOfStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 1, 1)
	makeTestLoan(t, s, "user-1", title.ID)

	loan := domain.NewLoan(id.MustGenerate(id.PrefixLoan), "user-2", title.ID, time.Now(), time.Time{})
	err := s.CreateLoan(ctx, loan, "")
	if !errors.Is(err, dErrors.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
}

func TestCreateLoanDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 3, 3)
	makeTestLoan(t, s, "user-1", title.ID)

	// Same user, same title, copies still available: refused as duplicate,
	// and the refusal must not debit the ledger.
	loan := domain.NewLoan(id.MustGenerate(id.PrefixLoan), "user-1", title.ID, time.Now(), time.Time{})
	err := s.CreateLoan(ctx, loan, "")
	if !errors.Is(err, dErrors.ErrDuplicateLoan) {
		t.Fatalf("expected ErrDuplicateLoan, got %v", err)
	}

	after, err := s.GetTitle(ctx, title.ID)
	if err != nil {
		t.Fatalf("GetTitle: %v", err)
	}
	if after.AvailableCopies != 2 {
		t.Errorf("available: got %d, want 2", after.AvailableCopies)
	}
}

func TestCreateLoanMissingTitle(t *testing.T) {
	s := newTestStore(t)

	loan := domain.NewLoan(id.MustGenerate(id.PrefixLoan), "user-1", "ttl-missing", time.Now(), time.Time{})
	err := s.CreateLoan(context.Background(), loan, "")
	if !errors.Is(err, dErrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReturnLoanCreditsLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 1, 1)
	loan := makeTestLoan(t, s, "user-1", title.ID)

	now := time.Now()
	returned, err := s.ReturnLoan(ctx, loan.ID, now)
	if err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}
	if returned.Status != domain.LoanStatusReturned {
		t.Errorf("status: got %s, want RETURNED", returned.Status)
	}
	if returned.ReturnDate == nil {
		t.Error("expected return date")
	}

	after, err := s.GetTitle(ctx, title.ID)
	if err != nil {
		t.Fatalf("GetTitle: %v", err)
	}
	if after.AvailableCopies != 1 {
		t.Errorf("available: got %d, want 1", after.AvailableCopies)
	}

	// Returning again is an invalid transition, not a second credit.
	_, err = s.ReturnLoan(ctx, loan.ID, now)
	if !errors.Is(err, dErrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	after, _ = s.GetTitle(ctx, title.ID)
	if after.AvailableCopies != 1 {
		t.Errorf("double return credited ledger: available %d", after.AvailableCopies)
	}
}

func TestReturnOverdueLoan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 1, 1)
	loan := makeTestLoan(t, s, "user-1", title.ID)

	// Push it overdue first.
	if _, err := s.MarkOverdueLoans(ctx, loan.DueDate.Add(time.Hour)); err != nil {
		t.Fatalf("MarkOverdueLoans: %v", err)
	}

	returned, err := s.ReturnLoan(ctx, loan.ID, time.Now())
	if err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}
	if returned.Status != domain.LoanStatusReturned {
		t.Errorf("status: got %s, want RETURNED", returned.Status)
	}
}

func TestMarkLoanLostKeepsDebit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 2, 2)
	loan := makeTestLoan(t, s, "user-1", title.ID)

	lost, err := s.MarkLoanLost(ctx, loan.ID, time.Now())
	if err != nil {
		t.Fatalf("MarkLoanLost: %v", err)
	}
	if lost.Status != domain.LoanStatusLost {
		t.Errorf("status: got %s, want LOST", lost.Status)
	}
	if lost.ReturnDate != nil {
		t.Error("lost loan must not have a return date")
	}

	// The copy is gone; the ledger stays debited.
	after, err := s.GetTitle(ctx, title.ID)
	if err != nil {
		t.Fatalf("GetTitle: %v", err)
	}
	if after.AvailableCopies != 1 {
		t.Errorf("available: got %d, want 1", after.AvailableCopies)
	}
}

func TestMarkOverdueLoans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 3, 3)
	overdueLoan := makeTestLoan(t, s, "user-1", title.ID)
	currentLoan := makeTestLoan(t, s, "user-2", title.ID)

	cutoff := overdueLoan.DueDate.Add(time.Minute)
	if cutoff.After(currentLoan.DueDate) {
		// Both loans share the default period; nudge the second one out.
		_, err := s.db.Exec(`UPDATE loans SET due_date = ? WHERE id = ?`,
			formatTime(cutoff.Add(24*time.Hour)), currentLoan.ID)
		if err != nil {
			t.Fatalf("adjust due date: %v", err)
		}
	}

	flipped, err := s.MarkOverdueLoans(ctx, cutoff)
	if err != nil {
		t.Fatalf("MarkOverdueLoans: %v", err)
	}
	if len(flipped) != 1 || flipped[0].ID != overdueLoan.ID {
		t.Fatalf("flipped: got %+v, want just %s", flipped, overdueLoan.ID)
	}
	if flipped[0].Status != domain.LoanStatusOverdue {
		t.Errorf("status: got %s, want OVERDUE", flipped[0].Status)
	}

	// Idempotent: a second sweep finds nothing.
	again, err := s.MarkOverdueLoans(ctx, cutoff)
	if err != nil {
		t.Fatalf("MarkOverdueLoans again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second sweep flipped %d loans", len(again))
	}
}

func TestListLoansDueWithin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 2, 2)
	loan := makeTestLoan(t, s, "user-1", title.ID)

	// Due in 14 days: visible in a 15-day window, not in a 1-day window.
	due, err := s.ListLoansDueWithin(ctx, time.Now(), 15*24*time.Hour)
	if err != nil {
		t.Fatalf("ListLoansDueWithin: %v", err)
	}
	if len(due) != 1 || due[0].ID != loan.ID {
		t.Errorf("15d window: got %d loans", len(due))
	}

	due, err = s.ListLoansDueWithin(ctx, time.Now(), 24*time.Hour)
	if err != nil {
		t.Fatalf("ListLoansDueWithin: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("1d window: got %d loans, want 0", len(due))
	}
}

func TestListLoansFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	titleA := makeTestTitle(t, s, 2, 2)
	titleB := makeTestTitle(t, s, 2, 2)
	makeTestLoan(t, s, "user-1", titleA.ID)
	makeTestLoan(t, s, "user-1", titleB.ID)
	makeTestLoan(t, s, "user-2", titleA.ID)

	result, err := s.ListLoans(ctx, store.LoanFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("ListLoans: %v", err)
	}
	if len(result.Items) != 2 {
		t.Errorf("user-1 loans: got %d, want 2", len(result.Items))
	}

	result, err = s.ListLoans(ctx, store.LoanFilter{TitleID: titleA.ID, Status: domain.LoanStatusActive})
	if err != nil {
		t.Fatalf("ListLoans: %v", err)
	}
	if len(result.Items) != 2 {
		t.Errorf("titleA active loans: got %d, want 2", len(result.Items))
	}
}

func TestRecentLoanCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	titleA := makeTestTitle(t, s, 5, 5)
	titleB := makeTestTitle(t, s, 5, 5)
	makeTestLoan(t, s, "user-1", titleA.ID)
	makeTestLoan(t, s, "user-2", titleA.ID)
	makeTestLoan(t, s, "user-1", titleB.ID)

	counts, err := s.RecentLoanCounts(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("RecentLoanCounts: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("counts: got %d entries, want 2", len(counts))
	}
	if counts[0].TitleID != titleA.ID || counts[0].Loans != 2 {
		t.Errorf("top entry: got %+v", counts[0])
	}
}
