package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	dErrors "github.com/bookhaven/bookhaven-server/internal/errors"
	"github.com/bookhaven/bookhaven-server/internal/id"
	"github.com/bookhaven/bookhaven-server/internal/store"
)

func TestCreateAndGetTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 3, 3)

	got, err := s.GetTitle(ctx, title.ID)
	if err != nil {
		t.Fatalf("GetTitle: %v", err)
	}
	if got.Title != title.Title {
		t.Errorf("Title: got %q, want %q", got.Title, title.Title)
	}
	if len(got.Authors) != 1 || got.Authors[0] != "Ursula K. Le Guin" {
		t.Errorf("Authors: got %v", got.Authors)
	}
	if got.TotalCopies != 3 || got.AvailableCopies != 3 {
		t.Errorf("copies: got %d/%d, want 3/3", got.AvailableCopies, got.TotalCopies)
	}
	if !got.IsActive {
		t.Error("expected active title")
	}
}

func TestGetTitleNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTitle(context.Background(), "ttl-missing")
	if !errors.Is(err, dErrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateTitleRejectsInconsistentLedger(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	title := &domain.Title{
		ID:              id.MustGenerate(id.PrefixTitle),
		Title:           "Broken",
		IsActive:        true,
		TotalCopies:     2,
		AvailableCopies: 5,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.CreateTitle(context.Background(), title)
	if !errors.Is(err, dErrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateTitleInfoCannotTouchCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 2, 1)

	updated, err := s.UpdateTitleInfo(ctx, title.ID, "New Name", "A Subtitle", []string{"A. Author"})
	if err != nil {
		t.Fatalf("UpdateTitleInfo: %v", err)
	}
	if updated.Title != "New Name" || updated.Subtitle != "A Subtitle" {
		t.Errorf("descriptive fields not updated: %+v", updated)
	}
	if updated.TotalCopies != 2 || updated.AvailableCopies != 1 {
		t.Errorf("copy counts changed: got %d/%d, want 1/2",
			updated.AvailableCopies, updated.TotalCopies)
	}
}

func TestSetTitleActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 1, 1)

	got, err := s.SetTitleActive(ctx, title.ID, false)
	if err != nil {
		t.Fatalf("SetTitleActive: %v", err)
	}
	if got.IsActive {
		t.Error("expected inactive title")
	}

	// Debiting an inactive title reads as not found.
	loan := domain.NewLoan(id.MustGenerate(id.PrefixLoan), "user-1", title.ID, time.Now(), time.Time{})
	err = s.CreateLoan(ctx, loan, "")
	if !errors.Is(err, dErrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive title, got %v", err)
	}
}

func TestListTitles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for range 5 {
		makeTestTitle(t, s, 1, 1)
	}

	result, err := s.ListTitles(ctx, store.PaginationParams{Page: 1, Limit: 3})
	if err != nil {
		t.Fatalf("ListTitles: %v", err)
	}
	if len(result.Items) != 3 {
		t.Errorf("items: got %d, want 3", len(result.Items))
	}
	if result.Pagination.TotalItems != 5 {
		t.Errorf("total: got %d, want 5", result.Pagination.TotalItems)
	}
	if !result.Pagination.HasNextPage {
		t.Error("expected HasNextPage")
	}
}

// TestConcurrentDebitLastCopy races many borrowers for a single copy. Exactly
// one loan may win; everyone else must see OutOfStock, and the ledger must
// end at zero, never below.
func TestConcurrentDebitLastCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 1, 1)

	const borrowers = 10
	var wg sync.WaitGroup
	errs := make([]error, borrowers)

	for i := range borrowers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loan := domain.NewLoan(id.MustGenerate(id.PrefixLoan),
				fmt.Sprintf("user-%d", i), title.ID, time.Now(), time.Time{})
			errs[i] = s.CreateLoan(ctx, loan, "")
		}()
	}
	wg.Wait()

	var wins, outOfStock int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, dErrors.ErrOutOfStock):
			outOfStock++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins: got %d, want 1", wins)
	}
	if outOfStock != borrowers-1 {
		t.Errorf("out of stock: got %d, want %d", outOfStock, borrowers-1)
	}

	got, err := s.GetTitle(ctx, title.ID)
	if err != nil {
		t.Fatalf("GetTitle: %v", err)
	}
	if got.AvailableCopies != 0 {
		t.Errorf("available: got %d, want 0", got.AvailableCopies)
	}
}

// TestCreditPastTotalIsCorruption returns a copy that was never out.
func TestCreditPastTotalIsCorruption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := makeTestTitle(t, s, 1, 1)

	txErr := s.withTx(ctx, func(tx *sql.Tx) error {
		return creditTitle(ctx, tx, title.ID, time.Now())
	})
	if !errors.Is(txErr, dErrors.ErrLedgerCorruption) {
		t.Fatalf("expected ErrLedgerCorruption, got %v", txErr)
	}

	// The failed credit must not have changed the ledger.
	got, err := s.GetTitle(ctx, title.ID)
	if err != nil {
		t.Fatalf("GetTitle: %v", err)
	}
	if got.AvailableCopies != 1 {
		t.Errorf("available: got %d, want 1", got.AvailableCopies)
	}
}
