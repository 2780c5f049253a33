package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	dErrors "github.com/bookhaven/bookhaven-server/internal/errors"
	"github.com/bookhaven/bookhaven-server/internal/id"
)

// makeReservedTitle creates a title whose single copy is already out on loan
// to "borrower", so new reservations are accepted.
func makeReservedTitle(t *testing.T, s *Store) (*domain.Title, *domain.Loan) {
	t.Helper()
	title := makeTestTitle(t, s, 1, 1)
	loan := makeTestLoan(t, s, "borrower", title.ID)
	return title, loan
}

func reserve(t *testing.T, s *Store, userID, titleID string) *domain.Reservation {
	t.Helper()
	r, err := s.CreateReservation(context.Background(), userID, titleID, "", time.Now())
	if err != nil {
		t.Fatalf("CreateReservation(%s): %v", userID, err)
	}
	return r
}

func TestCreateReservationWhileAvailable(t *testing.T) {
	s := newTestStore(t)

	title := makeTestTitle(t, s, 1, 1)
	_, err := s.CreateReservation(context.Background(), "user-1", title.ID, "", time.Now())
	if !errors.Is(err, dErrors.ErrAvailable) {
		t.Fatalf("expected ErrAvailable, got %v", err)
	}
}

func TestCreateReservationDensePriorities(t *testing.T) {
	s := newTestStore(t)

	title, _ := makeReservedTitle(t, s)

	r1 := reserve(t, s, "user-1", title.ID)
	r2 := reserve(t, s, "user-2", title.ID)
	r3 := reserve(t, s, "user-3", title.ID)

	for i, r := range []*domain.Reservation{r1, r2, r3} {
		if r.Status != domain.ReservationStatusPending {
			t.Errorf("r%d status: got %s, want PENDING", i+1, r.Status)
		}
		if r.Priority != i {
			t.Errorf("r%d priority: got %d, want %d", i+1, r.Priority, i)
		}
	}

	if want := r1.CreatedAt.Add(domain.ResponseWindow); !r1.ExpiresAt.Equal(want) {
		t.Errorf("response window: got %v, want %v", r1.ExpiresAt, want)
	}
}

func TestCreateReservationDuplicate(t *testing.T) {
	s := newTestStore(t)

	title, _ := makeReservedTitle(t, s)
	reserve(t, s, "user-1", title.ID)

	_, err := s.CreateReservation(context.Background(), "user-1", title.ID, "", time.Now())
	if !errors.Is(err, dErrors.ErrDuplicateReservation) {
		t.Fatalf("expected ErrDuplicateReservation, got %v", err)
	}
}

func TestCreateReservationMissingTitle(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateReservation(context.Background(), "user-1", "ttl-missing", "", time.Now())
	if !errors.Is(err, dErrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestCancelPendingReRanksQueue removes the middle of a three-deep queue and
// checks the remaining ranks close up with no gap.
func TestCancelPendingReRanksQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, _ := makeReservedTitle(t, s)
	r1 := reserve(t, s, "user-1", title.ID)
	r2 := reserve(t, s, "user-2", title.ID)
	r3 := reserve(t, s, "user-3", title.ID)

	cancelled, from, err := s.CloseReservation(ctx, r2.ID, domain.ReservationStatusCancelled, time.Now())
	if err != nil {
		t.Fatalf("CloseReservation: %v", err)
	}
	if cancelled.Status != domain.ReservationStatusCancelled {
		t.Errorf("status: got %s, want CANCELLED", cancelled.Status)
	}
	if from != domain.ReservationStatusPending {
		t.Errorf("prior status: got %s, want PENDING", from)
	}
	if cancelled.CancelledAt == nil {
		t.Error("expected cancelled_at stamp")
	}

	// user-1 keeps rank 0, user-3 moves up from 2 to 1.
	got1, _ := s.GetReservation(ctx, r1.ID)
	got3, _ := s.GetReservation(ctx, r3.ID)
	if got1.Priority != 0 {
		t.Errorf("r1 priority: got %d, want 0", got1.Priority)
	}
	if got3.Priority != 1 {
		t.Errorf("r3 priority: got %d, want 1", got3.Priority)
	}

	pos, err := s.QueuePosition(ctx, "user-3", title.ID)
	if err != nil {
		t.Fatalf("QueuePosition: %v", err)
	}
	if pos != 2 {
		t.Errorf("user-3 position: got %d, want 2", pos)
	}

	// The cancelled reservation is terminal: closing again is invalid.
	_, _, err = s.CloseReservation(ctx, r2.ID, domain.ReservationStatusExpired, time.Now())
	if !errors.Is(err, dErrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPromoteReservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, loan := makeReservedTitle(t, s)
	r1 := reserve(t, s, "user-1", title.ID)
	r2 := reserve(t, s, "user-2", title.ID)

	// No copy available yet: promotion is a no-op.
	promoted, err := s.PromoteReservation(ctx, title.ID, time.Now())
	if err != nil {
		t.Fatalf("PromoteReservation: %v", err)
	}
	if promoted != nil {
		t.Fatalf("promoted with no available copy: %+v", promoted)
	}

	if _, err := s.ReturnLoan(ctx, loan.ID, time.Now()); err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}

	now := time.Now()
	promoted, err = s.PromoteReservation(ctx, title.ID, now)
	if err != nil {
		t.Fatalf("PromoteReservation: %v", err)
	}
	if promoted == nil || promoted.ID != r1.ID {
		t.Fatalf("promoted: got %+v, want head %s", promoted, r1.ID)
	}
	if promoted.Status != domain.ReservationStatusReady {
		t.Errorf("status: got %s, want READY", promoted.Status)
	}
	if want := now.Add(domain.PickupWindow); !promoted.ExpiresAt.Equal(want) {
		t.Errorf("pickup window: got %v, want %v", promoted.ExpiresAt, want)
	}

	// Promotion does not re-rank: user-2 keeps rank 1 but now heads the
	// PENDING queue, so their position reads 1.
	got2, _ := s.GetReservation(ctx, r2.ID)
	if got2.Priority != 1 {
		t.Errorf("r2 priority: got %d, want 1", got2.Priority)
	}
	pos, _ := s.QueuePosition(ctx, "user-2", title.ID)
	if pos != 1 {
		t.Errorf("user-2 position: got %d, want 1", pos)
	}

	// Promotion did not debit: the returned copy is still on the shelf.
	after, _ := s.GetTitle(ctx, title.ID)
	if after.AvailableCopies != 1 {
		t.Errorf("available: got %d, want 1", after.AvailableCopies)
	}

	// The copy is spoken for by the READY holder; promoting again while it
	// sits on the shelf must not promise the same copy to user-2.
	promoted, err = s.PromoteReservation(ctx, title.ID, time.Now())
	if err != nil {
		t.Fatalf("PromoteReservation: %v", err)
	}
	if promoted != nil {
		t.Fatalf("second promotion with no unclaimed copy: %+v", promoted)
	}
}

func TestPromoteEmptyQueue(t *testing.T) {
	s := newTestStore(t)

	title := makeTestTitle(t, s, 1, 1)
	promoted, err := s.PromoteReservation(context.Background(), title.ID, time.Now())
	if err != nil {
		t.Fatalf("PromoteReservation: %v", err)
	}
	if promoted != nil {
		t.Fatalf("promoted from empty queue: %+v", promoted)
	}
}

// TestFulfillReservationViaLoan walks the happy path: reserve while out of
// stock, return, promote, then borrow against the READY reservation. The loan
// insert and the FULFILLED flip are one transaction.
func TestFulfillReservationViaLoan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, loan := makeReservedTitle(t, s)
	r := reserve(t, s, "user-1", title.ID)

	if _, err := s.ReturnLoan(ctx, loan.ID, time.Now()); err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}
	if _, err := s.PromoteReservation(ctx, title.ID, time.Now()); err != nil {
		t.Fatalf("PromoteReservation: %v", err)
	}

	newLoan := domain.NewLoan(id.MustGenerate(id.PrefixLoan), "user-1", title.ID, time.Now(), time.Time{})
	if err := s.CreateLoan(ctx, newLoan, r.ID); err != nil {
		t.Fatalf("CreateLoan with fulfillment: %v", err)
	}

	fulfilled, err := s.GetReservation(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if fulfilled.Status != domain.ReservationStatusFulfilled {
		t.Errorf("status: got %s, want FULFILLED", fulfilled.Status)
	}
	if fulfilled.FulfilledAt == nil {
		t.Error("expected fulfilled_at stamp")
	}

	after, _ := s.GetTitle(ctx, title.ID)
	if after.AvailableCopies != 0 {
		t.Errorf("available: got %d, want 0", after.AvailableCopies)
	}
}

func TestFulfillPendingReservationRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, loan := makeReservedTitle(t, s)
	r := reserve(t, s, "user-1", title.ID)

	if _, err := s.ReturnLoan(ctx, loan.ID, time.Now()); err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}

	// Still PENDING: the loan must be refused whole, leaving the ledger and
	// the reservation untouched.
	newLoan := domain.NewLoan(id.MustGenerate(id.PrefixLoan), "user-1", title.ID, time.Now(), time.Time{})
	err := s.CreateLoan(ctx, newLoan, r.ID)
	if !errors.Is(err, dErrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	got, _ := s.GetReservation(ctx, r.ID)
	if got.Status != domain.ReservationStatusPending {
		t.Errorf("status: got %s, want PENDING", got.Status)
	}
	after, _ := s.GetTitle(ctx, title.ID)
	if after.AvailableCopies != 1 {
		t.Errorf("available: got %d, want 1", after.AvailableCopies)
	}
}

func TestFulfillSomeoneElsesReservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, loan := makeReservedTitle(t, s)
	r := reserve(t, s, "user-1", title.ID)

	if _, err := s.ReturnLoan(ctx, loan.ID, time.Now()); err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}
	if _, err := s.PromoteReservation(ctx, title.ID, time.Now()); err != nil {
		t.Fatalf("PromoteReservation: %v", err)
	}

	newLoan := domain.NewLoan(id.MustGenerate(id.PrefixLoan), "user-2", title.ID, time.Now(), time.Time{})
	err := s.CreateLoan(ctx, newLoan, r.ID)
	if !errors.Is(err, dErrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestQueuePositionNone(t *testing.T) {
	s := newTestStore(t)

	title, _ := makeReservedTitle(t, s)
	pos, err := s.QueuePosition(context.Background(), "user-9", title.ID)
	if err != nil {
		t.Fatalf("QueuePosition: %v", err)
	}
	if pos != 0 {
		t.Errorf("position: got %d, want 0", pos)
	}
}

func TestListExpiredReservations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, _ := makeReservedTitle(t, s)
	r1 := reserve(t, s, "user-1", title.ID)
	reserve(t, s, "user-2", title.ID)

	// Nothing lapsed yet.
	expired, err := s.ListExpiredReservations(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListExpiredReservations: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expired now: got %d, want 0", len(expired))
	}

	// Past the response window both entries are sweepable; the boundary
	// instant itself counts as lapsed.
	expired, err = s.ListExpiredReservations(ctx, r1.ExpiresAt)
	if err != nil {
		t.Fatalf("ListExpiredReservations: %v", err)
	}
	if len(expired) < 1 {
		t.Fatalf("expired at boundary: got %d, want >= 1", len(expired))
	}
	if expired[0].ID != r1.ID {
		t.Errorf("queue order: got %s first, want %s", expired[0].ID, r1.ID)
	}
}

func TestExpirePendingReRanks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, _ := makeReservedTitle(t, s)
	r1 := reserve(t, s, "user-1", title.ID)
	r2 := reserve(t, s, "user-2", title.ID)

	if _, _, err := s.CloseReservation(ctx, r1.ID, domain.ReservationStatusExpired, time.Now()); err != nil {
		t.Fatalf("CloseReservation: %v", err)
	}

	got2, _ := s.GetReservation(ctx, r2.ID)
	if got2.Priority != 0 {
		t.Errorf("r2 priority after head expiry: got %d, want 0", got2.Priority)
	}
}

// TestCloseReservationReportsPriorStatus checks the close reports the status
// it observed in its own transaction. A caller deciding whether a freed READY
// slot needs a follow-up promotion must not rely on an earlier read, which a
// concurrent promotion can make stale.
func TestCloseReservationReportsPriorStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, loan := makeReservedTitle(t, s)
	r := reserve(t, s, "user-1", title.ID)

	if _, err := s.ReturnLoan(ctx, loan.ID, time.Now()); err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}
	if _, err := s.PromoteReservation(ctx, title.ID, time.Now()); err != nil {
		t.Fatalf("PromoteReservation: %v", err)
	}

	_, from, err := s.CloseReservation(ctx, r.ID, domain.ReservationStatusCancelled, time.Now())
	if err != nil {
		t.Fatalf("CloseReservation: %v", err)
	}
	if from != domain.ReservationStatusReady {
		t.Errorf("prior status: got %s, want READY", from)
	}
}

func TestListTitlesAwaitingPromotion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, loan := makeReservedTitle(t, s)
	reserve(t, s, "user-1", title.ID)

	// Copy still out: nothing to promote.
	awaiting, err := s.ListTitlesAwaitingPromotion(ctx)
	if err != nil {
		t.Fatalf("ListTitlesAwaitingPromotion: %v", err)
	}
	if len(awaiting) != 0 {
		t.Fatalf("awaiting with no free copy: got %v", awaiting)
	}

	// Returned but never promoted: the title surfaces for repair.
	if _, err := s.ReturnLoan(ctx, loan.ID, time.Now()); err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}
	awaiting, err = s.ListTitlesAwaitingPromotion(ctx)
	if err != nil {
		t.Fatalf("ListTitlesAwaitingPromotion: %v", err)
	}
	if len(awaiting) != 1 || awaiting[0] != title.ID {
		t.Fatalf("awaiting after unpromoted return: got %v, want [%s]", awaiting, title.ID)
	}

	// Once promoted the free copy is claimed by the READY offer.
	if _, err := s.PromoteReservation(ctx, title.ID, time.Now()); err != nil {
		t.Fatalf("PromoteReservation: %v", err)
	}
	awaiting, err = s.ListTitlesAwaitingPromotion(ctx)
	if err != nil {
		t.Fatalf("ListTitlesAwaitingPromotion: %v", err)
	}
	if len(awaiting) != 0 {
		t.Fatalf("awaiting after promotion: got %v", awaiting)
	}
}

func TestQueueStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, loan := makeReservedTitle(t, s)
	reserve(t, s, "user-1", title.ID)
	reserve(t, s, "user-2", title.ID)

	if _, err := s.ReturnLoan(ctx, loan.ID, time.Now()); err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}
	if _, err := s.PromoteReservation(ctx, title.ID, time.Now()); err != nil {
		t.Fatalf("PromoteReservation: %v", err)
	}

	stats, err := s.QueueStats(ctx, title.ID)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Pending != 1 || stats.Ready != 1 || stats.Total != 2 {
		t.Errorf("stats: got %+v", stats)
	}
}
