package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	"github.com/bookhaven/bookhaven-server/internal/store"
	"github.com/bookhaven/bookhaven-server/internal/store/sqlite"
)

// recordingNotifier captures dispatched notifications for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	ready   []*domain.Reservation
	dueSoon []*domain.Loan
	overdue []*domain.Loan
}

func (n *recordingNotifier) ReservationReady(_ context.Context, r *domain.Reservation, _ *domain.Title) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready = append(n.ready, r)
}

func (n *recordingNotifier) LoanDueSoon(_ context.Context, l *domain.Loan, _ *domain.Title) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dueSoon = append(n.dueSoon, l)
}

func (n *recordingNotifier) LoanOverdue(_ context.Context, l *domain.Loan, _ *domain.Title) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.overdue = append(n.overdue, l)
}

type testServices struct {
	store        store.Store
	notifier     *recordingNotifier
	catalog      *CatalogService
	loans        *LoanService
	reservations *ReservationService
}

func setupServices(t *testing.T) *testServices {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := sqlite.Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.DiscardHandler)
	notifier := &recordingNotifier{}
	reservations := NewReservationService(st, notifier, logger)

	return &testServices{
		store:        st,
		notifier:     notifier,
		catalog:      NewCatalogService(st, logger),
		loans:        NewLoanService(st, reservations, notifier, logger),
		reservations: reservations,
	}
}

// createTitle adds a title through the catalog service.
func (ts *testServices) createTitle(t *testing.T, copies int) *domain.Title {
	t.Helper()
	title, err := ts.catalog.CreateTitle(context.Background(), CreateTitleRequest{
		Title:       "A Wizard of Earthsea",
		Authors:     []string{"Ursula K. Le Guin"},
		TotalCopies: copies,
	})
	require.NoError(t, err)
	return title
}

// borrow checks the title out to the user.
func (ts *testServices) borrow(t *testing.T, userID, titleID string) *domain.Loan {
	t.Helper()
	loan, err := ts.loans.Borrow(context.Background(), BorrowRequest{
		UserID:  userID,
		TitleID: titleID,
	})
	require.NoError(t, err)
	return loan
}

// reserve joins the title's queue as the user.
func (ts *testServices) reserve(t *testing.T, userID, titleID string) *domain.Reservation {
	t.Helper()
	r, err := ts.reservations.Reserve(context.Background(), ReserveRequest{
		UserID:  userID,
		TitleID: titleID,
	})
	require.NoError(t, err)
	return r
}
