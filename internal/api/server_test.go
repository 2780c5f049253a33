package api

import (
	"bytes"
	"encoding/json/v2"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookhaven/bookhaven-server/internal/cache"
	"github.com/bookhaven/bookhaven-server/internal/domain"
	"github.com/bookhaven/bookhaven-server/internal/ratelimit"
	"github.com/bookhaven/bookhaven-server/internal/service"
	"github.com/bookhaven/bookhaven-server/internal/store/sqlite"
)

// testEnvelope mirrors the response envelope for decoding in tests.
type testEnvelope[T any] struct {
	Data    T                 `json:"data"`
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details"`
	Success bool              `json:"success"`
}

// setupTestServer wires a server against a temp SQLite store.
func setupTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	st, err := sqlite.Open(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c, err := cache.Open(filepath.Join(dir, "cache"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	notifications := service.NewNotificationService(st, logger)
	reservations := service.NewReservationService(st, notifications, logger)
	loans := service.NewLoanService(st, reservations, notifications, logger)
	catalog := service.NewCatalogService(st, logger)
	trending := service.NewTrendingService(st, c, time.Minute, logger)

	limiter := ratelimit.New(100, 100)
	t.Cleanup(limiter.Stop)

	return NewServer(catalog, loans, reservations, notifications, trending, limiter, logger)
}

// do performs a request with the forwarded-identity headers set.
func do(t *testing.T, srv *Server, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.MarshalWrite(&buf, body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	if role != "" {
		req.Header.Set(headerUserRole, role)
	}

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func createTitleHTTP(t *testing.T, srv *Server, copies int) string {
	t.Helper()
	w := do(t, srv, http.MethodPost, "/api/v1/titles", "staff-1", roleStaff, map[string]any{
		"title":        "The Dispossessed",
		"authors":      []string{"Ursula K. Le Guin"},
		"total_copies": copies,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var envelope testEnvelope[domain.Title]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope.Data.ID)
	return envelope.Data.ID
}

func TestHealthCheck(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateTitleRequiresStaff(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/titles", "", "", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/titles", "member-1", "", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateTitleValidation(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/titles", "staff-1", roleStaff, map[string]any{
		"title": "No Authors",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope testEnvelope[any]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.False(t, envelope.Success)
	assert.Equal(t, "VALIDATION", envelope.Code)
	assert.Contains(t, envelope.Details, "authors")
}

func TestBorrowReturnFlow(t *testing.T) {
	srv := setupTestServer(t)
	titleID := createTitleHTTP(t, srv, 1)

	// Member borrows the only copy.
	w := do(t, srv, http.MethodPost, "/api/v1/loans", "member-1", "", map[string]any{
		"title_id": titleID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var loanEnv testEnvelope[domain.Loan]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loanEnv))
	assert.Equal(t, domain.LoanStatusActive, loanEnv.Data.Status)
	loanID := loanEnv.Data.ID

	// Second member hits out-of-stock.
	w = do(t, srv, http.MethodPost, "/api/v1/loans", "member-2", "", map[string]any{
		"title_id": titleID,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	var errEnv testEnvelope[any]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errEnv))
	assert.Equal(t, "OUT_OF_STOCK", errEnv.Code)

	// Someone else cannot return the loan.
	w = do(t, srv, http.MethodPost, "/api/v1/loans/"+loanID+"/return", "member-2", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The borrower can.
	w = do(t, srv, http.MethodPost, "/api/v1/loans/"+loanID+"/return", "member-1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReservationFlowOverHTTP(t *testing.T) {
	srv := setupTestServer(t)
	titleID := createTitleHTTP(t, srv, 1)

	// Reserving while a copy sits on the shelf is refused.
	w := do(t, srv, http.MethodPost, "/api/v1/reservations", "member-2", "", map[string]any{
		"title_id": titleID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// member-1 takes the copy, member-2 queues up.
	w = do(t, srv, http.MethodPost, "/api/v1/loans", "member-1", "", map[string]any{
		"title_id": titleID,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var loanEnv testEnvelope[domain.Loan]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loanEnv))

	w = do(t, srv, http.MethodPost, "/api/v1/reservations", "member-2", "", map[string]any{
		"title_id": titleID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resEnv testEnvelope[domain.Reservation]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resEnv))
	assert.Equal(t, 0, resEnv.Data.Priority)
	reservationID := resEnv.Data.ID

	w = do(t, srv, http.MethodGet, "/api/v1/titles/"+titleID+"/position", "member-2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var posEnv testEnvelope[map[string]int]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &posEnv))
	assert.Equal(t, 1, posEnv.Data["position"])

	// Return promotes member-2 to READY and records a notification.
	w = do(t, srv, http.MethodPost, "/api/v1/loans/"+loanEnv.Data.ID+"/return", "member-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/reservations/"+reservationID, "member-2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resEnv))
	assert.Equal(t, domain.ReservationStatusReady, resEnv.Data.Status)

	w = do(t, srv, http.MethodGet, "/api/v1/notifications/unread-count", "member-2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var countEnv testEnvelope[map[string]int]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &countEnv))
	assert.Equal(t, 1, countEnv.Data["unread"])

	// member-2 borrows their READY copy; the reservation closes as FULFILLED.
	w = do(t, srv, http.MethodPost, "/api/v1/loans", "member-2", "", map[string]any{
		"title_id": titleID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, srv, http.MethodGet, "/api/v1/reservations/"+reservationID, "member-2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resEnv))
	assert.Equal(t, domain.ReservationStatusFulfilled, resEnv.Data.Status)
}

func TestMemberCannotSeeOthersLoans(t *testing.T) {
	srv := setupTestServer(t)
	titleID := createTitleHTTP(t, srv, 2)

	w := do(t, srv, http.MethodPost, "/api/v1/loans", "member-1", "", map[string]any{
		"title_id": titleID,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	type loanList struct {
		Items []domain.Loan `json:"items"`
	}

	// Filtering by someone else's user_id is silently pinned to the caller.
	w = do(t, srv, http.MethodGet, "/api/v1/loans?user_id=member-1", "member-2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listEnv testEnvelope[loanList]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listEnv))
	assert.Empty(t, listEnv.Data.Items)

	// Staff see everything.
	w = do(t, srv, http.MethodGet, "/api/v1/loans?user_id=member-1", "staff-1", roleStaff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listEnv))
	assert.Len(t, listEnv.Data.Items, 1)
}

func TestCronDailyRequiresStaff(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/cron/daily", "member-1", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/cron/daily", "staff-1", roleStaff, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var countsEnv testEnvelope[map[string]int]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &countsEnv))
	assert.Contains(t, countsEnv.Data, "expired")
	assert.Contains(t, countsEnv.Data, "overdue")
}

func TestWriteRateLimit(t *testing.T) {
	srv := setupTestServer(t)
	titleID := createTitleHTTP(t, srv, 1)

	// Swap in a single-shot limiter so the second write trips it.
	srv.limiter.Stop()
	srv.limiter = ratelimit.New(0.1, 1)
	defer srv.limiter.Stop()

	w := do(t, srv, http.MethodPost, "/api/v1/loans", "member-1", "", map[string]any{
		"title_id": titleID,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/loans", "member-1", "", map[string]any{
		"title_id": titleID,
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
