package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	dErrors "github.com/bookhaven/bookhaven-server/internal/errors"
	"github.com/bookhaven/bookhaven-server/internal/id"
	"github.com/bookhaven/bookhaven-server/internal/store"
)

const reservationColumns = `id, user_id, title_id, status, priority, notes,
	expires_at, fulfilled_at, cancelled_at, created_at, updated_at`

func scanReservation(scanner interface{ Scan(dest ...any) error }) (*domain.Reservation, error) {
	var r domain.Reservation

	var (
		status      string
		notes       sql.NullString
		expiresAt   string
		fulfilledAt sql.NullString
		cancelledAt sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := scanner.Scan(
		&r.ID,
		&r.UserID,
		&r.TitleID,
		&status,
		&r.Priority,
		&notes,
		&expiresAt,
		&fulfilledAt,
		&cancelledAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = domain.ReservationStatus(status)
	r.Notes = notes.String

	r.ExpiresAt, err = parseTime(expiresAt)
	if err != nil {
		return nil, err
	}
	r.FulfilledAt, err = parseNullableTime(fulfilledAt)
	if err != nil {
		return nil, err
	}
	r.CancelledAt, err = parseNullableTime(cancelledAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	r.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// CreateReservation validates the queue-entry rules and inserts the new
// PENDING entry, all in one transaction:
//
//   - the title must exist and be active (ErrNotFound)
//   - the title must have no available copies (ErrAvailable: a lendable title
//     is borrowed, not reserved)
//   - the user must not already hold a live reservation for the title
//     (ErrDuplicateReservation)
//
// The new entry joins at the tail: one past the highest PENDING priority,
// or 0 for an empty queue.
func (s *Store) CreateReservation(ctx context.Context, userID, titleID, notes string, now time.Time) (*domain.Reservation, error) {
	var created *domain.Reservation

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		active, _, available, err := readLedger(ctx, tx, titleID)
		if err != nil {
			return err
		}
		if !active {
			return dErrors.ErrNotFound
		}
		if available > 0 {
			return dErrors.ErrAvailable
		}

		var existing string
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM reservations
			WHERE user_id = ? AND title_id = ? AND status IN ('PENDING', 'READY')`,
			userID, titleID).Scan(&existing)
		if err == nil {
			return dErrors.ErrDuplicateReservation
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check live reservation: %w", err)
		}

		// Next rank after the current tail. Promotion leaves surviving
		// priorities untouched, so MAX+1 (not COUNT) keeps ranks unique
		// when the queue's head has already moved to READY.
		var priority int
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(priority) + 1, 0) FROM reservations
			WHERE title_id = ? AND status = ?`,
			titleID, string(domain.ReservationStatusPending)).Scan(&priority)
		if err != nil {
			return fmt.Errorf("next priority: %w", err)
		}

		rid, err := id.Generate(id.PrefixReservation)
		if err != nil {
			return err
		}
		r := domain.NewReservation(rid, userID, titleID, priority, notes, now)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reservations (id, user_id, title_id, status, priority, notes,
				expires_at, fulfilled_at, cancelled_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID,
			r.UserID,
			r.TitleID,
			string(r.Status),
			r.Priority,
			nullString(r.Notes),
			formatTime(r.ExpiresAt),
			nullTimeString(r.FulfilledAt),
			nullTimeString(r.CancelledAt),
			formatTime(r.CreatedAt),
			formatTime(r.UpdatedAt),
		)
		if isUniqueViolation(err) {
			return dErrors.ErrDuplicateReservation
		}
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetReservation retrieves a reservation by ID.
// Returns ErrNotFound if the reservation does not exist.
func (s *Store) GetReservation(ctx context.Context, rid string) (*domain.Reservation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, rid)

	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// ListReservations returns a filtered page of reservations in queue order:
// priority ascending, then arrival.
func (s *Store) ListReservations(ctx context.Context, filter store.ReservationFilter) (*store.PaginatedResult[*domain.Reservation], error) {
	filter.Page.Normalize()

	var conds []string
	var args []any

	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.TitleID != "" {
		conds = append(conds, "title_id = ?")
		args = append(args, filter.TitleID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count reservations: %w", err)
	}

	listArgs := append(args, filter.Page.Limit, filter.Page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations`+where+
			` ORDER BY priority, created_at, id LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	reservations := make([]*domain.Reservation, 0, filter.Page.Limit)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}

	return store.NewPaginatedResult(reservations, filter.Page, total), nil
}

// GetLiveReservation returns the user's PENDING or READY reservation for the
// title, or ErrNotFound.
func (s *Store) GetLiveReservation(ctx context.Context, userID, titleID string) (*domain.Reservation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		WHERE user_id = ? AND title_id = ? AND status IN ('PENDING', 'READY')`,
		userID, titleID)

	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get live reservation: %w", err)
	}
	return r, nil
}

// CloseReservation moves a live reservation to CANCELLED or EXPIRED and
// reports the status it held inside the transaction, so callers can branch on
// what actually closed rather than on an earlier read. Leaving the PENDING set
// this way opens a rank gap, so every higher priority in the title's queue is
// decremented in the same transaction.
func (s *Store) CloseReservation(ctx context.Context, rid string, to domain.ReservationStatus, now time.Time) (*domain.Reservation, domain.ReservationStatus, error) {
	if to != domain.ReservationStatusCancelled && to != domain.ReservationStatusExpired {
		return nil, "", dErrors.InvalidStatef("cannot close a reservation to %s", to)
	}

	var (
		closed *domain.Reservation
		from   domain.ReservationStatus
	)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, rid)
		r, err := scanReservation(row)
		if errors.Is(err, sql.ErrNoRows) {
			return dErrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get reservation: %w", err)
		}

		if !r.Status.CanTransitionTo(to) {
			return dErrors.InvalidStatef("reservation is %s, cannot transition to %s", r.Status, to)
		}

		from = r.Status
		wasPending := r.Status == domain.ReservationStatusPending

		r.Status = to
		r.UpdatedAt = now
		var cancelledAt sql.NullString
		if to == domain.ReservationStatusCancelled {
			r.CancelledAt = &now
			cancelledAt = nullTimeString(&now)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE reservations SET status = ?, cancelled_at = ?, updated_at = ?
			WHERE id = ?`,
			string(to), cancelledAt, formatTime(now), rid)
		if err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}

		if wasPending {
			if err := shiftQueue(ctx, tx, r.TitleID, r.Priority, now); err != nil {
				return err
			}
		}

		closed = r
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return closed, from, nil
}

// shiftQueue closes the rank gap left by a PENDING departure at the given
// priority: every PENDING entry ranked behind it moves up one.
func shiftQueue(ctx context.Context, tx *sql.Tx, titleID string, priority int, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE reservations SET priority = priority - 1, updated_at = ?
		WHERE title_id = ? AND status = ? AND priority > ?`,
		formatTime(now), titleID, string(domain.ReservationStatusPending), priority)
	if err != nil {
		return fmt.Errorf("shift queue: %w", err)
	}
	return nil
}

// PromoteReservation advances the head of the title's PENDING queue to READY
// with a fresh pickup window. The availability check happens inside the
// transaction, so a promotion observed being triggered by a stale return can
// never hand out a copy that a concurrent borrower already took. A READY
// offer holds a claim on a copy even though the debit waits for pickup, so
// promotion only proceeds while available copies exceed the outstanding
// offers — calling it again with nothing left to offer is a no-op.
//
// Returns (nil, nil) when there is nothing to promote. Promotion does not
// debit the ledger (the copy stays on the shelf until the holder claims it)
// and does not re-rank the rest of the queue.
func (s *Store) PromoteReservation(ctx context.Context, titleID string, now time.Time) (*domain.Reservation, error) {
	var promoted *domain.Reservation

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		active, _, available, err := readLedger(ctx, tx, titleID)
		if err != nil {
			return err
		}
		if !active || available <= 0 {
			return nil
		}

		var ready int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM reservations
			WHERE title_id = ? AND status = ?`,
			titleID, string(domain.ReservationStatusReady)).Scan(&ready)
		if err != nil {
			return fmt.Errorf("count ready offers: %w", err)
		}
		if available <= ready {
			return nil
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+reservationColumns+` FROM reservations
			WHERE title_id = ? AND status = ?
			ORDER BY priority, created_at LIMIT 1`,
			titleID, string(domain.ReservationStatusPending))
		r, err := scanReservation(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get queue head: %w", err)
		}

		r.Status = domain.ReservationStatusReady
		r.ExpiresAt = now.Add(domain.PickupWindow)
		r.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			UPDATE reservations SET status = ?, expires_at = ?, updated_at = ?
			WHERE id = ?`,
			string(r.Status), formatTime(r.ExpiresAt), formatTime(now), r.ID)
		if err != nil {
			return fmt.Errorf("promote reservation: %w", err)
		}

		promoted = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// ListTitlesAwaitingPromotion returns IDs of active titles that have users
// waiting in the PENDING queue and more available copies than outstanding
// READY offers. A healthy queue never shows up here: every event that frees a
// copy promotes immediately. This is the sweep's net for promotions that were
// missed, e.g. a crash between a committed return and its promotion call.
func (s *Store) ListTitlesAwaitingPromotion(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id FROM titles t
		WHERE t.is_active = 1
		AND EXISTS (
			SELECT 1 FROM reservations p
			WHERE p.title_id = t.id AND p.status = ?)
		AND t.available_copies > (
			SELECT COUNT(*) FROM reservations o
			WHERE o.title_id = t.id AND o.status = ?)
		ORDER BY t.id`,
		string(domain.ReservationStatusPending), string(domain.ReservationStatusReady))
	if err != nil {
		return nil, fmt.Errorf("list titles awaiting promotion: %w", err)
	}
	defer rows.Close()

	var titleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan title id: %w", err)
		}
		titleIDs = append(titleIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate titles awaiting promotion: %w", err)
	}
	return titleIDs, nil
}

// fulfillReservation marks a READY reservation FULFILLED as part of the loan
// that claims it. The reservation must belong to the borrowing user and the
// borrowed title.
func fulfillReservation(ctx context.Context, tx *sql.Tx, rid, userID, titleID string, now time.Time) error {
	row := tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, rid)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dErrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get reservation: %w", err)
	}

	if r.UserID != userID || r.TitleID != titleID {
		return dErrors.Forbidden("reservation belongs to a different user or title")
	}
	if !r.Status.CanTransitionTo(domain.ReservationStatusFulfilled) {
		return dErrors.InvalidStatef("reservation is %s, cannot be fulfilled", r.Status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reservations SET status = ?, fulfilled_at = ?, updated_at = ?
		WHERE id = ?`,
		string(domain.ReservationStatusFulfilled), formatTime(now), formatTime(now), rid)
	if err != nil {
		return fmt.Errorf("fulfill reservation: %w", err)
	}
	return nil
}

// QueuePosition returns the 1-based rank of the user's PENDING reservation in
// the title's queue, or 0 if the user has none.
func (s *Store) QueuePosition(ctx context.Context, userID, titleID string) (int, error) {
	var priority int
	err := s.db.QueryRowContext(ctx, `
		SELECT priority FROM reservations
		WHERE user_id = ? AND title_id = ? AND status = ?`,
		userID, titleID, string(domain.ReservationStatusPending)).Scan(&priority)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}

	// Rank ahead of us rather than trusting priority alone; the answer is
	// right even mid-repair if the sequence ever picked up a gap.
	var ahead int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE title_id = ? AND status = ? AND priority < ?`,
		titleID, string(domain.ReservationStatusPending), priority).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return ahead + 1, nil
}

// ListExpiredReservations returns live reservations whose window lapsed at or
// before now, queue order within each title.
func (s *Store) ListExpiredReservations(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		WHERE status IN ('PENDING', 'READY') AND expires_at <= ?
		ORDER BY title_id, priority, created_at`,
		formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	var expired []*domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		expired = append(expired, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired reservations: %w", err)
	}
	return expired, nil
}

// QueueStats summarizes a title's reservation queue.
func (s *Store) QueueStats(ctx context.Context, titleID string) (*store.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM reservations
		WHERE title_id = ?
		GROUP BY status`, titleID)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats store.QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch domain.ReservationStatus(status) {
		case domain.ReservationStatusPending:
			stats.Pending = count
		case domain.ReservationStatusReady:
			stats.Ready = count
		case domain.ReservationStatusFulfilled:
			stats.Fulfilled = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stats: %w", err)
	}
	return &stats, nil
}
