package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	domainerrors "github.com/bookhaven/bookhaven-server/internal/errors"
	"github.com/bookhaven/bookhaven-server/internal/store"
	"github.com/bookhaven/bookhaven-server/internal/validation"
)

// ReservationService orchestrates the per-title waiting queues.
type ReservationService struct {
	store    store.Store
	notifier Notifier
	validate *validation.Validator
	logger   *slog.Logger
}

// NewReservationService creates a new reservation service.
func NewReservationService(st store.Store, notifier Notifier, logger *slog.Logger) *ReservationService {
	return &ReservationService{
		store:    st,
		notifier: notifier,
		validate: validation.New(),
		logger:   logger,
	}
}

// ReserveRequest is the payload for joining a title's queue.
type ReserveRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	TitleID string `json:"title_id" validate:"required"`
	Notes   string `json:"notes" validate:"max=500"`
}

// Reserve places the user at the tail of the title's queue.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (*domain.Reservation, error) {
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	r, err := s.store.CreateReservation(ctx, req.UserID, req.TitleID, req.Notes, time.Now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation created",
		"reservation_id", r.ID,
		"user_id", r.UserID,
		"title_id", r.TitleID,
		"priority", r.Priority,
	)
	return r, nil
}

// Get retrieves a reservation, restricted to its owner when userID is set.
func (s *ReservationService) Get(ctx context.Context, userID, reservationID string) (*domain.Reservation, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if userID != "" && r.UserID != userID {
		return nil, domainerrors.ErrForbidden
	}
	return r, nil
}

// List returns a filtered page of reservations.
func (s *ReservationService) List(ctx context.Context, filter store.ReservationFilter) (*store.PaginatedResult[*domain.Reservation], error) {
	return s.store.ListReservations(ctx, filter)
}

// Cancel withdraws a live reservation. When userID is set the reservation
// must belong to that user; staff callers pass an empty userID.
//
// Cancelling a READY reservation frees the offered copy, so the queue is
// promoted afterwards.
func (s *ReservationService) Cancel(ctx context.Context, userID, reservationID string) (*domain.Reservation, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if userID != "" && r.UserID != userID {
		return nil, domainerrors.ErrForbidden
	}

	// Branch on the status the close transaction saw, not the read above: a
	// concurrent promotion can flip PENDING to READY in between, and a freed
	// READY slot must hand its copy on.
	cancelled, from, err := s.store.CloseReservation(ctx, reservationID, domain.ReservationStatusCancelled, time.Now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation cancelled",
		"reservation_id", cancelled.ID,
		"user_id", cancelled.UserID,
		"title_id", cancelled.TitleID,
	)

	if from == domain.ReservationStatusReady {
		s.PromoteNext(ctx, cancelled.TitleID)
	}
	return cancelled, nil
}

// Position returns the user's 1-based place in the title's queue, 0 if the
// user is not waiting.
func (s *ReservationService) Position(ctx context.Context, userID, titleID string) (int, error) {
	return s.store.QueuePosition(ctx, userID, titleID)
}

// Stats summarizes a title's queue.
func (s *ReservationService) Stats(ctx context.Context, titleID string) (*store.QueueStats, error) {
	if _, err := s.store.GetTitle(ctx, titleID); err != nil {
		return nil, err
	}
	return s.store.QueueStats(ctx, titleID)
}

// PromoteNext advances the title's queue head to READY if an unclaimed copy
// is available and notifies the holder. Callers invoke it after anything that
// frees a copy or empties a READY slot; it is always safe to call and a no-op
// when there is nothing to do. Reports whether a promotion happened.
func (s *ReservationService) PromoteNext(ctx context.Context, titleID string) bool {
	return s.promoteAt(ctx, titleID, time.Now())
}

// promoteAt is PromoteNext at an explicit instant, so a sweep stamps the
// pickup windows it opens from the same clock it expires with.
func (s *ReservationService) promoteAt(ctx context.Context, titleID string, now time.Time) bool {
	promoted, err := s.store.PromoteReservation(ctx, titleID, now)
	if err != nil {
		s.logger.Error("queue promotion failed", "title_id", titleID, "error", err)
		return false
	}
	if promoted == nil {
		return false
	}

	s.logger.Info("reservation promoted",
		"reservation_id", promoted.ID,
		"user_id", promoted.UserID,
		"title_id", promoted.TitleID,
		"expires_at", promoted.ExpiresAt,
	)

	title, err := s.store.GetTitle(ctx, titleID)
	if err != nil {
		s.logger.Error("promoted title lookup failed", "title_id", titleID, "error", err)
		return true
	}
	s.notifier.ReservationReady(ctx, promoted, title)
	return true
}

// Sweep expires every live reservation whose window lapsed at or before now
// and returns how many were closed. An expired READY slot hands its copy to
// the next in line, and a closing repair pass promotes any queue whose
// earlier promotion was missed.
//
// Each expiry is its own transaction: one bad row must not wedge the sweep.
// A reservation that was fulfilled or cancelled between the listing and the
// expiry attempt reports an invalid transition, which is a benign no-op here.
func (s *ReservationService) Sweep(ctx context.Context, now time.Time) (int, error) {
	lapsed, err := s.store.ListExpiredReservations(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}

	var expired int
	for _, r := range lapsed {
		_, from, err := s.store.CloseReservation(ctx, r.ID, domain.ReservationStatusExpired, now)
		if errors.Is(err, domainerrors.ErrInvalidState) {
			continue
		}
		if err != nil {
			s.logger.Error("reservation expiry failed", "reservation_id", r.ID, "error", err)
			continue
		}

		expired++
		s.logger.Info("reservation expired",
			"reservation_id", r.ID,
			"user_id", r.UserID,
			"title_id", r.TitleID,
			"was_ready", from == domain.ReservationStatusReady,
		)

		if from == domain.ReservationStatusReady {
			s.promoteAt(ctx, r.TitleID, now)
		}
	}

	// Repair pass. Promotion runs after the transaction that frees a copy,
	// so a crash or transient failure in between leaves a title with a free
	// copy and a queue that nothing will ever promote. Each round offers one
	// more copy; the loop stops when the offers catch up with the shelf.
	titleIDs, err := s.store.ListTitlesAwaitingPromotion(ctx)
	if err != nil {
		s.logger.Error("promotion repair scan failed", "error", err)
		return expired, nil
	}
	for _, titleID := range titleIDs {
		for s.promoteAt(ctx, titleID, now) {
		}
	}
	return expired, nil
}
