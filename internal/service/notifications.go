// Package service provides the business logic layer for the Bookhaven lending core.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	"github.com/bookhaven/bookhaven-server/internal/id"
	"github.com/bookhaven/bookhaven-server/internal/store"
)

// Notifier is the outbound port for lifecycle notifications. The lending and
// reservation services call it after their transactions commit; a failure to
// notify never rolls back the state change it announces.
type Notifier interface {
	ReservationReady(ctx context.Context, r *domain.Reservation, title *domain.Title)
	LoanDueSoon(ctx context.Context, loan *domain.Loan, title *domain.Title)
	LoanOverdue(ctx context.Context, loan *domain.Loan, title *domain.Title)
}

// NotificationService persists per-user notifications and implements Notifier.
type NotificationService struct {
	store  store.Store
	logger *slog.Logger
}

var _ Notifier = (*NotificationService)(nil)

// NewNotificationService creates a new notification service.
func NewNotificationService(st store.Store, logger *slog.Logger) *NotificationService {
	return &NotificationService{store: st, logger: logger}
}

// ReservationReady records that the user's reserved title is waiting for pickup.
func (s *NotificationService) ReservationReady(ctx context.Context, r *domain.Reservation, title *domain.Title) {
	s.dispatch(ctx, &domain.Notification{
		UserID:  r.UserID,
		Type:    domain.NotificationReservationReady,
		Title:   "Reservation ready",
		Message: fmt.Sprintf("%q is ready for pickup until %s.", title.Title, r.ExpiresAt.Format(time.RFC1123)),
		Metadata: map[string]string{
			"reservation_id": r.ID,
			"title_id":       title.ID,
		},
	})
}

// LoanDueSoon reminds the borrower a loan is coming due.
func (s *NotificationService) LoanDueSoon(ctx context.Context, loan *domain.Loan, title *domain.Title) {
	s.dispatch(ctx, &domain.Notification{
		UserID:  loan.UserID,
		Type:    domain.NotificationBookDueSoon,
		Title:   "Book due soon",
		Message: fmt.Sprintf("%q is due back on %s.", title.Title, loan.DueDate.Format("Jan 2, 2006")),
		Metadata: map[string]string{
			"loan_id":  loan.ID,
			"title_id": title.ID,
		},
	})
}

// LoanOverdue tells the borrower a loan is past due.
func (s *NotificationService) LoanOverdue(ctx context.Context, loan *domain.Loan, title *domain.Title) {
	s.dispatch(ctx, &domain.Notification{
		UserID:  loan.UserID,
		Type:    domain.NotificationBookOverdue,
		Title:   "Book overdue",
		Message: fmt.Sprintf("%q was due on %s. Please return it.", title.Title, loan.DueDate.Format("Jan 2, 2006")),
		Metadata: map[string]string{
			"loan_id":  loan.ID,
			"title_id": title.ID,
		},
	})
}

// dispatch persists the notification. Failures are logged and swallowed: the
// state change being announced has already committed.
func (s *NotificationService) dispatch(ctx context.Context, n *domain.Notification) {
	nid, err := id.Generate(id.PrefixNotification)
	if err != nil {
		s.logger.Error("notification id generation failed",
			"user_id", n.UserID,
			"type", n.Type,
			"error", err,
		)
		return
	}
	n.ID = nid
	n.CreatedAt = time.Now()

	if err := s.store.CreateNotification(ctx, n); err != nil {
		s.logger.Error("notification dispatch failed",
			"user_id", n.UserID,
			"type", n.Type,
			"error", err,
		)
		return
	}
	s.logger.Debug("notification dispatched", "user_id", n.UserID, "type", n.Type)
}

// List returns a page of the user's notifications.
func (s *NotificationService) List(ctx context.Context, userID string, filter store.NotificationFilter) (*store.PaginatedResult[*domain.Notification], error) {
	return s.store.ListNotifications(ctx, userID, filter)
}

// MarkRead marks one of the user's notifications read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*domain.Notification, error) {
	return s.store.MarkNotificationRead(ctx, userID, notificationID, time.Now())
}

// MarkAllRead marks every unread notification for the user read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID, time.Now())
}

// CountUnread returns the user's unread badge count.
func (s *NotificationService) CountUnread(ctx context.Context, userID string) (int, error) {
	return s.store.CountUnreadNotifications(ctx, userID)
}
