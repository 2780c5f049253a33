package domain

import "time"

// NotificationType categorizes notifications for client display and filtering.
type NotificationType string

const (
	// NotificationReservationReady tells a user their reserved title is waiting for pickup.
	NotificationReservationReady NotificationType = "RESERVATION_READY"
	// NotificationBookDueSoon reminds a borrower a loan is due within a day.
	NotificationBookDueSoon NotificationType = "BOOK_DUE_REMINDER"
	// NotificationBookOverdue tells a borrower a loan is past due.
	NotificationBookOverdue NotificationType = "BOOK_OVERDUE"
)

// Notification is a persisted per-user message.
// Delivery beyond this record (email, push) is someone else's problem.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      NotificationType  `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	IsRead    bool              `json:"is_read"`
	ReadAt    *time.Time        `json:"read_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
