package domain

import "time"

// ReservationStatus represents the lifecycle state of a reservation.
type ReservationStatus string

const (
	// ReservationStatusPending indicates the user is waiting in the queue.
	ReservationStatusPending ReservationStatus = "PENDING"
	// ReservationStatusReady indicates a copy freed up and the pickup window is open.
	ReservationStatusReady ReservationStatus = "READY"
	// ReservationStatusFulfilled indicates the reservation was converted into a loan.
	ReservationStatusFulfilled ReservationStatus = "FULFILLED"
	// ReservationStatusCancelled indicates the user withdrew from the queue.
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	// ReservationStatusExpired indicates the response or pickup window lapsed.
	ReservationStatusExpired ReservationStatus = "EXPIRED"
)

const (
	// ResponseWindow is how long a PENDING reservation stays in the queue
	// before the sweeper expires it.
	ResponseWindow = 7 * 24 * time.Hour
	// PickupWindow is how long a READY reservation waits to be claimed
	// before the sweeper expires it and promotes the next in line.
	PickupWindow = 24 * time.Hour
)

// Valid reports whether s is a known reservation status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusPending, ReservationStatusReady, ReservationStatusFulfilled,
		ReservationStatusCancelled, ReservationStatusExpired:
		return true
	}
	return false
}

// Live reports whether the reservation still occupies a queue slot.
// At most one live reservation may exist per (user, title) pair.
func (s ReservationStatus) Live() bool {
	return s == ReservationStatusPending || s == ReservationStatusReady
}

// Terminal reports whether s is an end state.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationStatusFulfilled, ReservationStatusCancelled, ReservationStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal lifecycle transition.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	switch s {
	case ReservationStatusPending:
		return next == ReservationStatusReady || next == ReservationStatusCancelled || next == ReservationStatusExpired
	case ReservationStatusReady:
		return next == ReservationStatusFulfilled || next == ReservationStatusCancelled || next == ReservationStatusExpired
	default:
		return false
	}
}

// Reservation represents a slot in a title's waiting queue.
//
// Priority is a dense 0-based rank within the title's PENDING set, ordered by
// arrival. Whenever a PENDING reservation leaves the set other than by
// promotion to READY, every higher priority is decremented so the sequence
// stays gapless. Promotion does not re-rank: the remaining entries already
// hold the correct relative order.
type Reservation struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	TitleID     string            `json:"title_id"`
	Status      ReservationStatus `json:"status"`
	Priority    int               `json:"priority"`
	Notes       string            `json:"notes,omitempty"`
	ExpiresAt   time.Time         `json:"expires_at"`
	FulfilledAt *time.Time        `json:"fulfilled_at,omitempty"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewReservation creates a PENDING reservation at the given queue rank.
// The response window starts now.
func NewReservation(id, userID, titleID string, priority int, notes string, now time.Time) *Reservation {
	return &Reservation{
		ID:        id,
		UserID:    userID,
		TitleID:   titleID,
		Status:    ReservationStatusPending,
		Priority:  priority,
		Notes:     notes,
		ExpiresAt: now.Add(ResponseWindow),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsLive reports whether the reservation still occupies a queue slot.
func (r *Reservation) IsLive() bool {
	return r.Status.Live()
}

// IsExpired reports whether a live reservation's window has lapsed.
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.IsLive() && !r.ExpiresAt.After(now)
}
