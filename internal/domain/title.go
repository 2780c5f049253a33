package domain

import "time"

// Title represents a catalog entry with a finite number of lendable copies.
// The copy counts form the inventory ledger: AvailableCopies is mutated only
// through the store's debit/credit operations, never written directly.
type Title struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Subtitle        string    `json:"subtitle,omitempty"`
	Authors         []string  `json:"authors,omitempty"`
	IsActive        bool      `json:"is_active"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LedgerConsistent reports whether the copy counts satisfy the ledger
// invariant 0 <= available <= total. A false result means the stored counts
// are corrupt and the title must not accept further mutations.
func (t *Title) LedgerConsistent() bool {
	return t.AvailableCopies >= 0 && t.AvailableCopies <= t.TotalCopies
}

// Lendable reports whether a loan can currently be opened against this title.
func (t *Title) Lendable() bool {
	return t.IsActive && t.AvailableCopies > 0
}
