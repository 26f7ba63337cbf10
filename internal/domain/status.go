package domain

import "time"

// StatusEntry is one record of the order's append-only status ledger.
// Entries are immutable once created and strictly ordered by CreatedAt.
// Reconciliation entries carry the order's current status together with
// a non-nil CorrelationID (the tracker comment id); no two entries of an
// order may share the same (Message, CorrelationID) pair.
type StatusEntry struct {
	ID            string
	OrderID       string
	Status        OrderStatus
	Message       string
	CorrelationID *string
	AuthorEmail   string
	CreatedAt     time.Time
}
