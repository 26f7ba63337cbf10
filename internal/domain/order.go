package domain

import "time"

type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "created"
	OrderStatusRegistered OrderStatus = "registered"
	OrderStatusReady      OrderStatus = "ready"
)

// IssueStatus tracks the health of the order's tracker registration,
// independently of the fulfillment status.
type IssueStatus string

const (
	IssueStatusUninitialized     IssueStatus = "uninitialized"
	IssueStatusActive            IssueStatus = "active"
	IssueStatusErrored           IssueStatus = "errored"
	IssueStatusDeleted           IssueStatus = "deleted"
	IssueStatusRequiresMigration IssueStatus = "requires_migration"
)

// Order represents a user's request to obtain an offer, tracked through
// fulfillment. Bundled child orders point at the primary via ParentID.
type Order struct {
	ID          string
	ProjectID   string
	UserID      string
	OfferID     string
	ParentID    *string
	Ordinal     int
	Status      OrderStatus
	IssueID     *string
	IssueStatus IssueStatus
	CreatedAt   time.Time
}

// CanTransition reports whether to is a legal next fulfillment status.
// The only enforced edges are created→registered and registered→ready.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case OrderStatusCreated:
		return to == OrderStatusRegistered
	case OrderStatusRegistered:
		return to == OrderStatusReady
	default:
		return false
	}
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusRegistered, OrderStatusReady:
		return true
	}
	return false
}

// Registered reports whether the order has ever completed the tracker
// handshake (a stored issue id implies at least one successful registration).
func (o Order) Registered() bool {
	return o.IssueID != nil && *o.IssueID != ""
}
