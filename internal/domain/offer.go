package domain

import "time"

// Service groups offers. Upstream holds the identifier of the canonical
// upstream registry the service is sourced from; empty means the service
// is maintained locally and its orders emit no bus events.
type Service struct {
	ID       string
	Name     string
	Upstream string
}

// Sourced reports whether the service comes from a canonical upstream
// registry. The publish decision for new orders hangs off this, not off
// the order itself.
func (s Service) Sourced() bool {
	return s.Upstream != ""
}

// Offer is an orderable unit of a service. It may bundle other offers
// via offer links.
type Offer struct {
	ID         string
	ServiceID  string
	Name       string
	Parameters []ParameterDefinition
	CreatedAt  time.Time
}

// OfferLink is a directed edge saying "Source bundles Target". Child
// orders of a bundle are created from the direct targets of the ordered
// offer's links, in Position order.
type OfferLink struct {
	SourceID string
	TargetID string
	Position int
}
