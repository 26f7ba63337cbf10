package domain

import "time"

// Project is the ordering context an order belongs to. Its own tracker
// registration happens lazily, before the first order in it registers.
type Project struct {
	ID          string
	UserID      string
	Name        string
	Email       string
	IssueID     *string
	IssueKey    *string
	IssueStatus IssueStatus
	CreatedAt   time.Time
}

// TrackerActive reports whether the project already has a live tracker
// registration. requires_migration counts as inactive so old records
// get re-registered on next use.
func (p Project) TrackerActive() bool {
	return p.IssueStatus == IssueStatusActive
}

// Message is a free-text note attached to an order, written by the
// ordering user or the system.
type Message struct {
	ID        string
	OrderID   string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}
