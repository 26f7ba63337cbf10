// Package tracker defines the capability interface for the external
// issue tracker that represents the human fulfillment workflow, plus a
// REST adapter speaking the Jira wire format.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
)

// Issue identifies a tracker issue.
type Issue struct {
	ID  string
	Key string
}

// Client is the narrow contract the registration orchestrator depends
// on. One concrete adapter exists per backing tracker implementation.
type Client interface {
	// CreateIssue opens a fulfillment issue for the order.
	CreateIssue(ctx context.Context, order domain.Order) (Issue, error)
	// RegisterProject opens the project's umbrella issue. Idempotent on
	// the tracker side.
	RegisterProject(ctx context.Context, project domain.Project) (Issue, error)
	// AddComment posts a comment on an issue and returns the comment id.
	AddComment(ctx context.Context, issueID, body string) (string, error)
	// TransitionIssue moves an issue through the tracker workflow.
	TransitionIssue(ctx context.Context, issueID, transitionID string) error
}

// ErrorKind classifies tracker failures so callers can decide between
// retry, surfacing to the user, and operator escalation.
type ErrorKind int

const (
	ErrorKindConnection ErrorKind = iota
	ErrorKindValidation
	ErrorKindWorkflow
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindConnection:
		return "connection"
	case ErrorKindValidation:
		return "validation"
	case ErrorKindWorkflow:
		return "workflow"
	default:
		return "unknown"
	}
}

// Error wraps a tracker-side failure with its classification.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tracker %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or ErrorKindConnection if
// err is not a tracker error (transport failures arrive unwrapped).
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ErrorKindConnection
}
