package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
)

// Webhook event names sent by the tracker.
const (
	eventCommentCreated = "comment_created"
	eventIssueUpdated   = "issue_updated"
)

// issueStatusDone is the tracker-side terminal status that completes an
// order.
const issueStatusDone = "done"

// Reconciler ingests tracker events for an order.
type Reconciler interface {
	Ingest(ctx context.Context, orderID, messageBody, correlationID, authorEmail string) error
	Complete(ctx context.Context, orderID string) error
}

// OrderByIssueFinder maps a tracker issue id to the owning order.
type OrderByIssueFinder interface {
	GetOrderByIssueID(ctx context.Context, issueID string) (domain.Order, error)
}

type trackerWebhookRequest struct {
	Event string `json:"webhook_event"`
	Issue struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"issue"`
	Comment struct {
		ID          string `json:"id"`
		Body        string `json:"body"`
		AuthorEmail string `json:"author_email"`
	} `json:"comment"`
}

// HandleTrackerWebhook ingests asynchronous tracker events. Duplicate
// deliveries answer 204 exactly like first deliveries; the reconciler
// drops them internally.
func HandleTrackerWebhook(svc Reconciler, orders OrderByIssueFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		var req trackerWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.Issue.ID == "" {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "issue id required")
			return
		}

		order, err := orders.GetOrderByIssueID(r.Context(), req.Issue.ID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				writeError(w, http.StatusNotFound, codeUnknownIssue, "no order for issue")
				return
			}
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		switch req.Event {
		case eventCommentCreated:
			if req.Comment.ID == "" {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "comment id required")
				return
			}
			err = svc.Ingest(r.Context(), order.ID, req.Comment.Body, req.Comment.ID, req.Comment.AuthorEmail)
		case eventIssueUpdated:
			if req.Issue.Status != issueStatusDone {
				// Intermediate workflow moves carry no order-side effect.
				w.WriteHeader(http.StatusNoContent)
				return
			}
			err = svc.Complete(r.Context(), order.ID)
		default:
			writeError(w, http.StatusBadRequest, codeUnknownEvent, "unknown webhook event")
			return
		}

		if err != nil {
			writeOrderError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
