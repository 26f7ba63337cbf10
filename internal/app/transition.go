package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/google/uuid"
)

type statusWriter interface {
	AppendStatus(ctx context.Context, entry domain.StatusEntry) error
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
}

// transition appends a ledger entry for the new status and updates the
// order's authoritative status column. Both writes must share the
// caller's transaction. The order struct is the pre-transition snapshot.
func transition(ctx context.Context, repo statusWriter, order domain.Order, to domain.OrderStatus, message string, now time.Time) (domain.StatusEntry, error) {
	if !order.Status.CanTransition(to) {
		return domain.StatusEntry{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, to)
	}

	entry := domain.StatusEntry{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Status:    to,
		Message:   message,
		CreatedAt: now,
	}
	if err := repo.AppendStatus(ctx, entry); err != nil {
		return domain.StatusEntry{}, err
	}
	if err := repo.UpdateOrderStatus(ctx, order.ID, to); err != nil {
		return domain.StatusEntry{}, err
	}
	return entry, nil
}
