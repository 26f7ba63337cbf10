package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyfronet-fid/marketplace-egi/internal/clock"
	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ReconcileRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	HasStatusEntry(ctx context.Context, orderID, message, correlationID string) (bool, error)
	AppendStatus(ctx context.Context, entry domain.StatusEntry) error
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
}

// ReconcileService ingests asynchronous tracker events into the status
// ledger. Safe under at-least-once webhook delivery.
type ReconcileService struct {
	repo   ReconcileRepository
	clock  clock.Clock
	logger zerolog.Logger
}

func NewReconcileService(repo ReconcileRepository, clk clock.Clock, logger zerolog.Logger) *ReconcileService {
	return &ReconcileService{
		repo:   repo,
		clock:  clk,
		logger: logger,
	}
}

// Ingest appends a tracker comment to the order's ledger. The entry
// carries the order's current status; Ingest never transitions it.
// Duplicate (message, correlation id) deliveries are dropped silently.
// The check and insert run under the order's row lock, with the ledger's
// partial unique index as backstop.
func (s *ReconcileService) Ingest(ctx context.Context, orderID, messageBody, correlationID, authorEmail string) error {
	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.repo.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}

		exists, err := s.repo.HasStatusEntry(txCtx, order.ID, messageBody, correlationID)
		if err != nil {
			return err
		}
		if exists {
			s.logger.Debug().
				Str("order_id", order.ID).
				Str("correlation_id", correlationID).
				Msg("duplicate tracker event dropped")
			return nil
		}

		entry := domain.StatusEntry{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			Status:        order.Status,
			Message:       messageBody,
			CorrelationID: &correlationID,
			AuthorEmail:   authorEmail,
			CreatedAt:     s.clock.Now(),
		}
		if err := s.repo.AppendStatus(txCtx, entry); err != nil {
			if errors.Is(err, domain.ErrDuplicateEntry) {
				return nil
			}
			return fmt.Errorf("append reconciliation entry: %w", err)
		}
		return nil
	})
}

// Complete moves a registered order to ready when the tracker reports
// its issue done. Re-deliveries for an already ready order are dropped.
func (s *ReconcileService) Complete(ctx context.Context, orderID string) error {
	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.repo.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusReady {
			return nil
		}
		_, err = transition(txCtx, s.repo, order, domain.OrderStatusReady, "", s.clock.Now())
		return err
	})
}
