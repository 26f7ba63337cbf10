package app

import (
	"context"
	"testing"
	"time"

	"github.com/cyfronet-fid/marketplace-egi/internal/clock"
	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconcileFixture() (*fakeOrderRepo, *ReconcileService) {
	repo := newFakeOrderRepo()
	now := time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)
	svc := NewReconcileService(repo, clock.NewFixed(now), zerolog.Nop())
	return repo, svc
}

func seedRegisteredOrder(repo *fakeOrderRepo, id string) {
	issueID := "issue-1"
	repo.orders[id] = domain.Order{
		ID:          id,
		ProjectID:   testProjectID,
		UserID:      testUserID,
		OfferID:     "offer-1",
		Status:      domain.OrderStatusRegistered,
		IssueID:     &issueID,
		IssueStatus: domain.IssueStatusActive,
	}
}

func TestReconcileService_Ingest(t *testing.T) {
	t.Parallel()

	t.Run("appends entry at current status", func(t *testing.T) {
		repo, svc := newReconcileFixture()
		seedRegisteredOrder(repo, "order-1")

		err := svc.Ingest(context.Background(), "order-1", "work started", "c-123", "ops@tracker.example")
		require.NoError(t, err)

		entries := repo.entriesFor("order-1")
		require.Len(t, entries, 1)
		assert.Equal(t, domain.OrderStatusRegistered, entries[0].Status)
		assert.Equal(t, "work started", entries[0].Message)
		require.NotNil(t, entries[0].CorrelationID)
		assert.Equal(t, "c-123", *entries[0].CorrelationID)
		assert.Equal(t, "ops@tracker.example", entries[0].AuthorEmail)

		// Reconciliation never moves the fulfillment status.
		assert.Equal(t, domain.OrderStatusRegistered, repo.orders["order-1"].Status)
	})

	t.Run("duplicate delivery is dropped", func(t *testing.T) {
		repo, svc := newReconcileFixture()
		seedRegisteredOrder(repo, "order-1")

		require.NoError(t, svc.Ingest(context.Background(), "order-1", "msg", "c-1", "a@b.c"))
		require.NoError(t, svc.Ingest(context.Background(), "order-1", "msg", "c-1", "a@b.c"))

		assert.Len(t, repo.entriesFor("order-1"), 1)
	})

	t.Run("same body with new correlation id is a new entry", func(t *testing.T) {
		repo, svc := newReconcileFixture()
		seedRegisteredOrder(repo, "order-1")

		require.NoError(t, svc.Ingest(context.Background(), "order-1", "msg", "c-1", "a@b.c"))
		require.NoError(t, svc.Ingest(context.Background(), "order-1", "msg", "c-2", "a@b.c"))

		assert.Len(t, repo.entriesFor("order-1"), 2)
	})

	t.Run("unique violation on insert is treated as duplicate", func(t *testing.T) {
		repo, svc := newReconcileFixture()
		seedRegisteredOrder(repo, "order-1")
		repo.failAppendStatus = domain.ErrDuplicateEntry

		require.NoError(t, svc.Ingest(context.Background(), "order-1", "msg", "c-1", "a@b.c"))
		assert.Empty(t, repo.entriesFor("order-1"))
	})

	t.Run("unknown order", func(t *testing.T) {
		_, svc := newReconcileFixture()
		err := svc.Ingest(context.Background(), "missing", "msg", "c-1", "a@b.c")
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestReconcileService_Complete(t *testing.T) {
	t.Parallel()

	t.Run("registered order becomes ready", func(t *testing.T) {
		repo, svc := newReconcileFixture()
		seedRegisteredOrder(repo, "order-1")

		require.NoError(t, svc.Complete(context.Background(), "order-1"))
		assert.Equal(t, domain.OrderStatusReady, repo.orders["order-1"].Status)

		entries := repo.entriesFor("order-1")
		require.Len(t, entries, 1)
		assert.Equal(t, domain.OrderStatusReady, entries[0].Status)
	})

	t.Run("already ready is a no-op", func(t *testing.T) {
		repo, svc := newReconcileFixture()
		seedRegisteredOrder(repo, "order-1")

		require.NoError(t, svc.Complete(context.Background(), "order-1"))
		require.NoError(t, svc.Complete(context.Background(), "order-1"))
		assert.Len(t, repo.entriesFor("order-1"), 1)
	})

	t.Run("created order cannot jump to ready", func(t *testing.T) {
		repo, svc := newReconcileFixture()
		repo.orders["order-1"] = domain.Order{
			ID:     "order-1",
			Status: domain.OrderStatusCreated,
		}

		err := svc.Complete(context.Background(), "order-1")
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, domain.OrderStatusCreated, repo.orders["order-1"].Status)
	})
}
