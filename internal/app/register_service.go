package app

import (
	"context"
	"fmt"

	"github.com/cyfronet-fid/marketplace-egi/internal/clock"
	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/cyfronet-fid/marketplace-egi/internal/tracker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type RegisterOrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	SetIssue(ctx context.Context, orderID, issueID string, status domain.IssueStatus) error
	SetIssueStatus(ctx context.Context, orderID string, status domain.IssueStatus) error
	AppendStatus(ctx context.Context, entry domain.StatusEntry) error
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
	CreateMessage(ctx context.Context, msg domain.Message) error
}

type ProjectRepository interface {
	GetProject(ctx context.Context, projectID string) (domain.Project, error)
	SetProjectIssue(ctx context.Context, projectID, issueID, issueKey string, status domain.IssueStatus) error
	SetProjectIssueStatus(ctx context.Context, projectID string, status domain.IssueStatus) error
}

// RegisterService synchronizes one order with the external issue
// tracker. It never retries on its own; the task queue that invokes it
// owns the retry policy, and re-invocations are safe.
type RegisterService struct {
	orders   RegisterOrderRepository
	projects ProjectRepository
	tracker  tracker.Client
	clock    clock.Clock
	logger   zerolog.Logger
}

func NewRegisterService(
	orders RegisterOrderRepository,
	projects ProjectRepository,
	trackerClient tracker.Client,
	clk clock.Clock,
	logger zerolog.Logger,
) *RegisterService {
	return &RegisterService{
		orders:   orders,
		projects: projects,
		tracker:  trackerClient,
		clock:    clk,
		logger:   logger,
	}
}

// Register creates a tracker issue for the order, stores the issue id,
// marks the issue sync active and appends a registered ledger entry.
// The project is registered first if it has no live tracker record.
// A non-empty note becomes a Message after successful registration;
// message failures are logged, never returned.
func (s *RegisterService) Register(ctx context.Context, orderID, note string) error {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	// Re-delivered task for an already registered order: finish the
	// bookkeeping without creating a second issue.
	if order.Registered() {
		return s.completeBookkeeping(ctx, order)
	}

	project, err := s.projects.GetProject(ctx, order.ProjectID)
	if err != nil {
		return err
	}
	if !project.TrackerActive() {
		if err := s.registerProject(ctx, order, project); err != nil {
			return err
		}
	}

	issue, err := s.tracker.CreateIssue(ctx, order)
	if err != nil {
		if statusErr := s.orders.SetIssueStatus(ctx, order.ID, domain.IssueStatusErrored); statusErr != nil {
			s.logger.Error().Err(statusErr).Str("order_id", order.ID).Msg("marking order issue errored failed")
		}
		return fmt.Errorf("create issue: %w", err)
	}

	now := s.clock.Now()
	err = s.orders.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.SetIssue(txCtx, order.ID, issue.ID, domain.IssueStatusActive); err != nil {
			return err
		}
		_, err := transition(txCtx, s.orders, order, domain.OrderStatusRegistered, "", now)
		return err
	})
	if err != nil {
		return fmt.Errorf("record registration: %w", err)
	}

	if note != "" {
		s.createMessage(ctx, order, issue.ID, note)
	}
	return nil
}

// completeBookkeeping finishes a registration that crashed between the
// tracker call and the local record update. Idempotent by construction.
func (s *RegisterService) completeBookkeeping(ctx context.Context, order domain.Order) error {
	if order.IssueStatus != domain.IssueStatusActive {
		if err := s.orders.SetIssueStatus(ctx, order.ID, domain.IssueStatusActive); err != nil {
			return err
		}
	}
	if order.Status != domain.OrderStatusCreated {
		return nil
	}
	now := s.clock.Now()
	return s.orders.WithTx(ctx, func(txCtx context.Context) error {
		_, err := transition(txCtx, s.orders, order, domain.OrderStatusRegistered, "", now)
		return err
	})
}

// registerProject performs the lazy project handshake. Records with a
// requires_migration or errored issue status get re-registered here.
func (s *RegisterService) registerProject(ctx context.Context, order domain.Order, project domain.Project) error {
	issue, err := s.tracker.RegisterProject(ctx, project)
	if err != nil {
		if statusErr := s.projects.SetProjectIssueStatus(ctx, project.ID, domain.IssueStatusErrored); statusErr != nil {
			s.logger.Error().Err(statusErr).Str("project_id", project.ID).Msg("marking project issue errored failed")
		}
		if statusErr := s.orders.SetIssueStatus(ctx, order.ID, domain.IssueStatusErrored); statusErr != nil {
			s.logger.Error().Err(statusErr).Str("order_id", order.ID).Msg("marking order issue errored failed")
		}
		return fmt.Errorf("register project: %w", err)
	}
	return s.projects.SetProjectIssue(ctx, project.ID, issue.ID, issue.Key, domain.IssueStatusActive)
}

// createMessage stores the user's note and mirrors it to the tracker
// issue. Both are best-effort side channels of a finished registration.
func (s *RegisterService) createMessage(ctx context.Context, order domain.Order, issueID, note string) {
	msg := domain.Message{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		AuthorID:  order.UserID,
		Body:      note,
		CreatedAt: s.clock.Now(),
	}
	if err := s.orders.CreateMessage(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID).Msg("message create failed")
		return
	}
	if _, err := s.tracker.AddComment(ctx, issueID, note); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID).Str("issue_id", issueID).Msg("tracker comment failed")
	}
}
