package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cyfronet-fid/marketplace-egi/internal/clock"
	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TemplateOrderCreated is the notification template sent to the owning
// user for every order persisted by PlaceOrder.
const TemplateOrderCreated = "order_created"

// Bus topics. Only orders on services sourced from the canonical
// upstream registry publish to them.
const (
	TopicOrders      = "orders"
	TopicServiceSync = "service_sync"
)

type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOffer(ctx context.Context, offerID string) (domain.Offer, error)
	GetService(ctx context.Context, serviceID string) (domain.Service, error)
	ListBundledOffers(ctx context.Context, offerID string) ([]domain.Offer, error)
	CreateOrder(ctx context.Context, order domain.Order) error
	AppendStatus(ctx context.Context, entry domain.StatusEntry) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListStatuses(ctx context.Context, orderID string) ([]domain.StatusEntry, error)
}

type ProjectGetter interface {
	GetProject(ctx context.Context, projectID string) (domain.Project, error)
}

// Notifier sends a templated notification to the order's owner.
// Fire-and-forget: callers log failures and move on.
type Notifier interface {
	Notify(ctx context.Context, order domain.Order, template string) error
}

// Publisher delivers a JSON payload to a durable bus topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Enqueuer schedules an asynchronous registration task. Tasks are
// enqueued only after the creating transaction committed.
type Enqueuer interface {
	EnqueueRegistration(orderID, note string)
}

// OrderService creates orders, expanding bundle links into child orders
// inside one transaction.
type OrderService struct {
	repo     OrderRepository
	projects ProjectGetter
	notifier Notifier
	bus      Publisher
	queue    Enqueuer
	clock    clock.Clock
	logger   zerolog.Logger
}

func NewOrderService(
	repo OrderRepository,
	projects ProjectGetter,
	notifier Notifier,
	bus Publisher,
	queue Enqueuer,
	clk clock.Clock,
	logger zerolog.Logger,
) *OrderService {
	return &OrderService{
		repo:     repo,
		projects: projects,
		notifier: notifier,
		bus:      bus,
		queue:    queue,
		clock:    clk,
		logger:   logger,
	}
}

type PlaceOrderInput struct {
	ProjectID string
	UserID    string
	OfferID   string
	Note      string
	// Params holds the primary offer's ordering parameter values.
	Params map[string]string
	// BundleParams holds parameter values per bundled child offer id.
	BundleParams map[string]map[string]string
}

type PlaceOrderResult struct {
	// Orders lists the persisted orders, primary first.
	Orders []domain.Order
}

type orderCreatedEvent struct {
	OrderID   string    `json:"order_id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	OfferID   string    `json:"offer_id"`
	ServiceID string    `json:"service_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type serviceSyncEvent struct {
	ServiceID string `json:"service_id"`
	Upstream  string `json:"upstream"`
}

// PlaceOrder validates the requested offer and every bundled child,
// then persists one primary order plus one child order per offer link as
// a single unit of work. Nothing is persisted, notified, published, or
// enqueued if any validation fails.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (PlaceOrderResult, error) {
	if _, err := s.projects.GetProject(ctx, in.ProjectID); err != nil {
		return PlaceOrderResult{}, err
	}

	offer, err := s.repo.GetOffer(ctx, in.OfferID)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	service, err := s.repo.GetService(ctx, offer.ServiceID)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	children, err := s.repo.ListBundledOffers(ctx, offer.ID)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	services := map[string]domain.Service{offer.ID: service}
	for _, child := range children {
		childService, err := s.repo.GetService(ctx, child.ServiceID)
		if err != nil {
			return PlaceOrderResult{}, err
		}
		services[child.ID] = childService
	}

	if err := validateBundle(offer, children, in); err != nil {
		return PlaceOrderResult{}, err
	}

	now := s.clock.Now()
	orders := buildOrders(offer, children, in, now)

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		for _, order := range orders {
			if err := s.repo.CreateOrder(txCtx, order); err != nil {
				return err
			}
			entry := domain.StatusEntry{
				ID:        uuid.NewString(),
				OrderID:   order.ID,
				Status:    domain.OrderStatusCreated,
				CreatedAt: now,
			}
			if err := s.repo.AppendStatus(txCtx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("persist bundle: %w", err)
	}

	// The bundle is durable; everything below is post-commit side
	// effects that must not undo it.
	for _, order := range orders {
		if err := s.notifier.Notify(ctx, order, TemplateOrderCreated); err != nil {
			s.logger.Error().Err(err).Str("order_id", order.ID).Msg("order notification failed")
		}

		note := ""
		if order.ParentID == nil {
			note = in.Note
		}
		s.queue.EnqueueRegistration(order.ID, note)

		if svc := services[order.OfferID]; svc.Sourced() {
			s.publishOrderEvents(ctx, order, svc)
		}
	}

	return PlaceOrderResult{Orders: orders}, nil
}

func (s *OrderService) publishOrderEvents(ctx context.Context, order domain.Order, service domain.Service) {
	created := orderCreatedEvent{
		OrderID:   order.ID,
		ProjectID: order.ProjectID,
		UserID:    order.UserID,
		OfferID:   order.OfferID,
		ServiceID: service.ID,
		Status:    string(order.Status),
		CreatedAt: order.CreatedAt,
	}
	if err := s.bus.Publish(ctx, TopicOrders, created); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID).Msg("order event publish failed")
	}

	sync := serviceSyncEvent{ServiceID: service.ID, Upstream: service.Upstream}
	if err := s.bus.Publish(ctx, TopicServiceSync, sync); err != nil {
		s.logger.Error().Err(err).Str("service_id", service.ID).Msg("service sync publish failed")
	}
}

// GetOrder returns an order together with its full status ledger.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, []domain.StatusEntry, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	entries, err := s.repo.ListStatuses(ctx, orderID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	return order, entries, nil
}

// validateBundle checks the primary offer's parameters and every
// child's. All failures are collected into one ValidationError so the
// user sees the whole picture at once.
func validateBundle(offer domain.Offer, children []domain.Offer, in PlaceOrderInput) error {
	merged := &domain.ValidationError{Fields: map[string]string{}}

	collect := func(err error) error {
		if err == nil {
			return nil
		}
		ve, ok := domain.AsValidationError(err)
		if !ok {
			return err
		}
		for k, v := range ve.Fields {
			merged.Fields[k] = v
		}
		return nil
	}

	if err := collect(domain.ValidateParams(offer, in.Params)); err != nil {
		return err
	}

	seen := make(map[string]bool, len(children))
	for _, child := range children {
		// Links are trusted to be acyclic only by convention; a
		// self-link or duplicate target aborts before anything persists.
		if child.ID == offer.ID {
			merged.Fields[offer.ID+".links"] = "offer bundles itself"
			continue
		}
		if seen[child.ID] {
			merged.Fields[child.ID+".links"] = "offer bundled twice"
			continue
		}
		seen[child.ID] = true

		if err := collect(domain.ValidateParams(child, in.BundleParams[child.ID])); err != nil {
			return err
		}
	}

	if len(merged.Fields) > 0 {
		return merged
	}
	return nil
}

func buildOrders(offer domain.Offer, children []domain.Offer, in PlaceOrderInput, now time.Time) []domain.Order {
	primary := domain.Order{
		ID:          uuid.NewString(),
		ProjectID:   in.ProjectID,
		UserID:      in.UserID,
		OfferID:     offer.ID,
		Ordinal:     0,
		Status:      domain.OrderStatusCreated,
		IssueStatus: domain.IssueStatusUninitialized,
		CreatedAt:   now,
	}

	orders := make([]domain.Order, 0, len(children)+1)
	orders = append(orders, primary)
	for i, child := range children {
		parentID := primary.ID
		orders = append(orders, domain.Order{
			ID:          uuid.NewString(),
			ProjectID:   in.ProjectID,
			UserID:      in.UserID,
			OfferID:     child.ID,
			ParentID:    &parentID,
			Ordinal:     i + 1,
			Status:      domain.OrderStatusCreated,
			IssueStatus: domain.IssueStatusUninitialized,
			CreatedAt:   now,
		})
	}
	return orders
}
