package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/cyfronet-fid/marketplace-egi/internal/tracker"
)

// fakeOrderRepo backs all three services in tests. WithTx runs the
// closure directly; atomicity is covered by the postgres integration
// tests.
type fakeOrderRepo struct {
	offers   map[string]domain.Offer
	services map[string]domain.Service
	links    map[string][]string
	orders   map[string]domain.Order
	statuses []domain.StatusEntry
	messages []domain.Message

	failCreateOrder   error
	failCreateMessage error
	failAppendStatus  error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		offers:   make(map[string]domain.Offer),
		services: make(map[string]domain.Service),
		links:    make(map[string][]string),
		orders:   make(map[string]domain.Order),
	}
}

func (f *fakeOrderRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeOrderRepo) GetOffer(_ context.Context, offerID string) (domain.Offer, error) {
	offer, ok := f.offers[offerID]
	if !ok {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	return offer, nil
}

func (f *fakeOrderRepo) GetService(_ context.Context, serviceID string) (domain.Service, error) {
	service, ok := f.services[serviceID]
	if !ok {
		return domain.Service{}, domain.ErrServiceNotFound
	}
	return service, nil
}

func (f *fakeOrderRepo) ListBundledOffers(_ context.Context, offerID string) ([]domain.Offer, error) {
	var offers []domain.Offer
	for _, targetID := range f.links[offerID] {
		offer, ok := f.offers[targetID]
		if !ok {
			return nil, domain.ErrOfferNotFound
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func (f *fakeOrderRepo) CreateOrder(_ context.Context, order domain.Order) error {
	if f.failCreateOrder != nil {
		return f.failCreateOrder
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderRepo) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeOrderRepo) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return f.GetOrder(ctx, orderID)
}

func (f *fakeOrderRepo) UpdateOrderStatus(_ context.Context, orderID string, status domain.OrderStatus) error {
	order, ok := f.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	f.orders[orderID] = order
	return nil
}

func (f *fakeOrderRepo) SetIssue(_ context.Context, orderID, issueID string, status domain.IssueStatus) error {
	order, ok := f.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.IssueID = &issueID
	order.IssueStatus = status
	f.orders[orderID] = order
	return nil
}

func (f *fakeOrderRepo) SetIssueStatus(_ context.Context, orderID string, status domain.IssueStatus) error {
	order, ok := f.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.IssueStatus = status
	f.orders[orderID] = order
	return nil
}

func (f *fakeOrderRepo) AppendStatus(_ context.Context, entry domain.StatusEntry) error {
	if f.failAppendStatus != nil {
		return f.failAppendStatus
	}
	if entry.CorrelationID != nil {
		for _, existing := range f.statuses {
			if existing.OrderID == entry.OrderID &&
				existing.Message == entry.Message &&
				existing.CorrelationID != nil &&
				*existing.CorrelationID == *entry.CorrelationID {
				return domain.ErrDuplicateEntry
			}
		}
	}
	f.statuses = append(f.statuses, entry)
	return nil
}

func (f *fakeOrderRepo) HasStatusEntry(_ context.Context, orderID, message, correlationID string) (bool, error) {
	for _, entry := range f.statuses {
		if entry.OrderID == orderID &&
			entry.Message == message &&
			entry.CorrelationID != nil &&
			*entry.CorrelationID == correlationID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOrderRepo) ListStatuses(_ context.Context, orderID string) ([]domain.StatusEntry, error) {
	var entries []domain.StatusEntry
	for _, entry := range f.statuses {
		if entry.OrderID == orderID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (f *fakeOrderRepo) CreateMessage(_ context.Context, msg domain.Message) error {
	if f.failCreateMessage != nil {
		return f.failCreateMessage
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeOrderRepo) entriesFor(orderID string) []domain.StatusEntry {
	var entries []domain.StatusEntry
	for _, entry := range f.statuses {
		if entry.OrderID == orderID {
			entries = append(entries, entry)
		}
	}
	return entries
}

type fakeProjectRepo struct {
	projects map[string]domain.Project
}

func newFakeProjectRepo(projects ...domain.Project) *fakeProjectRepo {
	repo := &fakeProjectRepo{projects: make(map[string]domain.Project)}
	for _, p := range projects {
		repo.projects[p.ID] = p
	}
	return repo
}

func (f *fakeProjectRepo) GetProject(_ context.Context, projectID string) (domain.Project, error) {
	project, ok := f.projects[projectID]
	if !ok {
		return domain.Project{}, domain.ErrProjectNotFound
	}
	return project, nil
}

func (f *fakeProjectRepo) SetProjectIssue(_ context.Context, projectID, issueID, issueKey string, status domain.IssueStatus) error {
	project, ok := f.projects[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	project.IssueID = &issueID
	project.IssueKey = &issueKey
	project.IssueStatus = status
	f.projects[projectID] = project
	return nil
}

func (f *fakeProjectRepo) SetProjectIssueStatus(_ context.Context, projectID string, status domain.IssueStatus) error {
	project, ok := f.projects[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	project.IssueStatus = status
	f.projects[projectID] = project
	return nil
}

type fakeTracker struct {
	createCalls   int
	registerCalls int
	comments      []string

	failCreate   error
	failRegister error
}

func (f *fakeTracker) CreateIssue(_ context.Context, order domain.Order) (tracker.Issue, error) {
	f.createCalls++
	if f.failCreate != nil {
		return tracker.Issue{}, f.failCreate
	}
	return tracker.Issue{ID: fmt.Sprintf("issue-%d", f.createCalls), Key: fmt.Sprintf("MP-%d", f.createCalls)}, nil
}

func (f *fakeTracker) RegisterProject(_ context.Context, project domain.Project) (tracker.Issue, error) {
	f.registerCalls++
	if f.failRegister != nil {
		return tracker.Issue{}, f.failRegister
	}
	return tracker.Issue{ID: "project-issue-1", Key: "MP-P1"}, nil
}

func (f *fakeTracker) AddComment(_ context.Context, issueID, body string) (string, error) {
	f.comments = append(f.comments, issueID+":"+body)
	return fmt.Sprintf("comment-%d", len(f.comments)), nil
}

func (f *fakeTracker) TransitionIssue(_ context.Context, _, _ string) error {
	return nil
}

type fakeNotifier struct {
	notified []string
	fail     error
}

func (f *fakeNotifier) Notify(_ context.Context, order domain.Order, template string) error {
	if f.fail != nil {
		return f.fail
	}
	f.notified = append(f.notified, order.ID+":"+template)
	return nil
}

type publishedEvent struct {
	topic   string
	payload any
}

type fakePublisher struct {
	events []publishedEvent
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) error {
	f.events = append(f.events, publishedEvent{topic: topic, payload: payload})
	return nil
}

type enqueuedTask struct {
	orderID string
	note    string
}

type fakeEnqueuer struct {
	tasks []enqueuedTask
}

func (f *fakeEnqueuer) EnqueueRegistration(orderID, note string) {
	f.tasks = append(f.tasks, enqueuedTask{orderID: orderID, note: note})
}

var errBoom = errors.New("boom")
