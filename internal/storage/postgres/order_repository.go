package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepository struct {
	db
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: db{pool: pool}}
}

func (r *OrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.withTx(ctx, fn)
}

const orderColumns = `id, project_id, user_id, offer_id, parent_id, ordinal, status, issue_id, issue_status, created_at`

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.scanOrder(r.queryRow(ctx, query, orderID))
}

// GetOrderForUpdate locks the order row for the duration of the
// surrounding transaction. Reconciliation serializes on this lock.
func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	return r.scanOrder(r.queryRow(ctx, query, orderID))
}

func (r *OrderRepository) GetOrderByIssueID(ctx context.Context, issueID string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE issue_id = $1`
	return r.scanOrder(r.queryRow(ctx, query, issueID))
}

func (r *OrderRepository) scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var status, issueStatus string
	err := row.Scan(
		&o.ID, &o.ProjectID, &o.UserID, &o.OfferID, &o.ParentID,
		&o.Ordinal, &status, &o.IssueID, &issueStatus, &o.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Order{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	o.IssueStatus = domain.IssueStatus(issueStatus)
	return o, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	const stmt = `
INSERT INTO orders (id, project_id, user_id, offer_id, parent_id, ordinal, status, issue_id, issue_status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.exec(ctx, stmt,
		order.ID, order.ProjectID, order.UserID, order.OfferID, order.ParentID,
		order.Ordinal, order.Status, order.IssueID, order.IssueStatus, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	const stmt = `UPDATE orders SET status = $2 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, orderID, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// SetIssue stores the tracker issue id obtained during registration and
// the matching issue status in one statement.
func (r *OrderRepository) SetIssue(ctx context.Context, orderID, issueID string, status domain.IssueStatus) error {
	const stmt = `UPDATE orders SET issue_id = $2, issue_status = $3 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, orderID, issueID, status)
	if err != nil {
		return fmt.Errorf("set issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) SetIssueStatus(ctx context.Context, orderID string, status domain.IssueStatus) error {
	const stmt = `UPDATE orders SET issue_status = $2 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, orderID, status)
	if err != nil {
		return fmt.Errorf("set issue status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) AppendStatus(ctx context.Context, entry domain.StatusEntry) error {
	const stmt = `
INSERT INTO order_statuses (id, order_id, status, message, correlation_id, author_email, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.exec(ctx, stmt,
		entry.ID, entry.OrderID, entry.Status, entry.Message,
		entry.CorrelationID, entry.AuthorEmail, entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEntry
		}
		return fmt.Errorf("append status: %w", err)
	}
	return nil
}

// HasStatusEntry reports whether the order already holds a ledger entry
// with the same message and external correlation id.
func (r *OrderRepository) HasStatusEntry(ctx context.Context, orderID, message, correlationID string) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1 FROM order_statuses
	WHERE order_id = $1 AND message = $2 AND correlation_id = $3
)`

	var exists bool
	if err := r.queryRow(ctx, query, orderID, message, correlationID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check status entry: %w", err)
	}
	return exists, nil
}

func (r *OrderRepository) ListStatuses(ctx context.Context, orderID string) ([]domain.StatusEntry, error) {
	const query = `
SELECT id, order_id, status, message, correlation_id, author_email, created_at
FROM order_statuses
WHERE order_id = $1
ORDER BY created_at, id`

	rows, err := r.query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var entries []domain.StatusEntry
	for rows.Next() {
		var e domain.StatusEntry
		var status string
		if err := rows.Scan(&e.ID, &e.OrderID, &status, &e.Message, &e.CorrelationID, &e.AuthorEmail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		e.Status = domain.OrderStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *OrderRepository) GetOffer(ctx context.Context, offerID string) (domain.Offer, error) {
	const query = `SELECT id, service_id, name, parameters, created_at FROM offers WHERE id = $1`

	var o domain.Offer
	var params []byte
	err := r.queryRow(ctx, query, offerID).Scan(&o.ID, &o.ServiceID, &o.Name, &params, &o.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Offer{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Offer{}, domain.ErrOfferNotFound
		}
		return domain.Offer{}, fmt.Errorf("get offer: %w", err)
	}
	if err := json.Unmarshal(params, &o.Parameters); err != nil {
		return domain.Offer{}, fmt.Errorf("decode offer parameters: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) GetService(ctx context.Context, serviceID string) (domain.Service, error) {
	const query = `SELECT id, name, upstream FROM services WHERE id = $1`

	var s domain.Service
	err := r.queryRow(ctx, query, serviceID).Scan(&s.ID, &s.Name, &s.Upstream)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Service{}, domain.ErrServiceNotFound
		}
		return domain.Service{}, fmt.Errorf("get service: %w", err)
	}
	return s, nil
}

// ListBundledOffers returns the direct targets of the offer's outgoing
// links, in link position order.
func (r *OrderRepository) ListBundledOffers(ctx context.Context, offerID string) ([]domain.Offer, error) {
	const query = `
SELECT o.id, o.service_id, o.name, o.parameters, o.created_at
FROM offer_links l
JOIN offers o ON o.id = l.target_id
WHERE l.source_id = $1
ORDER BY l.position, o.id`

	rows, err := r.query(ctx, query, offerID)
	if err != nil {
		return nil, fmt.Errorf("list bundled offers: %w", err)
	}
	defer rows.Close()

	var offers []domain.Offer
	for rows.Next() {
		var o domain.Offer
		var params []byte
		if err := rows.Scan(&o.ID, &o.ServiceID, &o.Name, &params, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		if err := json.Unmarshal(params, &o.Parameters); err != nil {
			return nil, fmt.Errorf("decode offer parameters: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (r *OrderRepository) CreateMessage(ctx context.Context, msg domain.Message) error {
	const stmt = `
INSERT INTO messages (id, order_id, author_id, body, created_at)
VALUES ($1, $2, $3, $4, $5)`

	_, err := r.exec(ctx, stmt, msg.ID, msg.OrderID, msg.AuthorID, msg.Body, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}
