package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cyfronet-fid/marketplace-egi/internal/app"
	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// OrderPlacer is the minimal interface needed to create orders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, in app.PlaceOrderInput) (app.PlaceOrderResult, error)
}

// OrderReader loads an order together with its status history.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, []domain.StatusEntry, error)
}

type createOrderRequest struct {
	ProjectID    string                       `json:"project_id" validate:"required,uuid"`
	UserID       string                       `json:"user_id" validate:"required,uuid"`
	OfferID      string                       `json:"offer_id" validate:"required,uuid"`
	Note         string                       `json:"note"`
	Params       map[string]string            `json:"params"`
	BundleParams map[string]map[string]string `json:"bundle_params"`
}

type orderResponse struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	UserID      string    `json:"user_id"`
	OfferID     string    `json:"offer_id"`
	ParentID    *string   `json:"parent_id,omitempty"`
	Ordinal     int       `json:"ordinal"`
	Status      string    `json:"status"`
	IssueStatus string    `json:"issue_status"`
	CreatedAt   time.Time `json:"created_at"`
}

type createOrderResponse struct {
	Orders []orderResponse `json:"orders"`
}

// HandleCreateOrder returns an HTTP handler for placing orders,
// including bundle expansion.
func HandleCreateOrder(svc OrderPlacer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
			return
		}

		res, err := svc.PlaceOrder(r.Context(), app.PlaceOrderInput{
			ProjectID:    req.ProjectID,
			UserID:       req.UserID,
			OfferID:      req.OfferID,
			Note:         req.Note,
			Params:       req.Params,
			BundleParams: req.BundleParams,
		})
		if err != nil {
			writeOrderError(w, err)
			return
		}

		resp := createOrderResponse{Orders: make([]orderResponse, 0, len(res.Orders))}
		for _, order := range res.Orders {
			resp.Orders = append(resp.Orders, toOrderResponse(order))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

type statusEntryResponse struct {
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	AuthorEmail   string    `json:"author_email,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type getOrderResponse struct {
	orderResponse
	IssueID *string               `json:"issue_id,omitempty"`
	History []statusEntryResponse `json:"history"`
}

// HandleGetOrder returns an HTTP handler serving one order and its full
// status ledger.
func HandleGetOrder(svc OrderReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		orderID, ok := parseOrderPath(r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		order, history, err := svc.GetOrder(r.Context(), orderID)
		if err != nil {
			writeOrderError(w, err)
			return
		}

		resp := getOrderResponse{
			orderResponse: toOrderResponse(order),
			IssueID:       order.IssueID,
			History:       make([]statusEntryResponse, 0, len(history)),
		}
		for _, e := range history {
			resp.History = append(resp.History, statusEntryResponse{
				Status:        string(e.Status),
				Message:       e.Message,
				CorrelationID: e.CorrelationID,
				AuthorEmail:   e.AuthorEmail,
				CreatedAt:     e.CreatedAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func parseOrderPath(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 {
		return "", false
	}
	if parts[0] != "api" || parts[1] != "orders" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

func toOrderResponse(order domain.Order) orderResponse {
	return orderResponse{
		ID:          order.ID,
		ProjectID:   order.ProjectID,
		UserID:      order.UserID,
		OfferID:     order.OfferID,
		ParentID:    order.ParentID,
		Ordinal:     order.Ordinal,
		Status:      string(order.Status),
		IssueStatus: string(order.IssueStatus),
		CreatedAt:   order.CreatedAt,
	}
}

func writeOrderError(w http.ResponseWriter, err error) {
	if ve, ok := domain.AsValidationError(err); ok {
		writeErrorFields(w, http.StatusUnprocessableEntity, codeValidationFailed, "validation failed", ve.Fields)
		return
	}

	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, codeOrderNotFound, err.Error())
	case errors.Is(err, domain.ErrOfferNotFound):
		writeError(w, http.StatusNotFound, codeOfferNotFound, err.Error())
	case errors.Is(err, domain.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, codeProjectNotFound, err.Error())
	case errors.Is(err, domain.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidID):
		writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, codeInvalidTransition, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
