package storefront

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"pizzapalace/internal/checkout"
	"pizzapalace/internal/data"
	"pizzapalace/internal/middleware"
	"pizzapalace/internal/payment"
)

const (
	defaultOrderListLimit = 20
	maxOrderListLimit     = 50
)

type captureRequest struct {
	ProviderOrderID string `json:"providerOrderId"`
}

// orderView is an order as its shopper may see it.
type orderView struct {
	OrderID       string           `json:"orderId"`
	Status        data.OrderStatus `json:"status"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	Items         json.RawMessage  `json:"items"`
	PaymentMethod string           `json:"paymentMethod,omitempty"`
	FailureCode   string           `json:"failureCode,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	PaidAt        *time.Time       `json:"paidAt,omitempty"`
}

func (h *Handler) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	var customer checkout.Customer
	if err := middleware.ParseJSONRequest(w, r, &customer); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}

	pending, err := h.checkout.Start(r.Context(), middleware.GetSessionID(r.Context()), customer)
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	middleware.WriteAPISuccessStatus(w, r, http.StatusCreated, pending)
}

func (h *Handler) handleCaptureCheckout(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := middleware.ParseJSONRequest(w, r, &req); err != nil || req.ProviderOrderID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "A providerOrderId is required", nil)
		return
	}

	result, err := h.checkout.Complete(r.Context(), middleware.GetSessionID(r.Context()), req.ProviderOrderID)
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	if !result.Succeeded() {
		middleware.WriteAPIError(w, r, http.StatusPaymentRequired, "payment_failed", result.Failure.Message, result.Failure)
		return
	}
	middleware.WriteAPISuccess(w, r, result.Receipt)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.Order(r.Context(), r.PathValue("id"))
	if errors.Is(err, data.ErrNotFound) || (err == nil && order.SessionID != middleware.GetSessionID(r.Context())) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "order_not_found", "Order not found", nil)
		return
	}
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	middleware.WriteAPISuccess(w, r, newOrderView(order))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultOrderListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxOrderListLimit {
			middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_limit",
				fmt.Sprintf("limit must be between 1 and %d", maxOrderListLimit), nil)
			return
		}
		limit = n
	}

	orders, err := h.checkout.History(r.Context(), middleware.GetSessionID(r.Context()), limit)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, newOrderView(&orders[i]))
	}
	middleware.WriteAPISuccess(w, r, views)
}

func newOrderView(order *data.Order) orderView {
	return orderView{
		OrderID:       order.OrderID,
		Status:        order.Status,
		Amount:        order.Amount,
		Currency:      order.Currency,
		Items:         json.RawMessage(order.ItemsJSON),
		PaymentMethod: order.PaymentMethod,
		FailureCode:   order.FailureCode,
		CreatedAt:     order.CreatedAt,
		PaidAt:        order.PaidAt,
	}
}

func writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		blocked *checkout.BlockedError
		pe      *payment.Error
	)
	switch {
	case errors.As(err, &blocked):
		middleware.WriteAPIError(w, r, http.StatusUnprocessableEntity, "checkout_blocked", blocked.Violations[0].Message, blocked.Violations)
	case errors.Is(err, checkout.ErrUnsupportedMethod):
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "unsupported_payment_method", "Unsupported payment method", nil)
	case errors.Is(err, checkout.ErrIncompleteCustomer):
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "incomplete_customer", "Name and email are required", nil)
	case errors.Is(err, payment.ErrInvalidAmount):
		middleware.WriteAPIError(w, r, http.StatusUnprocessableEntity, "invalid_amount", "Invalid total amount", nil)
	case errors.Is(err, checkout.ErrUnknownOrder):
		middleware.WriteAPIError(w, r, http.StatusNotFound, "order_not_found", "Order not found", nil)
	case errors.Is(err, checkout.ErrAlreadySettled):
		middleware.WriteAPIError(w, r, http.StatusConflict, "order_settled", "Order has already been settled", nil)
	case errors.As(err, &pe):
		middleware.WriteAPIError(w, r, http.StatusBadGateway, pe.Code, pe.Message(), nil)
	default:
		writeInternalError(w, r, err)
	}
}
