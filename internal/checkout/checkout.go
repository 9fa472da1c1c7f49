// internal/checkout/checkout.go
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pizzapalace/internal/cart"
	"pizzapalace/internal/data"
	"pizzapalace/internal/logger"
	"pizzapalace/internal/payment"
)

var (
	ErrCheckoutBlocked    = errors.New("checkout blocked")
	ErrUnknownOrder       = errors.New("unknown order")
	ErrAlreadySettled     = errors.New("order already settled")
	ErrUnsupportedMethod  = errors.New("unsupported payment method")
	ErrIncompleteCustomer = errors.New("customer details incomplete")
)

// BlockedError carries the violations that stopped a checkout.
type BlockedError struct {
	Violations []cart.Violation
}

func (e *BlockedError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return fmt.Sprintf("%s: %s", ErrCheckoutBlocked, strings.Join(msgs, "; "))
}

func (e *BlockedError) Unwrap() error {
	return ErrCheckoutBlocked
}

// Sessions is the part of session.Manager checkout needs.
type Sessions interface {
	With(ctx context.Context, sessionID string, fn func(*cart.Ledger) error) error
	Save(ctx context.Context, sessionID string) error
}

// Orders is the part of data.OrderStore checkout needs.
type Orders interface {
	InsertOrder(ctx context.Context, o data.Order) error
	MarkPaid(ctx context.Context, orderID, captureID, details string, paidAt time.Time) error
	MarkFailed(ctx context.Context, orderID, failureCode, details string) error
	GetOrder(ctx context.Context, orderID string) (*data.Order, error)
	GetOrderByProviderID(ctx context.Context, providerOrderID string) (*data.Order, error)
	ListOrders(ctx context.Context, sessionID string, limit int) ([]data.Order, error)
}

type Customer struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Contact       string `json:"contact"`
	PaymentMethod string `json:"paymentMethod"`
}

// Pending is a created order awaiting the shopper's approval.
type Pending struct {
	OrderID         string          `json:"orderId"`
	ProviderOrderID string          `json:"providerOrderId"`
	ApproveURL      string          `json:"approveUrl,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	AmountMinor     int64           `json:"amountMinor"`
	Currency        string          `json:"currency"`
	Summary         cart.Summary    `json:"summary"`
}

// Result is the outcome of a payment attempt: exactly one of Receipt or
// Failure is set.
type Result struct {
	Receipt *Receipt `json:"receipt,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

func (r Result) Succeeded() bool {
	return r.Receipt != nil
}

type Receipt struct {
	OrderID         string           `json:"orderId"`
	ProviderOrderID string           `json:"providerOrderId"`
	CaptureID       string           `json:"captureId"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency"`
	PaidAt          time.Time        `json:"paidAt"`
	Preparation     cart.Preparation `json:"preparation"`
}

type Failure struct {
	OrderID string `json:"orderId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Service struct {
	sessions Sessions
	orders   Orders
	provider payment.Provider
	currency string
	brand    string
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithBrand(brand string) Option {
	return func(s *Service) { s.brand = brand }
}

func NewService(sessions Sessions, orders Orders, provider payment.Provider, currency string, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		orders:   orders,
		provider: provider,
		currency: currency,
		brand:    "Pizza Palace",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the session's cart, creates a provider order for the
// grand total and records it as CREATED. The cart is not modified.
func (s *Service) Start(ctx context.Context, sessionID string, customer Customer) (*Pending, error) {
	if customer.PaymentMethod != "" && !payment.IsMethod(customer.PaymentMethod) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, customer.PaymentMethod)
	}
	if strings.TrimSpace(customer.Name) == "" || strings.TrimSpace(customer.Email) == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrIncompleteCustomer)
	}

	var summary cart.Summary
	err := s.sessions.With(ctx, sessionID, func(l *cart.Ledger) error {
		if violations := l.ValidateForCheckout(); len(violations) > 0 {
			return &BlockedError{Violations: violations}
		}
		summary = l.Summary()
		return nil
	})
	if err != nil {
		return nil, err
	}

	amount := summary.GrandTotal.Round(2)
	minor := payment.ToMinorUnits(amount)
	if err := payment.ValidateAmount(minor); err != nil {
		return nil, err
	}

	orderID, err := GenerateOrderID(s.now())
	if err != nil {
		return nil, err
	}

	itemsJSON, err := json.Marshal(summary.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order items: %w", err)
	}

	providerOrder, err := s.provider.CreateOrder(ctx, payment.OrderRequest{
		ReferenceID: orderID,
		Amount:      amount,
		Currency:    s.currency,
		Description: fmt.Sprintf("%s order (%d items)", s.brand, summary.TotalItems),
		Customer:    payment.Customer{Name: customer.Name, Email: customer.Email, Contact: customer.Contact},
	})
	if err != nil {
		logger.LogError("Failed to create payment order %s for session %s: %v", orderID, sessionID, err)
		return nil, err
	}

	record := data.Order{
		OrderID:         orderID,
		SessionID:       sessionID,
		ProviderOrderID: providerOrder.ID,
		Amount:          amount,
		Currency:        s.currency,
		ItemsJSON:       string(itemsJSON),
		CustomerName:    customer.Name,
		CustomerEmail:   customer.Email,
		CustomerPhone:   customer.Contact,
		PaymentMethod:   customer.PaymentMethod,
		Status:          data.OrderCreated,
		CreatedAt:       s.now(),
	}
	if err := s.orders.InsertOrder(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record order %s: %w", orderID, err)
	}

	logger.LogInfo("Checkout started: order %s (provider %s) for %s %s", orderID, providerOrder.ID, amount.StringFixed(2), s.currency)

	return &Pending{
		OrderID:         orderID,
		ProviderOrderID: providerOrder.ID,
		ApproveURL:      providerOrder.ApproveURL,
		Amount:          amount,
		AmountMinor:     minor,
		Currency:        s.currency,
		Summary:         summary,
	}, nil
}

// Complete captures an approved provider order. On success the order is
// marked PAID and the session's cart cleared; on failure the order is
// marked FAILED and the cart left as it was. Provider failures are reported
// in the Result, not as an error.
func (s *Service) Complete(ctx context.Context, sessionID, providerOrderID string) (Result, error) {
	order, err := s.orders.GetOrderByProviderID(ctx, providerOrderID)
	if errors.Is(err, data.ErrNotFound) || (err == nil && order.SessionID != sessionID) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownOrder, providerOrderID)
	}
	if err != nil {
		return Result{}, err
	}
	if order.Status != data.OrderCreated {
		return Result{}, fmt.Errorf("%w: %s is %s", ErrAlreadySettled, order.OrderID, order.Status)
	}

	capture, err := s.provider.CaptureOrder(ctx, providerOrderID)
	if err != nil {
		return s.fail(ctx, order, capture, err), nil
	}

	paidAt := s.now()
	if err := s.orders.MarkPaid(ctx, order.OrderID, capture.CaptureID, capture.Raw, paidAt); err != nil {
		// The money has moved, so the shopper still gets a receipt.
		logger.LogError("Captured order %s but failed to mark it paid: %v", order.OrderID, err)
	}

	err = s.sessions.With(ctx, sessionID, func(l *cart.Ledger) error {
		l.Clear()
		return nil
	})
	if err != nil {
		logger.LogError("Failed to clear cart for session %s after order %s: %v", sessionID, order.OrderID, err)
	}
	if err := s.sessions.Save(ctx, sessionID); err != nil {
		logger.LogWarn("Cart for session %s not persisted after checkout: %v", sessionID, err)
	}

	logger.LogInfo("Order %s paid (capture %s)", order.OrderID, capture.CaptureID)

	return Result{Receipt: &Receipt{
		OrderID:         order.OrderID,
		ProviderOrderID: providerOrderID,
		CaptureID:       capture.CaptureID,
		Amount:          order.Amount,
		Currency:        order.Currency,
		PaidAt:          paidAt,
		Preparation:     preparationFor(order),
	}}, nil
}

// Order looks up a recorded order by its storefront id.
func (s *Service) Order(ctx context.Context, orderID string) (*data.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

// History lists the session's orders, newest first.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]data.Order, error) {
	if sessionID == "" {
		return nil, nil
	}
	return s.orders.ListOrders(ctx, sessionID, limit)
}

func (s *Service) fail(ctx context.Context, order *data.Order, capture *payment.Capture, err error) Result {
	code := payment.CodeGateway
	description := ""
	var pe *payment.Error
	if errors.As(err, &pe) {
		code = pe.Code
		description = pe.Description
	}

	details := err.Error()
	if capture != nil && capture.Raw != "" {
		details = capture.Raw
	}
	if markErr := s.orders.MarkFailed(ctx, order.OrderID, code, details); markErr != nil {
		logger.LogError("Failed to mark order %s failed: %v", order.OrderID, markErr)
	}

	logger.LogWarn("Payment for order %s failed [%s]: %v", order.OrderID, code, err)
	return Result{Failure: &Failure{
		OrderID: order.OrderID,
		Code:    code,
		Message: payment.FailureMessage(code, description),
	}}
}

// preparationFor derives the kitchen view from the items the order was
// created with, not whatever the cart holds now.
func preparationFor(order *data.Order) cart.Preparation {
	var lines []cart.Line
	if err := json.Unmarshal([]byte(order.ItemsJSON), &lines); err != nil {
		logger.LogWarn("Order %s has unreadable items: %v", order.OrderID, err)
	}

	l := cart.New()
	for _, line := range lines {
		p := cart.Product{
			ID:        line.ProductID,
			Name:      line.Name,
			Image:     line.Image,
			Category:  line.Category,
			BasePrice: line.BasePrice,
		}
		if _, err := l.AddLine(p, line.Customizations, line.Quantity); err != nil {
			logger.LogWarn("Order %s item %s skipped: %v", order.OrderID, line.ProductID, err)
		}
	}
	return l.PreparationDetails()
}
