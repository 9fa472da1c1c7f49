package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ORDER REPOSITORY
// =============================================================================

type OrderStatus string

const (
	OrderCreated OrderStatus = "CREATED"
	OrderPaid    OrderStatus = "PAID"
	OrderFailed  OrderStatus = "FAILED"
)

// ErrOrderNotPending is returned when a settled order is marked again.
var ErrOrderNotPending = errors.New("order is not awaiting payment")

type Order struct {
	OrderID         string          `json:"orderId"`
	SessionID       string          `json:"-"`
	ProviderOrderID string          `json:"providerOrderId"`
	CaptureID       string          `json:"captureId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ItemsJSON       string          `json:"-"`
	CustomerName    string          `json:"customerName,omitempty"`
	CustomerEmail   string          `json:"customerEmail,omitempty"`
	CustomerPhone   string          `json:"customerPhone,omitempty"`
	PaymentMethod   string          `json:"paymentMethod,omitempty"`
	Status          OrderStatus     `json:"status"`
	FailureCode     string          `json:"failureCode,omitempty"`
	Details         string          `json:"-"`
	CreatedAt       time.Time       `json:"createdAt"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
}

type OrderStore struct {
	db *DB
}

func NewOrderStore(db *DB) *OrderStore {
	return &OrderStore{db: db}
}

const orderColumns = `
	order_id, session_id, provider_order_id, capture_id, amount, currency, items_json,
	customer_name, customer_email, customer_phone, payment_method, status, failure_code,
	details, created_at, paid_at`

// =============================================================================
// CORE CRUD OPERATIONS
// =============================================================================

func (s *OrderStore) InsertOrder(ctx context.Context, o Order) error {
	if o.Status == "" {
		o.Status = OrderCreated
	}
	if o.ItemsJSON == "" {
		o.ItemsJSON = "[]"
	}

	stmt := `INSERT INTO orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.execDB(ctx, stmt,
		o.OrderID, o.SessionID, nullIfEmpty(o.ProviderOrderID), o.CaptureID,
		o.Amount.String(), o.Currency, o.ItemsJSON,
		o.CustomerName, o.CustomerEmail, o.CustomerPhone, o.PaymentMethod,
		string(o.Status), o.FailureCode, o.Details,
		formatTime(o.CreatedAt), formatNullableTime(o.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.OrderID, err)
	}
	return nil
}

// MarkPaid settles a CREATED order with its capture reference.
func (s *OrderStore) MarkPaid(ctx context.Context, orderID, captureID, details string, paidAt time.Time) error {
	const stmt = `
		UPDATE orders SET status = ?, capture_id = ?, details = ?, paid_at = ?
		WHERE order_id = ? AND status = ?`

	result, err := s.db.execDB(ctx, stmt,
		string(OrderPaid), captureID, details, formatTime(paidAt), orderID, string(OrderCreated))
	if err != nil {
		return fmt.Errorf("failed to mark order %s paid: %w", orderID, err)
	}
	return s.checkTransition(ctx, result, orderID)
}

// MarkFailed records a payment failure against a CREATED order.
func (s *OrderStore) MarkFailed(ctx context.Context, orderID, failureCode, details string) error {
	const stmt = `
		UPDATE orders SET status = ?, failure_code = ?, details = ?
		WHERE order_id = ? AND status = ?`

	result, err := s.db.execDB(ctx, stmt,
		string(OrderFailed), failureCode, details, orderID, string(OrderCreated))
	if err != nil {
		return fmt.Errorf("failed to mark order %s failed: %w", orderID, err)
	}
	return s.checkTransition(ctx, result, orderID)
}

func (s *OrderStore) checkTransition(ctx context.Context, result sql.Result, orderID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrOrderNotPending, orderID)
}

func (s *OrderStore) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return s.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
}

func (s *OrderStore) GetOrderByProviderID(ctx context.Context, providerOrderID string) (*Order, error) {
	return s.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE provider_order_id = ?`, providerOrderID)
}

// ListOrders returns the newest orders first, optionally for one session.
func (s *OrderStore) ListOrders(ctx context.Context, sessionID string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var orders []Order
	err := s.db.queryDB(ctx, func(rows *sql.Rows) error {
		o, err := scanOrder(rows)
		if err != nil {
			return err
		}
		orders = append(orders, *o)
		return nil
	}, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// DeleteAbandonedOrders removes at most limit CREATED orders older than cutoff.
func (s *OrderStore) DeleteAbandonedOrders(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	const stmt = `
		DELETE FROM orders
		WHERE order_id IN (
			SELECT order_id FROM orders
			WHERE status = ?
			AND created_at < ?
			ORDER BY created_at
			LIMIT ?
		)`

	result, err := s.db.execDB(ctx, stmt, string(OrderCreated), formatTime(cutoff), limit)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *OrderStore) getOne(ctx context.Context, query string, arg interface{}) (*Order, error) {
	var found *Order
	err := s.db.queryDB(ctx, func(rows *sql.Rows) error {
		o, err := scanOrder(rows)
		if err != nil {
			return err
		}
		found = o
		return nil
	}, query+` LIMIT 1`, arg)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var providerID, captureID, itemsJSON, name, email, phone, method, failureCode, details sql.NullString
	var amount, status, createdAt string
	var paidAt sql.NullString

	err := row.Scan(
		&o.OrderID, &o.SessionID, &providerID, &captureID, &amount, &o.Currency, &itemsJSON,
		&name, &email, &phone, &method, &status, &failureCode,
		&details, &createdAt, &paidAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	o.ProviderOrderID = providerID.String
	o.CaptureID = captureID.String
	o.ItemsJSON = itemsJSON.String
	o.CustomerName = name.String
	o.CustomerEmail = email.String
	o.CustomerPhone = phone.String
	o.PaymentMethod = method.String
	o.Status = OrderStatus(status)
	o.FailureCode = failureCode.String
	o.Details = details.String

	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount for order %s: %w", o.OrderID, err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at for order %s: %w", o.OrderID, err)
	}
	if o.PaidAt, err = parseNullableTime(paidAt); err != nil {
		return nil, fmt.Errorf("failed to parse paid_at for order %s: %w", o.OrderID, err)
	}
	return &o, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
