// internal/payment/payment.go
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrPaymentFailed = errors.New("payment failed")
	ErrInvalidAmount = errors.New("invalid payment amount")
)

// MaxMinorUnits caps a single payment (5000.00 in the major unit).
const MaxMinorUnits = 500000

// Provider failure codes.
const (
	CodeBadRequest      = "BAD_REQUEST_ERROR"
	CodeGateway         = "GATEWAY_ERROR"
	CodeNetwork         = "NETWORK_ERROR"
	CodeServer          = "SERVER_ERROR"
	CodePaymentDeclined = "PAYMENT_DECLINED"
)

// Provider is a checkout gateway. Calls are one-shot; callers decide
// whether to try again.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*ProviderOrder, error)
	CaptureOrder(ctx context.Context, providerOrderID string) (*Capture, error)
}

type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

type OrderRequest struct {
	ReferenceID string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Customer    Customer
}

type ProviderOrder struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ApproveURL string `json:"approveUrl,omitempty"`
}

type Capture struct {
	OrderID   string          `json:"orderId"`
	CaptureID string          `json:"captureId"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Raw       string          `json:"-"`
}

// Error is a provider failure. It matches ErrPaymentFailed with errors.Is.
type Error struct {
	Code        string
	Description string
	StatusCode  int
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("payment failed [%s]", e.Code)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == ErrPaymentFailed
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the text shown to the shopper.
func (e *Error) Message() string {
	return FailureMessage(e.Code, e.Description)
}

// FailureMessage maps a provider failure code to a shopper-facing message.
func FailureMessage(code, description string) string {
	switch code {
	case CodeBadRequest:
		return "Invalid payment request. Please check your details."
	case CodeGateway:
		return "Payment gateway error. Please try again."
	case CodeNetwork:
		return "Network error. Please check your connection."
	case CodeServer:
		return "Server error. Please try again later."
	}
	if description != "" {
		return description
	}
	return "Payment failed. Please try again."
}

// ToMinorUnits converts an amount to paise, rounding half up.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// ValidateAmount accepts 0 < minor <= MaxMinorUnits.
func ValidateAmount(minor int64) error {
	if minor <= 0 {
		return fmt.Errorf("%w: %d must be positive", ErrInvalidAmount, minor)
	}
	if minor > MaxMinorUnits {
		return fmt.Errorf("%w: %d exceeds the %d limit", ErrInvalidAmount, minor, MaxMinorUnits)
	}
	return nil
}

type Method struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Methods lists the payment methods offered at checkout.
func Methods() []Method {
	return []Method{
		{ID: "card", Name: "Credit/Debit Card"},
		{ID: "upi", Name: "UPI"},
		{ID: "netbanking", Name: "Net Banking"},
		{ID: "wallet", Name: "Wallet"},
	}
}

// IsMethod reports whether id is an offered payment method.
func IsMethod(id string) bool {
	for _, m := range Methods() {
		if m.ID == id {
			return true
		}
	}
	return false
}
