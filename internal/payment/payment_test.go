package payment_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizzapalace/internal/payment"
	"pizzapalace/internal/payment/paypaltest"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"394", 39400},
		{"472.5", 47250},
		{"100.005", 10001},
		{"0.004", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, payment.ToMinorUnits(decimal.RequireFromString(tt.amount)), tt.amount)
	}
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, payment.ValidateAmount(1))
	assert.NoError(t, payment.ValidateAmount(payment.MaxMinorUnits))
	assert.True(t, errors.Is(payment.ValidateAmount(0), payment.ErrInvalidAmount))
	assert.True(t, errors.Is(payment.ValidateAmount(-100), payment.ErrInvalidAmount))
	assert.True(t, errors.Is(payment.ValidateAmount(payment.MaxMinorUnits+1), payment.ErrInvalidAmount))
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "Invalid payment request. Please check your details.", payment.FailureMessage("BAD_REQUEST_ERROR", "x"))
	assert.Equal(t, "Payment gateway error. Please try again.", payment.FailureMessage("GATEWAY_ERROR", ""))
	assert.Equal(t, "Network error. Please check your connection.", payment.FailureMessage("NETWORK_ERROR", ""))
	assert.Equal(t, "Server error. Please try again later.", payment.FailureMessage("SERVER_ERROR", ""))
	assert.Equal(t, "Card expired", payment.FailureMessage("OTHER", "Card expired"))
	assert.Equal(t, "Payment failed. Please try again.", payment.FailureMessage("OTHER", ""))
}

func TestMethods(t *testing.T) {
	methods := payment.Methods()
	require.Len(t, methods, 4)
	assert.Equal(t, "card", methods[0].ID)
	assert.True(t, payment.IsMethod("upi"))
	assert.False(t, payment.IsMethod("cash"))
}

func orderRequest(ref string) payment.OrderRequest {
	return payment.OrderRequest{
		ReferenceID: ref,
		Amount:      decimal.RequireFromString("472"),
		Currency:    "INR",
		Description: "Pizza Palace order " + ref,
		Customer:    payment.Customer{Name: "Ravi", Email: "ravi@example.com"},
	}
}

func TestPayPalClient_CreateAndCapture(t *testing.T) {
	mock := paypaltest.NewMockPayPal()
	defer mock.Close()
	client := payment.NewPayPalClient(mock.Config())
	ctx := context.Background()

	order, err := client.CreateOrder(ctx, orderRequest("PP_1"))
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "CREATED", order.Status)
	assert.Contains(t, order.ApproveURL, order.ID)

	stored, ok := mock.Order(order.ID)
	require.True(t, ok)
	assert.Equal(t, "472.00", stored.Amount)
	assert.Equal(t, "INR", stored.Currency)
	assert.Equal(t, "PP_1", stored.ReferenceID)

	capture, err := client.CaptureOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", capture.Status)
	assert.Equal(t, "CAPTURE-"+order.ID, capture.CaptureID)
	assert.True(t, capture.Amount.Equal(decimal.NewFromInt(472)))

	// The token is fetched once and reused.
	auth, create, captures := mock.Stats()
	assert.Equal(t, 1, auth)
	assert.Equal(t, 1, create)
	assert.Equal(t, 1, captures)
}

func TestPayPalClient_AuthFailure(t *testing.T) {
	mock := paypaltest.NewMockPayPal()
	defer mock.Close()
	mock.SetFailAuth(true)

	_, err := payment.NewPayPalClient(mock.Config()).CreateOrder(context.Background(), orderRequest("PP_2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, payment.ErrPaymentFailed))

	var pe *payment.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, payment.CodeGateway, pe.Code)
}

func TestPayPalClient_CreateFailureIsNotRetried(t *testing.T) {
	mock := paypaltest.NewMockPayPal()
	defer mock.Close()
	mock.FailCreate(http.StatusInternalServerError)

	_, err := payment.NewPayPalClient(mock.Config()).CreateOrder(context.Background(), orderRequest("PP_3"))
	var pe *payment.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, payment.CodeServer, pe.Code)
	assert.Equal(t, "Server error. Please try again later.", pe.Message())

	_, create, _ := mock.Stats()
	assert.Equal(t, 1, create)
}

func TestPayPalClient_CaptureDeclined(t *testing.T) {
	mock := paypaltest.NewMockPayPal()
	defer mock.Close()
	client := payment.NewPayPalClient(mock.Config())
	ctx := context.Background()

	order, err := client.CreateOrder(ctx, orderRequest("PP_4"))
	require.NoError(t, err)

	mock.FailCapture(http.StatusUnprocessableEntity)
	_, err = client.CaptureOrder(ctx, order.ID)
	var pe *payment.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, payment.CodeBadRequest, pe.Code)
	assert.Equal(t, "The instrument presented was declined.", pe.Description)
}

func TestPayPalClient_CaptureNotCompleted(t *testing.T) {
	mock := paypaltest.NewMockPayPal()
	defer mock.Close()
	client := payment.NewPayPalClient(mock.Config())
	ctx := context.Background()

	order, err := client.CreateOrder(ctx, orderRequest("PP_5"))
	require.NoError(t, err)

	mock.SetCaptureStatus("PENDING")
	capture, err := client.CaptureOrder(ctx, order.ID)
	require.Error(t, err)
	require.NotNil(t, capture)
	assert.Equal(t, "PENDING", capture.Status)

	var pe *payment.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, payment.CodePaymentDeclined, pe.Code)
	assert.Equal(t, "Payment failed. Please try again.", pe.Message())
}

func TestPayPalClient_NetworkError(t *testing.T) {
	mock := paypaltest.NewMockPayPal()
	cfg := mock.Config()
	mock.Close()

	_, err := payment.NewPayPalClient(cfg).CreateOrder(context.Background(), orderRequest("PP_6"))
	var pe *payment.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, payment.CodeNetwork, pe.Code)
}

func TestPayPalClient_ContextDeadline(t *testing.T) {
	mock := paypaltest.NewMockPayPal()
	defer mock.Close()
	mock.SetNetworkLatency(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := payment.NewPayPalClient(mock.Config()).CreateOrder(ctx, orderRequest("PP_7"))
	var pe *payment.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, payment.CodeNetwork, pe.Code)
	assert.Equal(t, 0, mock.OrderCount())
}
