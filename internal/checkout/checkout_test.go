package checkout

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizzapalace/internal/cart"
	"pizzapalace/internal/data"
	"pizzapalace/internal/payment"
	"pizzapalace/internal/payment/paypaltest"
	"pizzapalace/internal/session"
)

var (
	margherita  = cart.Product{ID: "1", Name: "Margherita", Category: "pizzas", BasePrice: decimal.NewFromInt(200)}
	garlicBread = cart.Product{ID: "sides-1", Name: "Garlic Bread", Category: "sides", BasePrice: decimal.NewFromInt(120)}
	customer    = Customer{Name: "Ravi Kumar", Email: "ravi@example.com", Contact: "9876543210", PaymentMethod: "upi"}
	fixedNow    = time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)
)

type fixture struct {
	mock     *paypaltest.MockPayPal
	orders   *data.OrderStore
	kv       *data.KVStore
	sessions *session.Manager
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := data.Open(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	require.NoError(t, db.CreateTables())
	t.Cleanup(func() { db.Close() })

	mock := paypaltest.NewMockPayPal()
	t.Cleanup(mock.Close)

	clock := func() time.Time { return fixedNow }
	kv := data.NewKVStore(db)
	sessions := session.NewManager(kv, session.WithClock(clock))
	orders := data.NewOrderStore(db)

	return &fixture{
		mock:     mock,
		orders:   orders,
		kv:       kv,
		sessions: sessions,
		service:  NewService(sessions, orders, payment.NewPayPalClient(mock.Config()), "INR", WithClock(clock)),
	}
}

func (f *fixture) add(t *testing.T, sessionID string, p cart.Product, c cart.Customizations, qty int) {
	t.Helper()
	require.NoError(t, f.sessions.With(context.Background(), sessionID, func(l *cart.Ledger) error {
		_, err := l.AddLine(p, c, qty)
		return err
	}))
}

func (f *fixture) items(t *testing.T, sessionID string) int {
	t.Helper()
	n := 0
	require.NoError(t, f.sessions.With(context.Background(), sessionID, func(l *cart.Ledger) error {
		n = l.TotalItems()
		return nil
	}))
	return n
}

func TestGenerateOrderID(t *testing.T) {
	pattern := regexp.MustCompile(`^PP_1714588200000_[0-9a-z]{9}$`)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := GenerateOrderID(fixedNow)
		require.NoError(t, err)
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestStart_CreatesProviderOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "s1", margherita, cart.Customizations{Size: "medium", Crust: "thin"}, 1)

	pending, err := f.service.Start(ctx, "s1", customer)
	require.NoError(t, err)

	// 300 subtotal + 40 delivery + 54 tax
	assert.True(t, pending.Amount.Equal(decimal.NewFromInt(394)), pending.Amount.String())
	assert.Equal(t, int64(39400), pending.AmountMinor)
	assert.Equal(t, "INR", pending.Currency)
	assert.NotEmpty(t, pending.ApproveURL)
	assert.Equal(t, 1, pending.Summary.TotalItems)

	stored, ok := f.mock.Order(pending.ProviderOrderID)
	require.True(t, ok)
	assert.Equal(t, "394.00", stored.Amount)
	assert.Equal(t, pending.OrderID, stored.ReferenceID)

	order, err := f.orders.GetOrder(ctx, pending.OrderID)
	require.NoError(t, err)
	assert.Equal(t, data.OrderCreated, order.Status)
	assert.Equal(t, "s1", order.SessionID)
	assert.Equal(t, "upi", order.PaymentMethod)
	assert.Contains(t, order.ItemsJSON, "Margherita")

	// The cart is untouched until the payment is captured.
	assert.Equal(t, 1, f.items(t, "s1"))
}

func TestStart_EmptyCartIsBlocked(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Start(context.Background(), "empty", customer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCheckoutBlocked))

	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	require.Len(t, blocked.Violations, 1)
	assert.Equal(t, cart.ViolationEmptyCart, blocked.Violations[0].Code)
	assert.Equal(t, 0, f.mock.OrderCount())
}

func TestStart_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	f.add(t, "s1", margherita, cart.Customizations{}, 1)

	bad := customer
	bad.PaymentMethod = "cash"
	_, err := f.service.Start(context.Background(), "s1", bad)
	assert.True(t, errors.Is(err, ErrUnsupportedMethod))

	anonymous := customer
	anonymous.Email = " "
	_, err = f.service.Start(context.Background(), "s1", anonymous)
	assert.True(t, errors.Is(err, ErrIncompleteCustomer))

	assert.Equal(t, 0, f.mock.OrderCount())
}

func TestStart_AmountOverLimit(t *testing.T) {
	f := newFixture(t)
	f.add(t, "big", margherita, cart.Customizations{Size: "large", Crust: "stuffed"}, 20)

	_, err := f.service.Start(context.Background(), "big", customer)
	assert.True(t, errors.Is(err, payment.ErrInvalidAmount))
	assert.Equal(t, 0, f.mock.OrderCount())
}

func TestStart_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.add(t, "s1", margherita, cart.Customizations{}, 1)
	f.mock.FailCreate(http.StatusServiceUnavailable)

	_, err := f.service.Start(context.Background(), "s1", customer)
	require.Error(t, err)

	var pe *payment.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, payment.CodeGateway, pe.Code)
	assert.Equal(t, 1, f.items(t, "s1"))
}

func TestComplete_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "s1", margherita, cart.Customizations{Size: "medium"}, 2)
	f.add(t, "s1", garlicBread, cart.Customizations{}, 1)
	require.NoError(t, f.sessions.Save(ctx, "s1"))

	pending, err := f.service.Start(ctx, "s1", customer)
	require.NoError(t, err)

	result, err := f.service.Complete(ctx, "s1", pending.ProviderOrderID)
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.Nil(t, result.Failure)

	receipt := result.Receipt
	assert.Equal(t, pending.OrderID, receipt.OrderID)
	assert.Equal(t, "CAPTURE-"+pending.ProviderOrderID, receipt.CaptureID)
	assert.True(t, receipt.Amount.Equal(pending.Amount))
	assert.Equal(t, map[string]int{"pizzas": 2, "sides": 1}, receipt.Preparation.Categories)
	assert.Equal(t, 30, receipt.Preparation.EstimatedMinutes)
	assert.Len(t, receipt.Preparation.Steps, 6)

	order, err := f.orders.GetOrder(ctx, pending.OrderID)
	require.NoError(t, err)
	assert.Equal(t, data.OrderPaid, order.Status)
	assert.Equal(t, receipt.CaptureID, order.CaptureID)
	require.NotNil(t, order.PaidAt)

	assert.Equal(t, 0, f.items(t, "s1"))

	// The saved cart is emptied too.
	blob, _, err := f.kv.Get(ctx, session.Key("s1"))
	require.NoError(t, err)
	assert.Contains(t, string(blob), `"items":[]`)
}

func TestComplete_CaptureDeclinedKeepsCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "s1", margherita, cart.Customizations{}, 1)

	pending, err := f.service.Start(ctx, "s1", customer)
	require.NoError(t, err)

	f.mock.FailCapture(http.StatusUnprocessableEntity)
	result, err := f.service.Complete(ctx, "s1", pending.ProviderOrderID)
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	require.NotNil(t, result.Failure)
	assert.Equal(t, payment.CodeBadRequest, result.Failure.Code)
	assert.Equal(t, "Invalid payment request. Please check your details.", result.Failure.Message)

	order, err := f.orders.GetOrder(ctx, pending.OrderID)
	require.NoError(t, err)
	assert.Equal(t, data.OrderFailed, order.Status)
	assert.Equal(t, payment.CodeBadRequest, order.FailureCode)

	assert.Equal(t, 1, f.items(t, "s1"))
}

func TestComplete_CaptureNotCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "s1", margherita, cart.Customizations{}, 1)

	pending, err := f.service.Start(ctx, "s1", customer)
	require.NoError(t, err)

	f.mock.SetCaptureStatus("PENDING")
	result, err := f.service.Complete(ctx, "s1", pending.ProviderOrderID)
	require.NoError(t, err)
	require.NotNil(t, result.Failure)
	assert.Equal(t, payment.CodePaymentDeclined, result.Failure.Code)
	assert.Equal(t, "Payment failed. Please try again.", result.Failure.Message)
	assert.Equal(t, 1, f.items(t, "s1"))
}

func TestComplete_UnknownOrWrongSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "s1", margherita, cart.Customizations{}, 1)

	_, err := f.service.Complete(ctx, "s1", "MOCK-ORDER-404")
	assert.True(t, errors.Is(err, ErrUnknownOrder))

	pending, err := f.service.Start(ctx, "s1", customer)
	require.NoError(t, err)

	_, err = f.service.Complete(ctx, "intruder", pending.ProviderOrderID)
	assert.True(t, errors.Is(err, ErrUnknownOrder))

	_, _, captures := f.mock.Stats()
	assert.Equal(t, 0, captures)
}

func TestComplete_AlreadySettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "s1", margherita, cart.Customizations{}, 1)

	pending, err := f.service.Start(ctx, "s1", customer)
	require.NoError(t, err)

	result, err := f.service.Complete(ctx, "s1", pending.ProviderOrderID)
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	_, err = f.service.Complete(ctx, "s1", pending.ProviderOrderID)
	assert.True(t, errors.Is(err, ErrAlreadySettled))

	_, _, captures := f.mock.Stats()
	assert.Equal(t, 1, captures)
}

func TestOrderLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "s1", garlicBread, cart.Customizations{}, 3)

	pending, err := f.service.Start(ctx, "s1", customer)
	require.NoError(t, err)

	order, err := f.service.Order(ctx, pending.OrderID)
	require.NoError(t, err)
	assert.Equal(t, pending.ProviderOrderID, order.ProviderOrderID)

	_, err = f.service.Order(ctx, "PP_0_missing")
	assert.True(t, errors.Is(err, data.ErrNotFound))
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "s1", garlicBread, cart.Customizations{}, 1)

	first, err := f.service.Start(ctx, "s1", customer)
	require.NoError(t, err)
	second, err := f.service.Start(ctx, "s1", customer)
	require.NoError(t, err)

	orders, err := f.service.History(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	ids := []string{orders[0].OrderID, orders[1].OrderID}
	assert.ElementsMatch(t, []string{first.OrderID, second.OrderID}, ids)

	orders, err = f.service.History(ctx, "someone-else", 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
