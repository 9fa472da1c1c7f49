package cart_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"pizzapalace/internal/cart"
)

type cartTestContext struct {
	now        time.Time
	ledger     *cart.Ledger
	restoreErr error
}

func (c *cartTestContext) reset() {
	c.now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	c.ledger = cart.New(cart.WithClock(c.clock))
	c.restoreErr = nil
}

func (c *cartTestContext) clock() time.Time {
	return c.now
}

func (c *cartTestContext) anEmptyCart() error {
	if !c.ledger.IsEmpty() {
		return fmt.Errorf("expected empty cart, got %d lines", len(c.ledger.Lines()))
	}
	return nil
}

func (c *cartTestContext) iAddProduct(qty int, productID string, price int, size, crust, toppings string) error {
	var list []string
	if toppings != "" {
		list = strings.Split(toppings, ",")
	}
	_, err := c.ledger.AddLine(
		cart.Product{ID: productID, Name: productID, BasePrice: decimal.NewFromInt(int64(price))},
		cart.Customizations{Size: size, Crust: crust, Toppings: list},
		qty,
	)
	return err
}

func (c *cartTestContext) lineFor(productID string) (cart.Line, error) {
	for _, line := range c.ledger.Lines() {
		if line.ProductID == productID {
			return line, nil
		}
	}
	return cart.Line{}, fmt.Errorf("no line for product %q", productID)
}

func (c *cartTestContext) iSetTheQuantityOfProductTo(productID string, qty int) error {
	line, err := c.lineFor(productID)
	if err != nil {
		return err
	}
	c.ledger.SetQuantity(line.ID, qty)
	return nil
}

func (c *cartTestContext) theCartIsSavedAndRestoredHoursLater(hours int) error {
	blob, err := c.ledger.MarshalSnapshot()
	if err != nil {
		return err
	}
	c.now = c.now.Add(time.Duration(hours) * time.Hour)
	c.ledger = cart.New(cart.WithClock(c.clock))
	c.restoreErr = c.ledger.Restore(blob, cart.DefaultMaxAge)
	return nil
}

func (c *cartTestContext) theCartHasLines(n int) error {
	if got := len(c.ledger.Lines()); got != n {
		return fmt.Errorf("expected %d lines, got %d", n, got)
	}
	return nil
}

func (c *cartTestContext) theLineForProductHasQuantityAndTotal(productID string, qty, total int) error {
	line, err := c.lineFor(productID)
	if err != nil {
		return err
	}
	if line.Quantity != qty {
		return fmt.Errorf("expected quantity %d, got %d", qty, line.Quantity)
	}
	if !line.TotalPrice.Equal(decimal.NewFromInt(int64(total))) {
		return fmt.Errorf("expected total %d, got %s", total, line.TotalPrice)
	}
	return nil
}

func (c *cartTestContext) theCartIsEmpty() error {
	return c.anEmptyCart()
}

func (c *cartTestContext) theDeliveryChargeIs(amount int) error {
	if got := c.ledger.DeliveryCharge(); !got.Equal(decimal.NewFromInt(int64(amount))) {
		return fmt.Errorf("expected delivery %d, got %s", amount, got)
	}
	return nil
}

func (c *cartTestContext) theGrandTotalEqualsSubtotalPlusDeliveryPlusTax() error {
	want := c.ledger.Subtotal().Add(c.ledger.DeliveryCharge()).Add(c.ledger.Tax())
	if got := c.ledger.GrandTotal(); !got.Equal(want) {
		return fmt.Errorf("expected grand total %s, got %s", want, got)
	}
	return nil
}

func (c *cartTestContext) checkoutValidationReports(code string) error {
	for _, v := range c.ledger.ValidateForCheckout() {
		if string(v.Code) == code {
			return nil
		}
	}
	return fmt.Errorf("expected violation %s", code)
}

func (c *cartTestContext) theRestoreReportsAStaleCart() error {
	if !errors.Is(c.restoreErr, cart.ErrStaleCart) {
		return fmt.Errorf("expected stale cart error, got %v", c.restoreErr)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &cartTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given / When steps
	ctx.Step(`^an empty cart$`, tc.anEmptyCart)
	ctx.Step(`^I add (\d+) of product "([^"]*)" priced (\d+) with size "([^"]*)", crust "([^"]*)" and toppings "([^"]*)"$`, tc.iAddProduct)
	ctx.Step(`^I set the quantity of product "([^"]*)" to (-?\d+)$`, tc.iSetTheQuantityOfProductTo)
	ctx.Step(`^the cart is saved and restored (\d+) hours later$`, tc.theCartIsSavedAndRestoredHoursLater)

	// Then steps
	ctx.Step(`^the cart has (\d+) lines?$`, tc.theCartHasLines)
	ctx.Step(`^the line for product "([^"]*)" has quantity (\d+) and total (\d+)$`, tc.theLineForProductHasQuantityAndTotal)
	ctx.Step(`^the cart is empty$`, tc.theCartIsEmpty)
	ctx.Step(`^the delivery charge is (\d+)$`, tc.theDeliveryChargeIs)
	ctx.Step(`^the grand total equals subtotal plus delivery plus tax$`, tc.theGrandTotalEqualsSubtotalPlusDeliveryPlusTax)
	ctx.Step(`^checkout validation reports "([^"]*)"$`, tc.checkoutValidationReports)
	ctx.Step(`^the restore reports a stale cart$`, tc.theRestoreReportsAStaleCart)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features/cart.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
