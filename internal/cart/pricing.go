// internal/cart/pricing.go
package cart

import (
	"github.com/shopspring/decimal"
)

// Rules holds every constant that feeds the line and order totals.
type Rules struct {
	SizePrices    map[string]decimal.Decimal
	CrustPrices   map[string]decimal.Decimal
	ToppingPrices map[string]decimal.Decimal

	FreeDeliveryThreshold decimal.Decimal
	DeliveryFee           decimal.Decimal
	TaxRate               decimal.Decimal
}

// DefaultRules returns the storefront's standard price list.
func DefaultRules() Rules {
	return Rules{
		SizePrices: map[string]decimal.Decimal{
			"small":  decimal.Zero,
			"medium": decimal.NewFromInt(100),
			"large":  decimal.NewFromInt(200),
		},
		CrustPrices: map[string]decimal.Decimal{
			"thin":    decimal.Zero,
			"thick":   decimal.NewFromInt(50),
			"stuffed": decimal.NewFromInt(100),
		},
		ToppingPrices: map[string]decimal.Decimal{
			"extraCheese": decimal.NewFromInt(60),
			"mushrooms":   decimal.NewFromInt(40),
			"pepperoni":   decimal.NewFromInt(80),
			"olives":      decimal.NewFromInt(30),
			"bellPeppers": decimal.NewFromInt(35),
			"onions":      decimal.NewFromInt(25),
		},
		FreeDeliveryThreshold: decimal.NewFromInt(500),
		DeliveryFee:           decimal.NewFromInt(40),
		TaxRate:               decimal.RequireFromString("0.18"),
	}
}

// UnitPrice is the base price plus every recognised modifier.
// Unknown sizes, crusts and toppings cost nothing.
func (r Rules) UnitPrice(base decimal.Decimal, c Customizations) decimal.Decimal {
	c = c.Normalize()
	price := base.Add(r.SizePrices[c.Size]).Add(r.CrustPrices[c.Crust])
	for _, t := range c.Toppings {
		price = price.Add(r.ToppingPrices[t])
	}
	return price
}

// LineTotal multiplies the unit price by quantity.
func (r Rules) LineTotal(base decimal.Decimal, c Customizations, qty int) decimal.Decimal {
	return r.UnitPrice(base, c).Mul(decimal.NewFromInt(int64(qty)))
}

// DeliveryCharge waives the fee once subtotal reaches the threshold.
func (r Rules) DeliveryCharge(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(r.FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return r.DeliveryFee
}

func (r Rules) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(r.TaxRate)
}
