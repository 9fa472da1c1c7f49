// internal/cart/summary.go
package cart

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	baseDeliveryMinutes = 30
	maxDeliveryMinutes  = 60
	itemsPerExtraSlot   = 5
	minutesPerExtraSlot = 5
)

var preparationSteps = []string{
	"Order received",
	"Preparing ingredients",
	"Cooking/Baking",
	"Quality check",
	"Packaging",
	"Out for delivery",
}

var discountRates = map[string]decimal.Decimal{
	"SAVE10":     decimal.RequireFromString("0.10"),
	"FIRSTORDER": decimal.RequireFromString("0.15"),
	"STUDENT":    decimal.RequireFromString("0.20"),
}

// Summary is every derived total computed in one pass.
type Summary struct {
	Items                 []Line          `json:"items"`
	TotalItems            int             `json:"totalItems"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	DeliveryCharge        decimal.Decimal `json:"deliveryCharge"`
	Tax                   decimal.Decimal `json:"tax"`
	GrandTotal            decimal.Decimal `json:"grandTotal"`
	FreeDeliveryThreshold decimal.Decimal `json:"freeDeliveryThreshold"`
}

type Preparation struct {
	Categories       map[string]int `json:"categories"`
	EstimatedMinutes int            `json:"estimatedTime"`
	Steps            []string       `json:"preparationSteps"`
}

// Discount is a quote against the current subtotal. It never changes the
// ledger totals.
type Discount struct {
	Code   string          `json:"code"`
	Rate   decimal.Decimal `json:"percentage"`
	Amount decimal.Decimal `json:"amount"`
}

func (l *Ledger) Summary() Summary {
	subtotal := l.Subtotal()
	delivery := l.rules.DeliveryCharge(subtotal)
	tax := l.rules.Tax(subtotal)
	return Summary{
		Items:                 l.Lines(),
		TotalItems:            l.TotalItems(),
		Subtotal:              subtotal,
		DeliveryCharge:        delivery,
		Tax:                   tax,
		GrandTotal:            subtotal.Add(delivery).Add(tax),
		FreeDeliveryThreshold: l.rules.FreeDeliveryThreshold,
	}
}

// ItemCountByCategory sums quantities per category; lines without one
// count as "Other".
func (l *Ledger) ItemCountByCategory() map[string]int {
	counts := make(map[string]int)
	for _, line := range l.lines {
		category := line.Category
		if category == "" {
			category = "Other"
		}
		counts[category] += line.Quantity
	}
	return counts
}

// EstimatedDeliveryMinutes adds five minutes per five items to a 30 minute
// base, capped at an hour.
func (l *Ledger) EstimatedDeliveryMinutes() int {
	minutes := baseDeliveryMinutes + (l.TotalItems()/itemsPerExtraSlot)*minutesPerExtraSlot
	if minutes > maxDeliveryMinutes {
		return maxDeliveryMinutes
	}
	return minutes
}

func (l *Ledger) PreparationDetails() Preparation {
	return Preparation{
		Categories:       l.ItemCountByCategory(),
		EstimatedMinutes: l.EstimatedDeliveryMinutes(),
		Steps:            append([]string(nil), preparationSteps...),
	}
}

func (l *Ledger) QuoteDiscount(code string) (Discount, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	rate, ok := discountRates[code]
	if !ok {
		return Discount{}, false
	}
	return Discount{
		Code:   code,
		Rate:   rate,
		Amount: l.Subtotal().Mul(rate),
	}, true
}
