// internal/cart/cart.go
package cart

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidItem   = errors.New("invalid cart item")
	ErrStaleCart     = errors.New("saved cart has expired")
	ErrMalformedCart = errors.New("saved cart is malformed")
)

// Product is the catalog data copied into a line at add time.
type Product struct {
	ID        string
	Name      string
	Image     string
	Category  string
	BasePrice decimal.Decimal
}

type Customizations struct {
	Size     string   `json:"size,omitempty"`
	Crust    string   `json:"crust,omitempty"`
	Toppings []string `json:"toppings,omitempty"`
}

// Normalize trims values and returns the toppings de-duplicated and sorted,
// so two selections of the same toppings compare equal.
func (c Customizations) Normalize() Customizations {
	out := Customizations{
		Size:  strings.TrimSpace(c.Size),
		Crust: strings.TrimSpace(c.Crust),
	}
	seen := make(map[string]bool, len(c.Toppings))
	for _, t := range c.Toppings {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out.Toppings = append(out.Toppings, t)
	}
	sort.Strings(out.Toppings)
	return out
}

// LineID derives the stable identity of a (product, customizations) pair.
func LineID(productID string, c Customizations) string {
	// Marshal of a struct of strings cannot fail.
	raw, _ := json.Marshal(c.Normalize())
	return productID + "_" + base64.RawURLEncoding.EncodeToString(raw)
}

type Line struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"productId"`
	Name           string          `json:"name"`
	Image          string          `json:"image,omitempty"`
	Category       string          `json:"category,omitempty"`
	BasePrice      decimal.Decimal `json:"basePrice"`
	Quantity       int             `json:"quantity"`
	Customizations Customizations  `json:"customizations"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
}

// Ledger is the ordered set of cart lines for one shopper. It is not safe for
// concurrent use; callers serialize access.
type Ledger struct {
	rules Rules
	now   func() time.Time
	lines []Line

	observers  map[int]func(Change)
	nextHandle int
}

type Option func(*Ledger)

func WithRules(r Rules) Option {
	return func(l *Ledger) { l.rules = r }
}

// WithClock overrides the time source used for snapshots and expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		rules:     DefaultRules(),
		now:       time.Now,
		observers: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Rules() Rules {
	return l.rules
}

// AddLine adds qty units of the product with the given customizations,
// merging into an existing line with the same identity.
func (l *Ledger) AddLine(p Product, c Customizations, qty int) (Line, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Line{}, fmt.Errorf("%w: product id is required", ErrInvalidItem)
	}
	if p.BasePrice.IsNegative() {
		return Line{}, fmt.Errorf("%w: product %s has negative base price %s", ErrInvalidItem, p.ID, p.BasePrice)
	}
	if qty < 1 {
		qty = 1
	}

	c = c.Normalize()
	id := LineID(p.ID, c)

	if i := l.indexOf(id); i >= 0 {
		line := &l.lines[i]
		line.Quantity += qty
		line.TotalPrice = l.rules.LineTotal(line.BasePrice, line.Customizations, line.Quantity)
		l.notify(Change{Kind: LineUpdated, LineID: id})
		return *line, nil
	}

	line := Line{
		ID:             id,
		ProductID:      p.ID,
		Name:           p.Name,
		Image:          p.Image,
		Category:       p.Category,
		BasePrice:      p.BasePrice,
		Quantity:       qty,
		Customizations: c,
		TotalPrice:     l.rules.LineTotal(p.BasePrice, c, qty),
	}
	l.lines = append(l.lines, line)
	l.notify(Change{Kind: LineAdded, LineID: id})
	return line, nil
}

func (l *Ledger) RemoveLine(id string) {
	i := l.indexOf(id)
	if i < 0 {
		return
	}
	l.lines = append(l.lines[:i], l.lines[i+1:]...)
	l.notify(Change{Kind: LineRemoved, LineID: id})
}

// SetQuantity replaces a line's quantity; zero or less removes the line.
func (l *Ledger) SetQuantity(id string, qty int) {
	if qty <= 0 {
		l.RemoveLine(id)
		return
	}
	i := l.indexOf(id)
	if i < 0 {
		return
	}
	line := &l.lines[i]
	if line.Quantity == qty {
		return
	}
	line.Quantity = qty
	line.TotalPrice = l.rules.LineTotal(line.BasePrice, line.Customizations, qty)
	l.notify(Change{Kind: LineUpdated, LineID: id})
}

func (l *Ledger) Clear() {
	if len(l.lines) == 0 {
		return
	}
	l.lines = nil
	l.notify(Change{Kind: Cleared})
}

func (l *Ledger) Line(id string) (Line, bool) {
	if i := l.indexOf(id); i >= 0 {
		return copyLine(l.lines[i]), true
	}
	return Line{}, false
}

// Lines returns a copy of the lines in insertion order.
func (l *Ledger) Lines() []Line {
	out := make([]Line, len(l.lines))
	for i, line := range l.lines {
		out[i] = copyLine(line)
	}
	return out
}

func (l *Ledger) IsEmpty() bool {
	return len(l.lines) == 0
}

func (l *Ledger) TotalItems() int {
	n := 0
	for _, line := range l.lines {
		n += line.Quantity
	}
	return n
}

func (l *Ledger) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range l.lines {
		sum = sum.Add(line.TotalPrice)
	}
	return sum
}

func (l *Ledger) DeliveryCharge() decimal.Decimal {
	return l.rules.DeliveryCharge(l.Subtotal())
}

func (l *Ledger) Tax() decimal.Decimal {
	return l.rules.Tax(l.Subtotal())
}

func (l *Ledger) GrandTotal() decimal.Decimal {
	subtotal := l.Subtotal()
	return subtotal.Add(l.rules.DeliveryCharge(subtotal)).Add(l.rules.Tax(subtotal))
}

func (l *Ledger) indexOf(id string) int {
	for i := range l.lines {
		if l.lines[i].ID == id {
			return i
		}
	}
	return -1
}

func copyLine(line Line) Line {
	if line.Customizations.Toppings != nil {
		line.Customizations.Toppings = append([]string(nil), line.Customizations.Toppings...)
	}
	return line
}
