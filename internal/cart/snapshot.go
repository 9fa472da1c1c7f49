// internal/cart/snapshot.go
package cart

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pizzapalace/internal/logger"
)

// DefaultMaxAge is how long a saved cart stays restorable.
const DefaultMaxAge = 24 * time.Hour

// Snapshot is the persisted form of a ledger.
type Snapshot struct {
	Items   []Line    `json:"items"`
	SavedAt time.Time `json:"savedAt"`
}

// Stored ids and totals are ignored on restore and recomputed from the
// current rules.
type savedCart struct {
	Items   *[]savedLine `json:"items"`
	SavedAt *time.Time   `json:"savedAt"`
}

type savedLine struct {
	ProductID      string           `json:"productId"`
	Name           string           `json:"name"`
	Image          string           `json:"image"`
	Category       string           `json:"category"`
	BasePrice      *decimal.Decimal `json:"basePrice"`
	Quantity       int              `json:"quantity"`
	Customizations Customizations   `json:"customizations"`
}

func (l *Ledger) Serialize() Snapshot {
	return Snapshot{
		Items:   l.Lines(),
		SavedAt: l.now().UTC(),
	}
}

func (l *Ledger) MarshalSnapshot() ([]byte, error) {
	data, err := json.Marshal(l.Serialize())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cart snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the ledger contents with a previously serialized blob.
// A blob older than maxAge yields ErrStaleCart and a malformed one yields
// ErrMalformedCart; in both cases the ledger is left empty. A non-positive
// maxAge means DefaultMaxAge.
func (l *Ledger) Restore(blob []byte, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	hadLines := len(l.lines) > 0
	lines, err := l.decode(blob, maxAge)
	if err != nil {
		l.lines = nil
		if hadLines {
			l.notify(Change{Kind: Restored})
		}
		return err
	}

	l.lines = lines
	if hadLines || len(lines) > 0 {
		l.notify(Change{Kind: Restored})
	}
	return nil
}

func (l *Ledger) decode(blob []byte, maxAge time.Duration) ([]Line, error) {
	if len(strings.TrimSpace(string(blob))) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrMalformedCart)
	}

	var saved savedCart
	if err := json.Unmarshal(blob, &saved); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCart, err)
	}
	if saved.Items == nil {
		return nil, fmt.Errorf("%w: missing items", ErrMalformedCart)
	}
	if saved.SavedAt == nil {
		return nil, fmt.Errorf("%w: missing savedAt", ErrMalformedCart)
	}

	age := l.now().Sub(*saved.SavedAt)
	if age > maxAge {
		return nil, fmt.Errorf("%w: saved %s ago, limit %s", ErrStaleCart, age.Round(time.Second), maxAge)
	}

	var lines []Line
	for i, s := range *saved.Items {
		if strings.TrimSpace(s.ProductID) == "" {
			return nil, fmt.Errorf("%w: item %d has no productId", ErrMalformedCart, i)
		}
		if s.BasePrice == nil || s.BasePrice.IsNegative() {
			return nil, fmt.Errorf("%w: item %d has an invalid basePrice", ErrMalformedCart, i)
		}
		if s.Quantity <= 0 {
			logger.LogWarn("Dropping saved cart item %s with quantity %d", s.ProductID, s.Quantity)
			continue
		}

		c := s.Customizations.Normalize()
		id := LineID(s.ProductID, c)

		merged := false
		for j := range lines {
			if lines[j].ID == id {
				lines[j].Quantity += s.Quantity
				lines[j].TotalPrice = l.rules.LineTotal(lines[j].BasePrice, c, lines[j].Quantity)
				merged = true
				break
			}
		}
		if merged {
			continue
		}

		lines = append(lines, Line{
			ID:             id,
			ProductID:      s.ProductID,
			Name:           s.Name,
			Image:          s.Image,
			Category:       s.Category,
			BasePrice:      *s.BasePrice,
			Quantity:       s.Quantity,
			Customizations: c,
			TotalPrice:     l.rules.LineTotal(*s.BasePrice, c, s.Quantity),
		})
	}
	return lines, nil
}
