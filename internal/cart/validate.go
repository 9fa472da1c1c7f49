// internal/cart/validate.go
package cart

import "fmt"

type ViolationCode string

const (
	ViolationEmptyCart       ViolationCode = "EMPTY_CART"
	ViolationInvalidQuantity ViolationCode = "INVALID_QUANTITY"
	ViolationNegativeTotal   ViolationCode = "NEGATIVE_TOTAL"
)

type Violation struct {
	Code    ViolationCode `json:"code"`
	Message string        `json:"message"`
	LineID  string        `json:"lineId,omitempty"`
}

func (v Violation) Error() string {
	return v.Message
}

// ValidateForCheckout lists every reason the cart cannot be paid for.
// An empty result means checkout may proceed.
func (l *Ledger) ValidateForCheckout() []Violation {
	var violations []Violation

	if len(l.lines) == 0 {
		violations = append(violations, Violation{
			Code:    ViolationEmptyCart,
			Message: "Cart is empty",
		})
	}

	if l.GrandTotal().IsNegative() {
		violations = append(violations, Violation{
			Code:    ViolationNegativeTotal,
			Message: "Invalid total amount",
		})
	}

	for _, line := range l.lines {
		if line.Quantity <= 0 {
			violations = append(violations, Violation{
				Code:    ViolationInvalidQuantity,
				Message: fmt.Sprintf("Invalid quantity for %s", line.Name),
				LineID:  line.ID,
			})
		}
	}

	return violations
}
