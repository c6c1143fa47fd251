package pos

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOrder is the sentinel wrapped by every order validation failure.
var ErrInvalidOrder = errors.New("invalid order")

// ValidationError describes the first field of a record that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets callers match any validation failure with errors.Is(err, ErrInvalidOrder).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidOrder
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the structural invariants of an order: a client id, at least
// one line item with positive quantity and non-negative price, a known payment
// method, and a total that matches the line items.
func (o OfflineOrder) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return invalid("id", "is required")
	}
	if len(o.LineItems) == 0 {
		return invalid("line_items", "at least one line item is required")
	}
	for i, li := range o.LineItems {
		if strings.TrimSpace(li.ProductID) == "" {
			return invalid(fmt.Sprintf("line_items[%d].product_id", i), "is required")
		}
		if li.Quantity <= 0 {
			return invalid(fmt.Sprintf("line_items[%d].quantity", i), "must be positive, got %d", li.Quantity)
		}
		if li.UnitPrice < 0 {
			return invalid(fmt.Sprintf("line_items[%d].unit_price", i), "must not be negative, got %d", li.UnitPrice)
		}
	}
	if !o.PaymentMethod.Valid() {
		return invalid("payment_method", "unknown payment method %q", o.PaymentMethod)
	}
	if want := o.ComputeTotal(); o.TotalAmount != want {
		return invalid("total_amount", "is %d but line items sum to %d", o.TotalAmount, want)
	}
	if o.CreatedAt.IsZero() {
		return invalid("created_at", "is required")
	}
	return nil
}

// Validate checks that a menu item can be cached.
func (m CachedMenuItem) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return invalid("id", "is required")
	}
	if m.Price < 0 {
		return invalid("price", "must not be negative, got %d", m.Price)
	}
	return nil
}
