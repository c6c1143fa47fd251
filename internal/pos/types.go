package pos

import "time"

// PaymentMethod identifies how an order is paid for.
type PaymentMethod string

const (
	// PaymentCash is settled at the counter and can be taken offline.
	PaymentCash PaymentMethod = "cash"
	// PaymentPending defers payment until the order is reconciled.
	PaymentPending PaymentMethod = "pending"
	// PaymentCard needs live authorization and is never queued.
	PaymentCard PaymentMethod = "card"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentPending, PaymentCard:
		return true
	}
	return false
}

// Queueable reports whether an order paid with m may wait in the offline queue.
func (m PaymentMethod) Queueable() bool {
	return m == PaymentCash || m == PaymentPending
}

// CachedMenuItem is the last-known menu entry served while offline.
type CachedMenuItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"` // minor units
	Description string `json:"description,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
}

// LineItem is one product line of an order.
type LineItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"` // minor units
}

// Subtotal returns quantity × unit price.
func (li LineItem) Subtotal() int64 {
	return int64(li.Quantity) * li.UnitPrice
}

// OfflineOrder is an order accepted by the register that has not necessarily
// reached the server yet.
type OfflineOrder struct {
	ID            string        `json:"id"` // client-generated
	SessionID     string        `json:"session_id,omitempty"`
	LineItems     []LineItem    `json:"line_items"`
	TotalAmount   int64         `json:"total_amount"` // minor units
	CustomerName  string        `json:"customer_name,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	CreatedAt     time.Time     `json:"created_at"`
	Synced        bool          `json:"synced"`
}

// ComputeTotal sums the line item subtotals.
func (o OfflineOrder) ComputeTotal() int64 {
	var total int64
	for _, li := range o.LineItems {
		total += li.Subtotal()
	}
	return total
}

// KDSLineItem is one drink on a kitchen ticket.
type KDSLineItem struct {
	ID             string            `json:"id"`
	DrinkName      string            `json:"drink_name"`
	Customizations map[string]string `json:"customizations,omitempty"`
}

// KDSOrderSnapshot is an in-flight order as last seen by the kitchen display.
type KDSOrderSnapshot struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	CustomerName string        `json:"customer_name,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LineItems    []KDSLineItem `json:"line_items"`
}

// OfflineSession bounds one outage for cash exposure accounting.
// At most one session is open at a time.
type OfflineSession struct {
	ID              string     `json:"id"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	Cap             int64      `json:"cap"` // minor units
	CapOverriddenBy string     `json:"cap_overridden_by,omitempty"`
}

// Open reports whether the session has not been closed.
func (s OfflineSession) Open() bool {
	return s.ClosedAt == nil
}
