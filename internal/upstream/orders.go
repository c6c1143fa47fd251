package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/tillguard/internal/pos"
)

type orderItemWire struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Items         []orderItemWire `json:"items"`
	PaymentMethod string          `json:"payment_method"`
	CustomerName  string          `json:"customer_name,omitempty"`
}

type createOrderResponse struct {
	OrderID string `json:"order_id"`
}

// CreateOrder submits an order and returns the server order id. The client
// order id is sent as the idempotency key, so resubmitting the same order
// after a lost acknowledgment does not create it twice.
func (c *Client) CreateOrder(ctx context.Context, order pos.OfflineOrder) (string, error) {
	body := createOrderRequest{
		ClientOrderID: order.ID,
		Items:         make([]orderItemWire, len(order.LineItems)),
		PaymentMethod: string(order.PaymentMethod),
		CustomerName:  order.CustomerName,
	}
	for i, li := range order.LineItems {
		body.Items[i] = orderItemWire{ProductID: li.ProductID, Quantity: li.Quantity}
	}

	header := http.Header{}
	header.Set(IdempotencyHeader, order.ID)

	var resp createOrderResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.OrdersPath, body, header, &resp); err != nil {
		return "", fmt.Errorf("create order %s: %w", order.ID, err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("create order %s: %w", order.ID,
			&DecodeError{Path: c.cfg.OrdersPath, Err: errors.New("missing order_id")})
	}
	return resp.OrderID, nil
}
