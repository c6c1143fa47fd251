package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/roach88/tillguard/internal/pos"
)

// NoteKey is the customization key used when the backend sends a drink's
// customizations as free text instead of an object.
const NoteKey = "note"

type kdsOrderWire struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	CustomerName string         `json:"customer_name"`
	CreatedAt    time.Time      `json:"created_at"`
	CoffeeOrders []kdsDrinkWire `json:"coffee_orders"`
}

type kdsDrinkWire struct {
	ID             string          `json:"id"`
	DrinkName      string          `json:"drink_name"`
	Customizations json.RawMessage `json:"customizations"`
}

// FetchKDS returns the in-flight kitchen orders in server order.
func (c *Client) FetchKDS(ctx context.Context) ([]pos.KDSOrderSnapshot, error) {
	var resp struct {
		Orders []kdsOrderWire `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, c.cfg.KDSPath, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch kds: %w", err)
	}

	orders := make([]pos.KDSOrderSnapshot, 0, len(resp.Orders))
	for _, w := range resp.Orders {
		o := pos.KDSOrderSnapshot{
			ID:           w.ID,
			Status:       w.Status,
			CustomerName: w.CustomerName,
			CreatedAt:    w.CreatedAt.UTC(),
			LineItems:    make([]pos.KDSLineItem, 0, len(w.CoffeeOrders)),
		}
		for _, d := range w.CoffeeOrders {
			custom, err := decodeCustomizations(d.Customizations)
			if err != nil {
				return nil, fmt.Errorf("fetch kds: order %s drink %s: %w", w.ID, d.ID,
					&DecodeError{Path: c.cfg.KDSPath, Err: err})
			}
			o.LineItems = append(o.LineItems, pos.KDSLineItem{
				ID:             d.ID,
				DrinkName:      d.DrinkName,
				Customizations: custom,
			})
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// decodeCustomizations accepts an object, a string or null.
func decodeCustomizations(raw json.RawMessage) (map[string]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var note string
		if err := json.Unmarshal(raw, &note); err != nil {
			return nil, err
		}
		if note == "" {
			return nil, nil
		}
		return map[string]string{NoteKey: note}, nil
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		if len(obj) == 0 {
			return nil, nil
		}
		out := make(map[string]string, len(obj))
		for k, v := range obj {
			switch tv := v.(type) {
			case nil:
				continue
			case string:
				out[k] = tv
			default:
				out[k] = fmt.Sprint(tv)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("customizations: unsupported JSON %s", string(raw))
}
