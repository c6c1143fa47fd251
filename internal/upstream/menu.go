package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/roach88/tillguard/internal/pos"
)

type menuItemWire struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PriceCents  int64  `json:"price_cents"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// FetchMenu returns the active menu in server order. The response may be
// {"items":[...]} or a bare array.
func (c *Client) FetchMenu(ctx context.Context) ([]pos.CachedMenuItem, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.cfg.MenuPath, nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch menu: %w", err)
	}

	var wire []menuItemWire
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &wire); err != nil {
			return nil, fmt.Errorf("fetch menu: %w", &DecodeError{Path: c.cfg.MenuPath, Err: err})
		}
	} else {
		var envelope struct {
			Items []menuItemWire `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("fetch menu: %w", &DecodeError{Path: c.cfg.MenuPath, Err: err})
		}
		wire = envelope.Items
	}

	items := make([]pos.CachedMenuItem, 0, len(wire))
	for _, w := range wire {
		item := pos.CachedMenuItem{
			ID:          w.ID,
			Name:        w.Name,
			Price:       w.PriceCents,
			Description: w.Description,
			ImageRef:    w.ImageURL,
		}
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("fetch menu: %w", &DecodeError{Path: c.cfg.MenuPath, Err: err})
		}
		items = append(items, item)
	}
	return items, nil
}
