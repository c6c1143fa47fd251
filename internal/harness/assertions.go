package harness

import (
	"context"
	"fmt"
	"slices"
)

// check evaluates one assertion against the final state. It returns a
// non-empty message when the assertion does not hold and an error when the
// state could not be read.
func (h *Harness) check(ctx context.Context, a Assertion) (string, error) {
	switch a.Type {
	case AssertConnection:
		if online := h.monitor.Current().IsOnline; online != *a.Online {
			return fmt.Sprintf("expected online=%t, got %t", *a.Online, online), nil
		}

	case AssertQueue:
		orders, err := h.store.GetUnsyncedOrders(ctx)
		if err != nil {
			return "", err
		}
		ids := make([]string, 0, len(orders))
		for _, o := range orders {
			ids = append(ids, o.ID)
		}
		if a.Count != nil && len(ids) != *a.Count {
			return fmt.Sprintf("expected %d unsynced order(s), got %d %v", *a.Count, len(ids), ids), nil
		}
		if a.IDs != nil && !slices.Equal(ids, a.IDs) {
			return fmt.Sprintf("expected unsynced %v, got %v", a.IDs, ids), nil
		}

	case AssertExposure:
		return h.checkExposure(ctx, a)

	case AssertServerOrders:
		if got := h.backend.acceptedIDs(); !slices.Equal(got, a.IDs) {
			return fmt.Sprintf("expected server orders %v, got %v", a.IDs, got), nil
		}

	case AssertMenu:
		items, err := h.store.GetCachedMenu(ctx)
		if err != nil {
			return "", err
		}
		ids := make([]string, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ID)
		}
		if !slices.Equal(ids, a.IDs) {
			return fmt.Sprintf("expected cached menu %v, got %v", a.IDs, ids), nil
		}

	default:
		return "", fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return "", nil
}

func (h *Harness) checkExposure(ctx context.Context, a Assertion) (string, error) {
	state, active, err := h.gov.Current(ctx)
	if err != nil {
		return "", err
	}

	var mismatches []string
	if a.Active != nil && active != *a.Active {
		mismatches = append(mismatches, fmt.Sprintf("active=%t, want %t", active, *a.Active))
	}
	if a.CashTotal != nil && state.CashTotal != *a.CashTotal {
		mismatches = append(mismatches, fmt.Sprintf("cash_total=%d, want %d", state.CashTotal, *a.CashTotal))
	}
	if a.PercentUsed != nil && state.PercentUsed != *a.PercentUsed {
		mismatches = append(mismatches, fmt.Sprintf("percent_used=%d, want %d", state.PercentUsed, *a.PercentUsed))
	}
	if a.Remaining != nil && state.Remaining != *a.Remaining {
		mismatches = append(mismatches, fmt.Sprintf("remaining=%d, want %d", state.Remaining, *a.Remaining))
	}
	if a.Level != "" && string(state.Level) != a.Level {
		mismatches = append(mismatches, fmt.Sprintf("level=%s, want %s", state.Level, a.Level))
	}

	if len(mismatches) > 0 {
		return fmt.Sprint(mismatches), nil
	}
	return "", nil
}
