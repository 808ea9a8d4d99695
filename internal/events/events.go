package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
)

// StatusChanged is published after every committed status transition.
type StatusChanged struct {
	OrderID           string        `json:"order_id"`
	MerchantReference string        `json:"merchant_reference"`
	UserRef           string        `json:"user_ref"`
	From              orders.Status `json:"from"`
	To                orders.Status `json:"to"`
	SupplierOrderID   string        `json:"supplier_order_id,omitempty"`
	ErrorMessage      string        `json:"error_message,omitempty"`
	OccurredAt        time.Time     `json:"occurred_at"`
}

// NewStatusChanged builds the event for an order that moved from `from` to its current status.
func NewStatusChanged(o *orders.Order, from orders.Status) StatusChanged {
	return StatusChanged{
		OrderID:           o.OrderID,
		MerchantReference: o.MerchantReference,
		UserRef:           o.UserRef,
		From:              from,
		To:                o.Status,
		SupplierOrderID:   o.SupplierOrderID,
		ErrorMessage:      o.ErrorMessage,
		OccurredAt:        o.UpdatedAt,
	}
}

// Notifier delivers status-change events. Delivery is best-effort; callers log failures.
type Notifier interface {
	Notify(ctx context.Context, ev StatusChanged) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, StatusChanged) error { return nil }

func encode(ev StatusChanged) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal status event: %w", err)
	}
	return b, nil
}
