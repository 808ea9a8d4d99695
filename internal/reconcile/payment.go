package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imrishuroy/go-engagement-orderflow/internal/gateway"
	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
)

var pendingOnly = []orders.Status{orders.StatusPendingPayment}

// OnPaymentEvent applies a gateway payment status to the order with the given reference. It is
// the single entry point for webhook notifications and sweep polling, and is idempotent: once an
// order has left PENDING_PAYMENT every payment event is a no-op.
func (e *Engine) OnPaymentEvent(ctx context.Context, merchantReference, rawStatus string) (*orders.Order, error) {
	o, err := e.getByReference(ctx, merchantReference)
	if err != nil {
		return nil, err
	}
	if o.Status != orders.StatusPendingPayment {
		e.logger.Debug("payment event ignored", "order_id", o.OrderID, "status", o.Status, "payment_status", rawStatus)
		return o, nil
	}

	status := strings.ToUpper(strings.TrimSpace(rawStatus))
	switch status {
	case gateway.StatusCompleted:
		return e.submit(ctx, o, orders.StatusPendingPayment)

	case gateway.StatusFailed, gateway.StatusInvalid:
		updated, _, err := e.update(ctx, o,
			orders.Condition{Statuses: pendingOnly, NoClaim: true},
			orders.Patch{
				Status:        orders.Ptr(orders.StatusPaymentFailed),
				PaymentStatus: orders.Ptr(status),
				ErrorMessage:  orders.Ptr("payment " + strings.ToLower(status)),
			})
		return updated, err

	case gateway.StatusPending:
		return e.recordPaymentStatus(ctx, o, status)

	default:
		e.logger.Warn("unrecognised payment status", "order_id", o.OrderID, "payment_status", rawStatus)
		return e.recordPaymentStatus(ctx, o, status)
	}
}

// recordPaymentStatus stores an advisory payment status without a transition.
func (e *Engine) recordPaymentStatus(ctx context.Context, o *orders.Order, status string) (*orders.Order, error) {
	if o.PaymentStatus == status {
		return o, nil
	}
	updated, _, err := e.update(ctx, o,
		orders.Condition{Statuses: pendingOnly, NoClaim: true},
		orders.Patch{PaymentStatus: orders.Ptr(status)})
	return updated, err
}

// PollPayment fetches the authoritative payment status for a pending order and applies it.
func (e *Engine) PollPayment(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	if o.Status != orders.StatusPendingPayment || o.GatewayTrackingID == "" {
		return nil, ErrNotEligible
	}
	st, err := e.gateway.GetStatus(ctx, o.GatewayTrackingID)
	if err != nil {
		return nil, fmt.Errorf("payment status for %s: %w", o.OrderID, err)
	}
	return e.OnPaymentEvent(ctx, o.MerchantReference, st.Description)
}

// ExpiryDue reports whether an order may be expired now: it is still awaiting
// payment, no submission is in flight, and either the payment window has passed or gateway
// registration retries are exhausted.
func (e *Engine) ExpiryDue(o *orders.Order) bool {
	if o.Status != orders.StatusPendingPayment || o.SubmissionClaim != "" ||
		o.PaymentStatus == gateway.StatusCompleted {
		return false
	}
	if o.GatewayTrackingID == "" && o.RegistrationAttempts > e.cfg.MaxRegistrationRetries {
		return true
	}
	return !e.nowFunc().Before(o.CreatedAt.Add(e.cfg.PaymentTimeout))
}

// ExpireOrder moves an unpaid order to EXPIRED. When the order has a tracking id the gateway is
// asked one last time first, so a payment that completed just before the deadline still wins.
// A failing final check postpones expiry until unconfirmedExpiryAt, then expires anyway.
func (e *Engine) ExpireOrder(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	if !e.ExpiryDue(o) {
		return nil, ErrNotEligible
	}

	msg := "payment not confirmed within " + e.cfg.PaymentTimeout.String()
	if o.GatewayTrackingID == "" {
		msg = "payment registration failed after retries"
	} else {
		st, err := e.gateway.GetStatus(ctx, o.GatewayTrackingID)
		switch {
		case err != nil && e.nowFunc().Before(e.unconfirmedExpiryAt(o)):
			return nil, fmt.Errorf("final payment check for %s: %w", o.OrderID, err)
		case err != nil:
			e.logger.Warn("expiring without gateway confirmation", "order_id", o.OrderID, "error", err)
			msg = fmt.Sprintf("%s; gateway status unconfirmed: %v", msg, err)
		default:
			switch st.Description {
			case gateway.StatusCompleted, gateway.StatusFailed, gateway.StatusInvalid:
				return e.OnPaymentEvent(ctx, o.MerchantReference, st.Description)
			}
		}
	}
	updated, _, err := e.update(ctx, o,
		orders.Condition{Statuses: pendingOnly, NoClaim: true},
		orders.Patch{
			Status:       orders.Ptr(orders.StatusExpired),
			ErrorMessage: orders.Ptr(msg),
		})
	return updated, err
}

// unconfirmedExpiryAt is when an order expires even though the gateway cannot be asked.
func (e *Engine) unconfirmedExpiryAt(o *orders.Order) time.Time {
	return o.CreatedAt.Add(e.cfg.PaymentTimeout + e.cfg.ClaimTTL)
}
