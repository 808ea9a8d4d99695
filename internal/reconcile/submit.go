package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-engagement-orderflow/internal/gateway"
	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
)

const recordAttempts = 4

// submit forwards a paid order to the supplier at most once.
//
// Phase one claims the order with a conditional update (status == from, no supplier order id,
// no live claim). Only the claim winner calls the supplier, with no lock held. Phase two records
// the outcome with a second conditional update that requires the supplier order id to be unset.
func (e *Engine) submit(ctx context.Context, o *orders.Order, from orders.Status) (*orders.Order, error) {
	token := uuid.NewString()
	now := e.nowFunc()
	claim := orders.Patch{
		Claim:               orders.Ptr(token),
		ClaimedAt:           &now,
		IncSupplierAttempts: true,
	}
	if from == orders.StatusPendingPayment {
		claim.PaymentStatus = orders.Ptr(gateway.StatusCompleted)
	}

	claimed, won, err := e.update(ctx, o, orders.Condition{
		Statuses:           []orders.Status{from},
		SupplierOrderUnset: true,
		NoClaim:            true,
	}, claim)
	if err != nil {
		return nil, err
	}
	if !won {
		e.logger.Debug("submission claim lost", "order_id", o.OrderID, "status", claimed.Status)
		return claimed, nil
	}

	svc, ok := e.catalog.Lookup(claimed.Platform, claimed.ServiceName, claimed.Quality)
	if !ok {
		return e.failSubmission(ctx, claimed, token,
			fmt.Errorf("no supplier service for %s/%s/%s", claimed.Platform, claimed.ServiceName, claimed.Quality))
	}

	supplierOrderID, err := e.supplier.PlaceOrder(ctx, svc.ID, claimed.TargetLink, claimed.Quantity)
	if err != nil {
		return e.failSubmission(ctx, claimed, token, err)
	}

	updated, recorded, err := e.recordSupplierOrder(ctx, claimed, from, svc.ID, supplierOrderID)
	if err != nil {
		e.logger.Error("supplier order placed but not recorded",
			"order_id", claimed.OrderID, "supplier_order_id", supplierOrderID, "error", err)
		return nil, err
	}
	if !recorded {
		e.logger.Error("supplier order placed but order already advanced",
			"order_id", claimed.OrderID, "supplier_order_id", supplierOrderID, "status", updated.Status)
		return updated, nil
	}
	e.logger.Info("order forwarded to supplier",
		"order_id", updated.OrderID, "supplier_order_id", supplierOrderID, "service_id", svc.ID)
	return updated, nil
}

// recordSupplierOrder stores the id of a placed supplier order. A store error is retried: while
// the id is unrecorded the claim can go stale and the order be resubmitted.
func (e *Engine) recordSupplierOrder(ctx context.Context, claimed *orders.Order, from orders.Status, serviceID int64, supplierOrderID string) (*orders.Order, bool, error) {
	ctx = context.WithoutCancel(ctx)
	// A stale-claim release may have moved the order to SUPPLIER_ERROR meanwhile; the supplier
	// order still exists and must be recorded.
	cond := orders.Condition{
		Statuses:           []orders.Status{from, orders.StatusSupplierError},
		SupplierOrderUnset: true,
	}
	patch := orders.Patch{
		Status:            orders.Ptr(orders.StatusProcessing),
		SupplierOrderID:   orders.Ptr(supplierOrderID),
		SupplierServiceID: orders.Ptr(serviceID),
		SupplierStatus:    orders.Ptr("Pending"),
		Claim:             orders.Ptr(""),
		ErrorMessage:      orders.Ptr(""),
	}

	backoff := e.recordBackoff
	for attempt := 1; ; attempt++ {
		updated, recorded, err := e.update(ctx, claimed, cond, patch)
		if err == nil || attempt == recordAttempts {
			return updated, recorded, err
		}
		e.logger.Warn("recording supplier order failed, retrying",
			"order_id", claimed.OrderID, "supplier_order_id", supplierOrderID, "attempt", attempt, "error", err)
		time.Sleep(backoff)
		backoff *= 2
	}
}

// failSubmission records a failed supplier call and releases the claim. A timed-out call is
// recorded as an unknown outcome.
func (e *Engine) failSubmission(ctx context.Context, o *orders.Order, token string, cause error) (*orders.Order, error) {
	msg := fmt.Sprintf("supplier submission failed: %v", cause)
	if timeout(cause) {
		msg = fmt.Sprintf("supplier submission outcome unknown: %v", cause)
	}
	e.logger.Warn("supplier submission failed", "order_id", o.OrderID, "attempt", o.SupplierAttempts, "error", cause)

	updated, _, err := e.update(ctx, o, orders.Condition{
		Statuses:           []orders.Status{o.Status},
		SupplierOrderUnset: true,
		ClaimIs:            token,
	}, orders.Patch{
		Status:       orders.Ptr(orders.StatusSupplierError),
		ErrorMessage: orders.Ptr(msg),
		Claim:        orders.Ptr(""),
	})
	return updated, err
}

// RetryAllowed reports whether a SUPPLIER_ERROR order may be resubmitted automatically.
func (e *Engine) RetryAllowed(o *orders.Order) bool {
	return o.Status == orders.StatusSupplierError &&
		o.SupplierOrderID == "" &&
		o.SubmissionClaim == "" &&
		o.SupplierAttempts <= e.cfg.MaxSupplierRetries
}

// RetrySupplierSubmission resubmits a SUPPLIER_ERROR order. Payment is not touched.
func (e *Engine) RetrySupplierSubmission(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	if !e.RetryAllowed(o) {
		return nil, ErrNotEligible
	}
	return e.submit(ctx, o, orders.StatusSupplierError)
}

// ClaimStale reports whether the order holds a submission claim older than the claim TTL.
func (e *Engine) ClaimStale(o *orders.Order) bool {
	if o.SubmissionClaim == "" {
		return false
	}
	if o.SubmissionClaimedAt == nil {
		return true
	}
	return e.nowFunc().Sub(*o.SubmissionClaimedAt) >= e.cfg.ClaimTTL
}

// ReleaseStaleClaim clears an abandoned submission claim, moving the order to SUPPLIER_ERROR so
// the retry path can pick it up.
func (e *Engine) ReleaseStaleClaim(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	if !e.ClaimStale(o) {
		return nil, ErrNotEligible
	}
	e.logger.Warn("releasing stale submission claim", "order_id", o.OrderID, "claimed_at", o.SubmissionClaimedAt)
	updated, _, err := e.update(ctx, o, orders.Condition{
		Statuses:           []orders.Status{orders.StatusPendingPayment, orders.StatusSupplierError},
		SupplierOrderUnset: true,
		ClaimIs:            o.SubmissionClaim,
	}, orders.Patch{
		Status:       orders.Ptr(orders.StatusSupplierError),
		ErrorMessage: orders.Ptr("supplier submission outcome unknown: claim expired"),
		Claim:        orders.Ptr(""),
	})
	return updated, err
}
