package reconcile

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
)

// Action is the sweep step an order currently needs.
type Action int

const (
	ActionNone Action = iota
	ActionExpire
	ActionRetryRegistration
	ActionPollPayment
	ActionReleaseClaim
	ActionRetrySupplier
	ActionRefreshSupplier
)

var actionNames = map[Action]string{
	ActionNone:              "none",
	ActionExpire:            "expire",
	ActionRetryRegistration: "retry_registration",
	ActionPollPayment:       "poll_payment",
	ActionReleaseClaim:      "release_claim",
	ActionRetrySupplier:     "retry_supplier",
	ActionRefreshSupplier:   "refresh_supplier",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// NextAction decides what the sweep should do with o now. Terminal orders always get ActionNone.
func (e *Engine) NextAction(o *orders.Order) Action {
	switch o.Status {
	case orders.StatusPendingPayment:
		switch {
		case e.ClaimStale(o):
			return ActionReleaseClaim
		case o.SubmissionClaim != "":
			return ActionNone
		case e.ExpiryDue(o):
			return ActionExpire
		case o.GatewayTrackingID == "":
			return ActionRetryRegistration
		case !e.nowFunc().Before(o.CreatedAt.Add(e.cfg.PaymentGrace)):
			return ActionPollPayment
		}
	case orders.StatusSupplierError:
		switch {
		case e.ClaimStale(o):
			return ActionReleaseClaim
		case e.RetryAllowed(o):
			return ActionRetrySupplier
		}
	case orders.StatusProcessing:
		if e.RefreshDue(o) {
			return ActionRefreshSupplier
		}
	}
	return ActionNone
}

// Apply runs a single-order sweep action.
func (e *Engine) Apply(ctx context.Context, o *orders.Order, a Action) (*orders.Order, error) {
	switch a {
	case ActionExpire:
		return e.ExpireOrder(ctx, o)
	case ActionRetryRegistration:
		return e.RetryRegistration(ctx, o)
	case ActionPollPayment:
		return e.PollPayment(ctx, o)
	case ActionReleaseClaim:
		return e.ReleaseStaleClaim(ctx, o)
	case ActionRetrySupplier:
		return e.RetrySupplierSubmission(ctx, o)
	case ActionRefreshSupplier:
		return e.ReconcileSupplierStatus(ctx, o)
	}
	return o, nil
}
