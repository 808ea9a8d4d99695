package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
	"github.com/imrishuroy/go-engagement-orderflow/internal/supplier"
)

// AdminListOrders lists orders across users.
func (e *Engine) AdminListOrders(ctx context.Context, f orders.ListFilter) ([]orders.Order, error) {
	for _, s := range f.Statuses {
		if !s.Valid() {
			return nil, invalid("status", "unknown status %q", s)
		}
	}
	return e.orders.List(ctx, f)
}

// AdminForceStatus moves an order along one edge of the lifecycle on an operator's behalf.
// The edge must exist; note is stored as the order's diagnostic.
func (e *Engine) AdminForceStatus(ctx context.Context, orderID string, to orders.Status, note string) (*orders.Order, error) {
	if !to.Valid() {
		return nil, invalid("status", "unknown status %q", to)
	}
	o, err := e.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !orders.CanTransition(o.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, to)
	}
	if to == orders.StatusProcessing && o.SupplierOrderID == "" {
		return nil, invalid("status", "PROCESSING requires a supplier order")
	}
	if o.SubmissionClaim != "" {
		return nil, fmt.Errorf("%w: supplier submission in flight", ErrIllegalTransition)
	}

	p := orders.Patch{Status: orders.Ptr(to)}
	if note != "" {
		p.ErrorMessage = orders.Ptr(note)
	}
	updated, changed, err := e.update(ctx, o, orders.Condition{
		Statuses: []orders.Status{o.Status},
		NoClaim:  true,
	}, p)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("%w: order changed concurrently (now %s)", ErrIllegalTransition, updated.Status)
	}
	e.logger.Info("status forced by operator", "order_id", orderID, "from", o.Status, "to", to, "note", note)
	return updated, nil
}

// RequestRefill asks the supplier to refill a delivered order and returns the refill id.
func (e *Engine) RequestRefill(ctx context.Context, orderID string) (string, error) {
	o, err := e.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.SupplierOrderID == "" {
		return "", ErrNoSupplierOrder
	}
	refillID, err := e.supplier.Refill(ctx, o.SupplierOrderID)
	if err != nil {
		return "", fmt.Errorf("refill %s: %w", orderID, err)
	}
	e.logger.Info("refill requested", "order_id", orderID, "supplier_order_id", o.SupplierOrderID, "refill_id", refillID)
	return refillID, nil
}

// CancelResult is the outcome of a cancellation request for one order.
type CancelResult struct {
	OrderID         string `json:"order_id"`
	SupplierOrderID string `json:"supplier_order_id,omitempty"`
	Error           string `json:"error,omitempty"`
}

// RequestCancel asks the supplier to cancel the given orders. Results are per order; the local
// status follows once the supplier reports the cancellation during reconciliation.
func (e *Engine) RequestCancel(ctx context.Context, orderIDs []string) ([]CancelResult, error) {
	if len(orderIDs) == 0 {
		return nil, invalid("order_ids", "required")
	}
	if len(orderIDs) > supplier.MaxBatch {
		return nil, invalid("order_ids", "at most %d per request", supplier.MaxBatch)
	}

	results := make([]CancelResult, len(orderIDs))
	index := make(map[string]int, len(orderIDs))
	supplierIDs := make([]string, 0, len(orderIDs))
	for i, id := range orderIDs {
		results[i].OrderID = id
		o, err := e.GetOrder(ctx, id)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			results[i].Error = err.Error()
			continue
		case err != nil:
			return nil, err
		case o.SupplierOrderID == "":
			results[i].Error = ErrNoSupplierOrder.Error()
			continue
		}
		results[i].SupplierOrderID = o.SupplierOrderID
		index[o.SupplierOrderID] = i
		supplierIDs = append(supplierIDs, o.SupplierOrderID)
	}
	if len(supplierIDs) == 0 {
		return results, nil
	}

	outcomes, err := e.supplier.Cancel(ctx, supplierIDs)
	if err != nil {
		return nil, fmt.Errorf("supplier cancel: %w", err)
	}
	for _, oc := range outcomes {
		i, ok := index[oc.OrderID]
		if !ok || oc.Err == nil {
			continue
		}
		results[i].Error = oc.Err.Error()
	}
	return results, nil
}

// SupplierBalance returns the account balance at the supplier.
func (e *Engine) SupplierBalance(ctx context.Context) (supplier.Balance, error) {
	return e.supplier.Balance(ctx)
}
