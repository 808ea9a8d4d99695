package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
	"github.com/imrishuroy/go-engagement-orderflow/internal/supplier"
)

// supplierOutcome maps supplier status vocabulary to a local status. ok is false for
// in-progress statuses; known is false for vocabulary we do not recognise.
func supplierOutcome(status string) (to orders.Status, ok, known bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case strings.ToLower(supplier.StatusCompleted):
		return orders.StatusCompleted, true, true
	case strings.ToLower(supplier.StatusPartial), strings.ToLower(supplier.StatusCanceled):
		return orders.StatusPartiallyCompleted, true, true
	case strings.ToLower(supplier.StatusPending), strings.ToLower(supplier.StatusInProgress),
		strings.ToLower(supplier.StatusProcessing):
		return "", false, true
	}
	return "", false, false
}

// RefreshDue reports whether a PROCESSING order should be re-checked with the supplier.
func (e *Engine) RefreshDue(o *orders.Order) bool {
	if o.Status != orders.StatusProcessing || o.SupplierOrderID == "" {
		return false
	}
	return o.LastReconciledAt == nil || e.nowFunc().Sub(*o.LastReconciledAt) >= e.cfg.RefreshInterval
}

// ReconcileSupplierStatus refreshes a PROCESSING order from the supplier.
func (e *Engine) ReconcileSupplierStatus(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	if o.Status != orders.StatusProcessing || o.SupplierOrderID == "" {
		return nil, ErrNotEligible
	}
	st, err := e.supplier.Status(ctx, o.SupplierOrderID)
	if err != nil {
		e.recordError(ctx, o, fmt.Sprintf("supplier status check failed: %v", err))
		return nil, fmt.Errorf("supplier status for %s: %w", o.OrderID, err)
	}
	return e.applySupplierStatus(ctx, o, st)
}

func (e *Engine) applySupplierStatus(ctx context.Context, o *orders.Order, st supplier.OrderStatus) (*orders.Order, error) {
	now := e.nowFunc()
	p := orders.Patch{
		SupplierStatus:     orders.Ptr(st.Status),
		SupplierRemains:    orders.Ptr(st.Remains),
		SupplierStartCount: orders.Ptr(st.StartCount),
		LastReconciledAt:   &now,
	}
	if !st.Charge.IsZero() {
		p.SupplierCharge = orders.Ptr(st.Charge.String())
	}

	to, transition, known := supplierOutcome(st.Status)
	switch {
	case !known:
		e.logger.Warn("unrecognised supplier status", "order_id", o.OrderID,
			"supplier_order_id", o.SupplierOrderID, "supplier_status", st.Status)
	case transition:
		p.Status = orders.Ptr(to)
		p.ErrorMessage = orders.Ptr("")
	}

	updated, _, err := e.update(ctx, o, orders.Condition{
		Statuses: []orders.Status{orders.StatusProcessing},
	}, p)
	return updated, err
}

func (e *Engine) recordError(ctx context.Context, o *orders.Order, msg string) {
	if _, _, err := e.update(ctx, o, orders.Condition{Statuses: []orders.Status{o.Status}},
		orders.Patch{ErrorMessage: orders.Ptr(msg)}); err != nil {
		e.logger.Warn("recording diagnostic failed", "order_id", o.OrderID, "error", err)
	}
}

// BatchResult is the outcome for one order of ReconcileSupplierBatch.
type BatchResult struct {
	OrderID string
	Order   *orders.Order
	Err     error
}

// ReconcileSupplierBatch refreshes PROCESSING orders through the supplier's batch status call,
// in chunks of supplier.MaxBatch. A failure for one id, or one chunk, leaves the others intact.
func (e *Engine) ReconcileSupplierBatch(ctx context.Context, list []orders.Order) []BatchResult {
	results := make([]BatchResult, 0, len(list))
	byID := make(map[string]*orders.Order, len(list))
	ids := make([]string, 0, len(list))
	for i := range list {
		o := &list[i]
		if o.Status != orders.StatusProcessing || o.SupplierOrderID == "" {
			results = append(results, BatchResult{OrderID: o.OrderID, Err: ErrNotEligible})
			continue
		}
		if _, dup := byID[o.SupplierOrderID]; dup {
			continue
		}
		byID[o.SupplierOrderID] = o
		ids = append(ids, o.SupplierOrderID)
	}

	for start := 0; start < len(ids); start += supplier.MaxBatch {
		end := start + supplier.MaxBatch
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		statuses, err := e.supplier.BatchStatus(ctx, chunk)
		if err != nil {
			e.logger.Warn("supplier batch status failed", "ids", len(chunk), "error", err)
			for _, id := range chunk {
				results = append(results, BatchResult{OrderID: byID[id].OrderID, Err: fmt.Errorf("supplier batch status: %w", err)})
			}
			continue
		}

		seen := make(map[string]bool, len(chunk))
		for _, sr := range statuses {
			o, ok := byID[sr.OrderID]
			if !ok || seen[sr.OrderID] {
				continue
			}
			seen[sr.OrderID] = true
			if sr.Err != nil {
				e.recordError(ctx, o, fmt.Sprintf("supplier status check failed: %v", sr.Err))
				results = append(results, BatchResult{OrderID: o.OrderID, Err: fmt.Errorf("supplier order %s: %w", sr.OrderID, sr.Err)})
				continue
			}
			updated, err := e.applySupplierStatus(ctx, o, sr.Status)
			results = append(results, BatchResult{OrderID: o.OrderID, Order: updated, Err: err})
		}
		for _, id := range chunk {
			if !seen[id] {
				results = append(results, BatchResult{OrderID: byID[id].OrderID, Err: fmt.Errorf("supplier order %s missing from batch status", id)})
			}
		}
	}
	return results
}
