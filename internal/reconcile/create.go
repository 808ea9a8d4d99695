package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-engagement-orderflow/internal/catalog"
	"github.com/imrishuroy/go-engagement-orderflow/internal/gateway"
	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
)

// CreateOrderRequest is an order as submitted by the request layer. Amount is pre-computed.
type CreateOrderRequest struct {
	MerchantReference string
	UserRef           string
	Platform          string
	ServiceName       string
	Quality           string
	TargetLink        string
	Quantity          int
	Amount            float64
	Currency          string
	BuyerEmail        string
	BuyerPhone        string
}

func (r *CreateOrderRequest) normalize() {
	r.MerchantReference = strings.TrimSpace(r.MerchantReference)
	r.Platform = strings.ToLower(strings.TrimSpace(r.Platform))
	r.ServiceName = strings.ToLower(strings.TrimSpace(r.ServiceName))
	r.Quality = strings.ToLower(strings.TrimSpace(r.Quality))
	if r.Quality == "" {
		r.Quality = catalog.QualityStandard
	}
	r.TargetLink = strings.TrimSpace(r.TargetLink)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

func (r *CreateOrderRequest) validate() error {
	switch {
	case r.MerchantReference == "":
		return invalid("merchant_reference", "required")
	case r.UserRef == "":
		return invalid("user_ref", "required")
	case r.Platform == "" || r.ServiceName == "":
		return invalid("service", "platform and service name are required")
	case r.TargetLink == "":
		return invalid("target_link", "required")
	case r.Quantity <= 0:
		return invalid("quantity", "must be positive")
	case r.Amount <= 0 || math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0):
		return invalid("amount", "must be positive")
	case r.Currency == "":
		return invalid("currency", "required")
	}
	return nil
}

// samePayload reports whether an existing order was created from an identical request.
func (r *CreateOrderRequest) samePayload(o *orders.Order) bool {
	return o.UserRef == r.UserRef &&
		o.Platform == r.Platform &&
		o.ServiceName == r.ServiceName &&
		o.Quality == r.Quality &&
		o.TargetLink == r.TargetLink &&
		o.Quantity == r.Quantity &&
		math.Abs(o.Amount-r.Amount) < 0.005 &&
		o.Currency == r.Currency
}

// CreateOrder persists a new order in PENDING_PAYMENT and registers it with the payment gateway.
//
// A repeated merchant reference with an identical payload returns the stored order unchanged;
// with a different payload it is a ValidationError. A gateway failure does not fail the call:
// the order keeps PENDING_PAYMENT with ErrorMessage set and registration is retried by the sweep.
func (e *Engine) CreateOrder(ctx context.Context, req CreateOrderRequest) (*orders.Order, error) {
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}

	existing, err := e.getByReference(ctx, req.MerchantReference)
	switch {
	case err == nil:
		return e.replay(&req, existing)
	case !errors.Is(err, ErrOrderNotFound):
		return nil, fmt.Errorf("lookup reference %s: %w", req.MerchantReference, err)
	}

	svc, ok := e.catalog.Lookup(req.Platform, req.ServiceName, req.Quality)
	if !ok {
		return nil, invalid("service", "no supplier service for %s/%s/%s", req.Platform, req.ServiceName, req.Quality)
	}
	if req.Quantity < svc.Min || (svc.Max > 0 && req.Quantity > svc.Max) {
		return nil, invalid("quantity", "%d outside [%d, %d]", req.Quantity, svc.Min, svc.Max)
	}

	now := e.nowFunc()
	o := orders.Order{
		OrderID:           uuid.NewString(),
		MerchantReference: req.MerchantReference,
		UserRef:           req.UserRef,
		Platform:          req.Platform,
		ServiceName:       req.ServiceName,
		Quality:           req.Quality,
		TargetLink:        req.TargetLink,
		Quantity:          req.Quantity,
		Amount:            req.Amount,
		Currency:          req.Currency,
		BuyerEmail:        req.BuyerEmail,
		BuyerPhone:        req.BuyerPhone,
		Status:            orders.StatusPendingPayment,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	stored, created, err := e.orders.Create(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if !created {
		// lost a concurrent create for the same reference
		return e.replay(&req, &stored)
	}
	e.logger.Info("order created", "order_id", stored.OrderID, "merchant_reference", stored.MerchantReference,
		"service_id", svc.ID, "quantity", stored.Quantity)

	return e.register(ctx, &stored)
}

func (e *Engine) replay(req *CreateOrderRequest, existing *orders.Order) (*orders.Order, error) {
	if !req.samePayload(existing) {
		return nil, invalid("merchant_reference", "%s already used with a different payload", req.MerchantReference)
	}
	return existing, nil
}

// register opens the payment with the gateway and records the tracking id. Every attempt counts
// towards the registration retry cap.
func (e *Engine) register(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	res, err := e.gateway.RegisterOrder(ctx, gateway.Registration{
		MerchantReference: o.MerchantReference,
		Amount:            o.Amount,
		Currency:          o.Currency,
		Description:       fmt.Sprintf("%d %s %s", o.Quantity, o.Platform, o.ServiceName),
		CallbackURL:       e.cfg.CallbackURL,
		NotificationID:    e.cfg.NotificationID,
		Email:             o.BuyerEmail,
		Phone:             o.BuyerPhone,
	})

	cond := orders.Condition{Statuses: []orders.Status{orders.StatusPendingPayment}, TrackingUnset: true}
	if err != nil {
		e.logger.Warn("gateway registration failed", "order_id", o.OrderID, "attempt", o.RegistrationAttempts+1, "error", err)
		updated, _, uerr := e.update(ctx, o, cond, orders.Patch{
			ErrorMessage:            orders.Ptr(fmt.Sprintf("payment registration failed: %v", err)),
			IncRegistrationAttempts: true,
		})
		if uerr != nil {
			return nil, uerr
		}
		return updated, nil
	}

	updated, _, err := e.update(ctx, o, cond, orders.Patch{
		GatewayTrackingID:       orders.Ptr(res.TrackingID),
		RedirectURL:             orders.Ptr(res.RedirectURL),
		ErrorMessage:            orders.Ptr(""),
		IncRegistrationAttempts: true,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("payment registered", "order_id", o.OrderID, "tracking_id", res.TrackingID)
	return updated, nil
}

// RetryRegistration re-attempts gateway registration for a pending order without a tracking id.
func (e *Engine) RetryRegistration(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	if o.Status != orders.StatusPendingPayment || o.GatewayTrackingID != "" {
		return nil, ErrNotEligible
	}
	if o.RegistrationAttempts > e.cfg.MaxRegistrationRetries {
		return nil, fmt.Errorf("%w: registration retries exhausted", ErrNotEligible)
	}
	return e.register(ctx, o)
}
