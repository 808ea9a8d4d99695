package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imrishuroy/go-engagement-orderflow/internal/events"
	"github.com/imrishuroy/go-engagement-orderflow/internal/gateway"
	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
	"github.com/imrishuroy/go-engagement-orderflow/internal/supplier"
)

// Gateway is the payment gateway surface the engine drives.
type Gateway interface {
	RegisterOrder(ctx context.Context, r gateway.Registration) (gateway.RegisterResult, error)
	GetStatus(ctx context.Context, trackingID string) (gateway.TransactionStatus, error)
}

// Supplier is the delivery supplier surface the engine drives.
type Supplier interface {
	PlaceOrder(ctx context.Context, serviceID int64, link string, quantity int) (string, error)
	Status(ctx context.Context, orderID string) (supplier.OrderStatus, error)
	BatchStatus(ctx context.Context, orderIDs []string) ([]supplier.StatusResult, error)
	Balance(ctx context.Context) (supplier.Balance, error)
	Refill(ctx context.Context, orderID string) (string, error)
	Cancel(ctx context.Context, orderIDs []string) ([]supplier.CancelResult, error)
}

// Catalog resolves order selectors to supplier services.
type Catalog interface {
	Lookup(platform, service, quality string) (supplier.Service, bool)
}

// Config holds the engine's timing and retry policy.
type Config struct {
	// PaymentTimeout: unpaid orders expire this long after creation.
	PaymentTimeout time.Duration
	// PaymentGrace: pending orders older than this get their payment status polled.
	PaymentGrace time.Duration
	// RefreshInterval: processing orders are re-checked with the supplier at most this often.
	RefreshInterval time.Duration
	// ClaimTTL: a submission claim older than this is considered abandoned.
	ClaimTTL               time.Duration
	MaxRegistrationRetries int
	MaxSupplierRetries     int

	CallbackURL    string
	NotificationID string
}

func (c *Config) setDefaults() {
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 30 * time.Minute
	}
	if c.PaymentGrace <= 0 {
		c.PaymentGrace = 2 * time.Minute
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 10 * time.Minute
	}
	if c.MaxRegistrationRetries <= 0 {
		c.MaxRegistrationRetries = 3
	}
	if c.MaxSupplierRetries <= 0 {
		c.MaxSupplierRetries = 3
	}
}

// Deps are the engine's collaborators. Notifier, Logger and Clock are optional.
type Deps struct {
	Orders   orders.Repository
	Gateway  Gateway
	Supplier Supplier
	Catalog  Catalog
	Notifier events.Notifier
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Engine owns the order state machine. It is the only writer of status, payment status and
// supplier order id; every write is a conditional update, so concurrent webhook and sweep
// calls for one order resolve to a single winner.
type Engine struct {
	orders   orders.Repository
	gateway  Gateway
	supplier Supplier
	catalog  Catalog
	notifier events.Notifier
	logger   *slog.Logger
	cfg      Config
	nowFunc  func() time.Time

	// first pause between attempts to record a placed supplier order; doubles per attempt
	recordBackoff time.Duration
}

// New returns an Engine.
func New(deps Deps, cfg Config) *Engine {
	cfg.setDefaults()
	e := &Engine{
		orders:   deps.Orders,
		gateway:  deps.Gateway,
		supplier: deps.Supplier,
		catalog:  deps.Catalog,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		cfg:      cfg,
		nowFunc:  func() time.Time { return time.Now().UTC() },

		recordBackoff: 100 * time.Millisecond,
	}
	if e.notifier == nil {
		e.notifier = events.Nop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if deps.Clock != nil {
		e.nowFunc = deps.Clock
	}
	return e
}

// Config returns the effective configuration, defaults applied.
func (e *Engine) Config() Config { return e.cfg }

// update applies p under cond. A lost check-and-set is not an error: the current stored order
// is returned with changed=false.
func (e *Engine) update(ctx context.Context, o *orders.Order, cond orders.Condition, p orders.Patch) (*orders.Order, bool, error) {
	if p.Status != nil {
		for _, from := range cond.Statuses {
			if from != *p.Status && !orders.CanTransition(from, *p.Status) {
				return nil, false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, *p.Status)
			}
		}
	}

	updated, err := e.orders.Update(ctx, o.OrderID, cond, p)
	if errors.Is(err, orders.ErrStatusMismatch) {
		e.logger.Debug("conditional update lost", "order_id", o.OrderID, "status", o.Status)
		current, gerr := e.orders.Get(ctx, o.OrderID)
		if gerr != nil {
			return nil, false, fmt.Errorf("reload order %s: %w", o.OrderID, gerr)
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("update order %s: %w", o.OrderID, err)
	}

	if updated.Status != o.Status {
		e.logger.Info("order transitioned",
			"order_id", updated.OrderID, "from", o.Status, "to", updated.Status)
		if nerr := e.notifier.Notify(ctx, events.NewStatusChanged(updated, o.Status)); nerr != nil {
			e.logger.Warn("status notification failed", "order_id", updated.OrderID, "error", nerr)
		}
	}
	return updated, true, nil
}

// GetOrder returns one order by id.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := e.orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// ListOrdersForUser returns a user's orders, oldest first.
func (e *Engine) ListOrdersForUser(ctx context.Context, userRef string, limit int) ([]orders.Order, error) {
	if userRef == "" {
		return nil, invalid("user_ref", "required")
	}
	return e.orders.List(ctx, orders.ListFilter{UserRef: userRef, Limit: limit})
}

// GetOrderByReference returns the order created under a merchant reference.
func (e *Engine) GetOrderByReference(ctx context.Context, merchantReference string) (*orders.Order, error) {
	return e.getByReference(ctx, merchantReference)
}

func (e *Engine) getByReference(ctx context.Context, ref string) (*orders.Order, error) {
	o, err := e.orders.GetByReference(ctx, ref)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}
