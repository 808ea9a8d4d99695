package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-engagement-orderflow/internal/gateway"
	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
	"github.com/imrishuroy/go-engagement-orderflow/internal/reconcile"
	"github.com/imrishuroy/go-engagement-orderflow/internal/scheduler"
	"github.com/imrishuroy/go-engagement-orderflow/internal/supplier"
	"github.com/imrishuroy/go-engagement-orderflow/internal/validation"
)

// OrderService is the reconciliation engine surface exposed over HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, req reconcile.CreateOrderRequest) (*orders.Order, error)
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	GetOrderByReference(ctx context.Context, merchantReference string) (*orders.Order, error)
	ListOrdersForUser(ctx context.Context, userRef string, limit int) ([]orders.Order, error)
	OnPaymentEvent(ctx context.Context, merchantReference, rawStatus string) (*orders.Order, error)
	AdminListOrders(ctx context.Context, f orders.ListFilter) ([]orders.Order, error)
	AdminForceStatus(ctx context.Context, orderID string, to orders.Status, note string) (*orders.Order, error)
	RequestRefill(ctx context.Context, orderID string) (string, error)
	RequestCancel(ctx context.Context, orderIDs []string) ([]reconcile.CancelResult, error)
	SupplierBalance(ctx context.Context) (supplier.Balance, error)
}

// PaymentStatusSource fetches authoritative payment status from the gateway.
type PaymentStatusSource interface {
	GetStatus(ctx context.Context, trackingID string) (gateway.TransactionStatus, error)
}

// Sweeper runs an on-demand reconciliation sweep.
type Sweeper interface {
	RunSweep(ctx context.Context) (scheduler.SweepReport, error)
}

// CatalogView is the service catalog as seen by operators.
type CatalogView interface {
	Services() []supplier.Service
	LoadedAt() time.Time
	Refresh(ctx context.Context) error
}

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Orders  OrderService
	Payment PaymentStatusSource
	Sweeper Sweeper
	Catalog CatalogView
	Logger  *slog.Logger
}

type server struct {
	HandlerConfig
	validate *validatorv10.Validate
}

// Register mounts every route on r.
func Register(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &server{HandlerConfig: cfg, validate: validation.New()}

	r.GET("/health", s.health)
	s.registerOrders(r)
	s.registerPayment(r)
	s.registerAdmin(r.Group("/admin"))
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetHeader("X-Request-Id"))
	}
}

func (s *server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.Catalog != nil {
		loaded := s.Catalog.LoadedAt()
		body["catalog_loaded"] = !loaded.IsZero()
		if !loaded.IsZero() {
			body["catalog_loaded_at"] = loaded
		}
	}
	c.JSON(http.StatusOK, body)
}

// writeError maps engine and adapter errors onto HTTP responses.
func (s *server) writeError(c *gin.Context, err error) {
	var ve *reconcile.ValidationError
	var se *supplier.Error
	var ge *gateway.Error
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": gin.H{ve.Field: ve.Reason}})
	case errors.Is(err, reconcile.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, reconcile.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "illegal_transition", "detail": err.Error()})
	case errors.Is(err, reconcile.ErrNoSupplierOrder):
		c.JSON(http.StatusConflict, gin.H{"error": "no_supplier_order"})
	case errors.Is(err, scheduler.ErrSweepInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "sweep_in_progress"})
	case errors.As(err, &se), errors.As(err, &ge):
		c.JSON(http.StatusBadGateway, gin.H{"error": "vendor_error", "detail": err.Error()})
	default:
		s.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
