package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-engagement-orderflow/internal/reconcile"
	"github.com/imrishuroy/go-engagement-orderflow/internal/validation"
)

// notificationAck is the acknowledgement body the gateway expects; Status 200 stops redelivery.
type notificationAck struct {
	OrderNotificationType  string `json:"orderNotificationType"`
	OrderTrackingID        string `json:"orderTrackingId"`
	OrderMerchantReference string `json:"orderMerchantReference"`
	Status                 int    `json:"status"`
}

func (s *server) registerPayment(r *gin.Engine) {
	r.POST("/payment/ipn", s.paymentNotification)
	r.GET("/payment/ipn", s.paymentNotification)
}

// paymentNotification never trusts the notification's content: it checks the tracking id against
// the stored order and re-fetches the payment status from the gateway.
func (s *server) paymentNotification(c *gin.Context) {
	n, err := validation.BindNotification(c, s.validate)
	if err != nil {
		return
	}
	ctx := c.Request.Context()
	ack := notificationAck{
		OrderNotificationType:  n.OrderNotificationType,
		OrderTrackingID:        n.OrderTrackingID,
		OrderMerchantReference: n.OrderMerchantReference,
		Status:                 http.StatusInternalServerError,
	}

	o, err := s.Orders.GetOrderByReference(ctx, n.OrderMerchantReference)
	if errors.Is(err, reconcile.ErrOrderNotFound) {
		s.Logger.Warn("notification for unknown order", "merchant_reference", n.OrderMerchantReference)
		c.JSON(http.StatusNotFound, ack)
		return
	}
	if err != nil {
		s.Logger.Error("notification lookup failed", "merchant_reference", n.OrderMerchantReference, "error", err)
		c.JSON(http.StatusInternalServerError, ack)
		return
	}
	if o.GatewayTrackingID == "" || o.GatewayTrackingID != n.OrderTrackingID {
		s.Logger.Warn("notification tracking id mismatch",
			"order_id", o.OrderID, "stored", o.GatewayTrackingID, "received", n.OrderTrackingID)
		c.JSON(http.StatusBadRequest, ack)
		return
	}

	st, err := s.Payment.GetStatus(ctx, o.GatewayTrackingID)
	if err != nil {
		s.Logger.Warn("payment status fetch failed", "order_id", o.OrderID, "error", err)
		c.JSON(http.StatusBadGateway, ack)
		return
	}

	if _, err := s.Orders.OnPaymentEvent(ctx, o.MerchantReference, st.Description); err != nil {
		s.Logger.Error("payment event failed", "order_id", o.OrderID, "error", err)
		c.JSON(http.StatusInternalServerError, ack)
		return
	}

	ack.Status = http.StatusOK
	c.JSON(http.StatusOK, ack)
}
