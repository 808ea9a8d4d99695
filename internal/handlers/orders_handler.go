package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-engagement-orderflow/internal/reconcile"
	"github.com/imrishuroy/go-engagement-orderflow/internal/validation"
)

func (s *server) registerOrders(r *gin.Engine) {
	r.POST("/orders", s.createOrder)
	r.GET("/orders/:id", s.getOrder)
	r.GET("/users/:userRef/orders", s.listUserOrders)
}

func (s *server) createOrder(c *gin.Context) {
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	ref := req.MerchantReference
	if ref == "" {
		ref = c.GetHeader("Idempotency-Key")
	}
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_merchant_reference"})
		return
	}

	o, err := s.Orders.CreateOrder(c.Request.Context(), reconcile.CreateOrderRequest{
		MerchantReference: ref,
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
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", o.OrderID))
	c.JSON(http.StatusCreated, o)
}

func (s *server) getOrder(c *gin.Context) {
	o, err := s.Orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *server) listUserOrders(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	list, err := s.Orders.ListOrdersForUser(c.Request.Context(), c.Param("userRef"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return 0, false
	}
	return n, true
}
