package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
	"github.com/imrishuroy/go-engagement-orderflow/internal/validation"
)

func (s *server) registerAdmin(g *gin.RouterGroup) {
	g.GET("/orders", s.adminListOrders)
	g.POST("/orders/:id/status", s.adminForceStatus)
	g.POST("/orders/:id/refill", s.adminRefill)
	g.POST("/orders/cancel", s.adminCancel)
	g.POST("/sweep", s.adminSweep)
	g.GET("/supplier/balance", s.adminBalance)
	g.GET("/catalog", s.adminCatalog)
	g.POST("/catalog/refresh", s.adminCatalogRefresh)
}

func (s *server) adminListOrders(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	f := orders.ListFilter{UserRef: c.Query("user_ref"), Limit: limit}
	if raw := c.Query("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, orders.Status(strings.ToUpper(strings.TrimSpace(st))))
		}
	}

	list, err := s.Orders.AdminListOrders(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (s *server) adminForceStatus(c *gin.Context) {
	var req validation.ForceStatusRequest
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		return
	}
	to := orders.Status(strings.ToUpper(req.Status))
	o, err := s.Orders.AdminForceStatus(c.Request.Context(), c.Param("id"), to, req.Note)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *server) adminRefill(c *gin.Context) {
	refillID, err := s.Orders.RequestRefill(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": c.Param("id"), "refill_id": refillID})
}

func (s *server) adminCancel(c *gin.Context) {
	var req validation.CancelRequest
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		return
	}
	results, err := s.Orders.RequestCancel(c.Request.Context(), req.OrderIDs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"results": results})
}

func (s *server) adminSweep(c *gin.Context) {
	report, err := s.Sweeper.RunSweep(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *server) adminBalance(c *gin.Context) {
	bal, err := s.Orders.SupplierBalance(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal.Amount.StringFixed(2), "currency": bal.Currency})
}

func (s *server) adminCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"loaded_at": s.Catalog.LoadedAt(), "services": s.Catalog.Services()})
}

func (s *server) adminCatalogRefresh(c *gin.Context) {
	if err := s.Catalog.Refresh(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded_at": s.Catalog.LoadedAt(), "services": len(s.Catalog.Services())})
}
