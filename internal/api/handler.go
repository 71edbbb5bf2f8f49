package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CheckoutStarter opens payment sessions for carts
type CheckoutStarter interface {
	StartCheckout(ctx context.Context, req *service.CheckoutRequest, idempotencyKey string) (*service.CheckoutResponse, error)
}

// WebhookProcessor applies payment processor webhooks
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// OrderQuerier reads confirmed orders
type OrderQuerier interface {
	GetOrder(ctx context.Context, orderID string) (*service.OrderDetails, error)
	GetTicketBySession(ctx context.Context, sessionID string) (*service.OrderDetails, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

type HandlerConfig struct {
	SiteURL             string
	MaxWebhookBodyBytes int64
	ReadinessChecks     map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	checkout CheckoutStarter
	webhooks WebhookProcessor
	orders   OrderQuerier
	cfg      HandlerConfig
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout CheckoutStarter, webhooks WebhookProcessor, orders OrderQuerier, cfg HandlerConfig) *Handler {
	if cfg.MaxWebhookBodyBytes <= 0 {
		cfg.MaxWebhookBodyBytes = 65536
	}
	return &Handler{
		checkout: checkout,
		webhooks: webhooks,
		orders:   orders,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		checkout := v1.Group("/checkout", corsMiddleware(h.cfg.SiteURL))
		checkout.POST("", h.startCheckout)
		checkout.OPTIONS("", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		v1.POST("/webhooks/payment", h.paymentWebhook)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/tickets", h.getTicket)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every backing service
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.cfg.ReadinessChecks))
	for name := range h.cfg.ReadinessChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := make(gin.H, len(names))
	for _, name := range names {
		if err := h.cfg.ReadinessChecks[name].Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	details, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// getTicket resolves the ticket of a payment session
func (h *Handler) getTicket(c *gin.Context) {
	details, err := h.orders.GetTicketBySession(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// corsMiddleware lets the storefront origin call the checkout endpoint
func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Idempotency-Key")
		c.Header("Vary", "Origin")
		c.Next()
	}
}
