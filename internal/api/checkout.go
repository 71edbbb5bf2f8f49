package api

import (
	"errors"
	"io"
	"net/http"

	"checkout-service/internal/apperr"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// startCheckout handles cart submission
func (h *Handler) startCheckout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.checkout.StartCheckout(c.Request.Context(), &req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// paymentWebhook hands the exact raw body to the listener; the signature
// covers those bytes.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxWebhookBodyBytes)
	payload, err := io.ReadAll(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable request body"})
		return
	}

	err = h.webhooks.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		status := http.StatusInternalServerError
		switch apperr.KindOf(err) {
		case apperr.KindValidation, apperr.KindAuthenticity:
			status = http.StatusBadRequest
		}
		if status == http.StatusInternalServerError {
			h.logger.Error("Webhook processing failed, asking for redelivery", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": publicMessage(err, status)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// writeError maps a classified error onto a response
func (h *Handler) writeError(c *gin.Context, err error) {
	var status int
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindAuthenticity:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		c.JSON(http.StatusConflict, gin.H{
			"error":    publicMessage(err, http.StatusConflict),
			"problems": apperr.ProblemsOf(err),
		})
		return
	case apperr.KindNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": publicMessage(err, status)})
}

// publicMessage hides dependency details behind a generic message
func publicMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return "Internal error, please retry"
	}
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
