package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"rentbridge.com/app/internal/modules/payments"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Logger     *slog.Logger
	Provider   payments.Provider
	WebhookSvc *payments.WebhookService
}

func NewWebhookHandler(logger *slog.Logger, p payments.Provider, svc *payments.WebhookService) *WebhookHandler {
	return &WebhookHandler{Logger: logger, Provider: p, WebhookSvc: svc}
}

// POST /webhooks/payment-provider
// The signature covers the exact bytes received, so the body is read raw here
// and never passed through JSON binding first.
func (h *WebhookHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"received": false, "error": "invalid body"})
		return
	}

	ev, err := h.Provider.VerifyAndParseWebhook(c.Request.Header, body)
	switch {
	case errors.Is(err, payments.ErrWebhookSecretUnset):
		h.Logger.ErrorContext(ctx, "webhook rejected, signing secret not configured", "provider", h.Provider.Name())
		c.JSON(http.StatusInternalServerError, gin.H{"received": false, "error": "webhook not configured"})
		return
	case err != nil:
		h.Logger.WarnContext(ctx, "webhook rejected", "provider", h.Provider.Name(), "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"received": false, "error": "invalid signature or payload"})
		return
	}

	// Non-2xx makes the processor redeliver.
	if err := h.WebhookSvc.Handle(ctx, h.Provider.Name(), ev, body); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"received": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
