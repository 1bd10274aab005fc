package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vpnpay/core/internal/providers"
	"github.com/vpnpay/core/internal/webhook"
	"github.com/vpnpay/core/pkg/logging"
)

// WebhookHandler fronts the per-provider inbound webhook endpoints. A
// single route handles all three providers (:provider in the path)
// since the contract is identical: headers, raw body, source IP.
type WebhookHandler struct {
	webhookSvc *webhook.Service
	logger     *logging.StructuredLogger
}

func NewWebhookHandler(webhookSvc *webhook.Service) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
		logger:     logging.GetLogger(),
	}
}

// Handle reads the raw body once (adapters need it both for signature
// verification and parsing) and hands it to WebhookService.
func (h *WebhookHandler) Handle(c *gin.Context) {
	providerName := c.Param("provider")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "failed to read request body"})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}

	err = h.webhookSvc.HandleInbound(c.Request.Context(), providerName, headers, body, c.ClientIP())
	if err != nil {
		if err == providers.ErrWebhookAuth {
			h.logger.Warn("webhook handler: authentication failed", map[string]interface{}{"provider": providerName})
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "invalid webhook signature"})
			return
		}
		h.logger.Warn("webhook handler: inbound rejected", map[string]interface{}{"provider": providerName, "error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	// Per §4.4, dispatch failures are queued for retry and still
	// acknowledged here so the provider does not redeliver.
	c.JSON(http.StatusOK, gin.H{"success": true})
}
