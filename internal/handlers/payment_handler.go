// Package handlers implements the HTTP surface of the payment and
// subscription lifecycle engine: intent creation, inbound webhook
// ingestion per provider, and the admin actions.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/payment"
	"github.com/vpnpay/core/internal/repository"
	"github.com/vpnpay/core/pkg/logging"
)

// PaymentHandler exposes intent creation and status polling. It reads
// payment status directly off PaymentRepo for a fast, non-blocking
// lookup; WaitForPayment is reserved for the bot-facing long poll.
type PaymentHandler struct {
	paymentSvc *payment.Service
	payments   repository.PaymentRepo
	logger     *logging.StructuredLogger
}

func NewPaymentHandler(paymentSvc *payment.Service, payments repository.PaymentRepo) *PaymentHandler {
	return &PaymentHandler{
		paymentSvc: paymentSvc,
		payments:   payments,
		logger:     logging.GetLogger(),
	}
}

type createIntentRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	TariffID int64  `json:"tariff_id" binding:"required"`
	Provider string `json:"provider" binding:"required"`
	Protocol string `json:"protocol" binding:"required"`
	KeyType  string `json:"key_type"`
	Email    string `json:"email"`
	Country  string `json:"country"`
}

// CreateIntent opens a provider-side payment and returns the pending
// row plus whatever confirmation URL the provider wants the user
// redirected to.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": "INVALID_REQUEST", "message": err.Error()}})
		return
	}

	p, confirmationURL, err := h.paymentSvc.CreateIntent(c.Request.Context(), payment.IntentRequest{
		UserID:   req.UserID,
		TariffID: req.TariffID,
		Provider: models.Provider(req.Provider),
		Protocol: models.Protocol(req.Protocol),
		KeyType:  req.KeyType,
		Email:    req.Email,
		Country:  req.Country,
	})
	if err != nil {
		h.logger.Warn("payment handler: create intent failed", map[string]interface{}{"user_id": req.UserID, "error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": "INTENT_FAILED", "message": err.Error()}})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"payment":          p,
		"confirmation_url": confirmationURL,
	})
}

// GetStatus returns the current state of a payment without touching
// the provider.
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	paymentID := c.Param("payment_id")
	p, err := h.payments.GetByPaymentID(c.Request.Context(), paymentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "NOT_FOUND", "message": "payment not found"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payment": p})
}

// Wait blocks (bounded by the service's configured timeout) until the
// payment settles or the timeout elapses, for callers that would
// otherwise have to poll GetStatus themselves.
func (h *PaymentHandler) Wait(c *gin.Context) {
	paymentID := c.Param("payment_id")
	paid, err := h.paymentSvc.WaitForPayment(c.Request.Context(), paymentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "WAIT_FAILED", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "paid": paid})
}
