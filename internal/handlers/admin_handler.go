package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vpnpay/core/internal/adminauth"
	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/payment"
	"github.com/vpnpay/core/internal/reconcile"
	"github.com/vpnpay/core/internal/repository"
	"github.com/vpnpay/core/internal/webhook"
	"github.com/vpnpay/core/pkg/logging"
)

// AdminHandler serves the operator surface: manual reconcile triggers,
// single-payment recheck/reissue, MFA-gated refunds, and the
// filter/statistics views over the payment store. Every route is
// expected to sit behind AdminAuthMiddleware.
type AdminHandler struct {
	paymentSvc *payment.Service
	webhookSvc *webhook.Service
	reconciler *reconcile.Reconciler
	payments   repository.PaymentRepo
	mfa        *adminauth.MFA
	logger     *logging.StructuredLogger
}

func NewAdminHandler(
	paymentSvc *payment.Service,
	webhookSvc *webhook.Service,
	reconciler *reconcile.Reconciler,
	payments repository.PaymentRepo,
	mfa *adminauth.MFA,
) *AdminHandler {
	return &AdminHandler{
		paymentSvc: paymentSvc,
		webhookSvc: webhookSvc,
		reconciler: reconciler,
		payments:   payments,
		mfa:        mfa,
		logger:     logging.GetLogger(),
	}
}

func adminUserID(c *gin.Context) int64 {
	v, _ := c.Get("admin_user_id")
	id, _ := v.(int64)
	return id
}

// Recheck forces a single pending payment to be re-polled against its
// provider, bypassing the reconciler's own schedule.
func (h *AdminHandler) Recheck(c *gin.Context) {
	paymentID := c.Param("payment_id")
	paid, err := h.paymentSvc.Recheck(c.Request.Context(), paymentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "RECHECK_FAILED", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "paid": paid})
}

// Issue re-drives the paid pipeline for a payment already marked paid,
// for operators recovering from a provisioning failure without wanting
// a full CAS/provider recheck.
func (h *AdminHandler) Issue(c *gin.Context) {
	paymentID := c.Param("payment_id")
	ok, err := h.paymentSvc.OnPaid(c.Request.Context(), paymentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "ISSUE_FAILED", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "issued": ok})
}

type refundRequest struct {
	Amount  int64  `json:"amount" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
	MFACode string `json:"mfa_code" binding:"required"`
}

// Refund is gated by a TOTP code on top of the bearer token: refunds
// move real money, so a stolen admin token alone is not enough.
func (h *AdminHandler) Refund(c *gin.Context) {
	paymentID := c.Param("payment_id")
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": "INVALID_REQUEST", "message": err.Error()}})
		return
	}

	if h.mfa == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": gin.H{"code": "MFA_NOT_CONFIGURED", "message": "MFA_ENCRYPTION_KEY is not configured"}})
		return
	}
	if err := h.mfa.Verify(c.Request.Context(), adminUserID(c), req.MFACode); err != nil {
		h.logger.Warn("admin handler: refund MFA verification failed", map[string]interface{}{"payment_id": paymentID, "error": err.Error()})
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": gin.H{"code": "MFA_FAILED", "message": "invalid or missing MFA code"}})
		return
	}

	if err := h.paymentSvc.Refund(c.Request.Context(), paymentID, req.Amount, req.Reason); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": "REFUND_FAILED", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RetryWebhooks replays the webhook retry queue out of band from the
// scheduler, for an operator who doesn't want to wait for the next tick.
func (h *AdminHandler) RetryWebhooks(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if err := h.webhookSvc.ProcessRetryQueue(c.Request.Context(), limit); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "RETRY_FAILED", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Reconcile triggers all three periodic sweeps synchronously, outside
// of their normal schedule.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.reconciler.SweepPending(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "SWEEP_PENDING_FAILED", "message": err.Error()}})
		return
	}
	if err := h.reconciler.SweepPaidWithoutKeys(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "SWEEP_KEYS_FAILED", "message": err.Error()}})
		return
	}
	expired, err := h.reconciler.SweepExpiration(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "SWEEP_EXPIRY_FAILED", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "expired": expired})
}

// ListPayments filters the payment store for the admin dashboard.
func (h *AdminHandler) ListPayments(c *gin.Context) {
	var f models.PaymentFilter
	if status := c.Query("status"); status != "" {
		s := models.PaymentStatus(status)
		f.Status = &s
	}
	if provider := c.Query("provider"); provider != "" {
		p := models.Provider(provider)
		f.Provider = &p
	}
	if protocol := c.Query("protocol"); protocol != "" {
		p := models.Protocol(protocol)
		f.Protocol = &p
	}
	if userIDParam := c.Query("user_id"); userIDParam != "" {
		if id, err := strconv.ParseInt(userIDParam, 10, 64); err == nil {
			f.UserID = &id
		}
	}
	f.Query = c.Query("q")

	sortBy := models.AllowedSortColumn(c.Query("sort_by"))
	order := models.SortDesc
	if c.Query("order") == "asc" {
		order = models.SortAsc
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	ctx := c.Request.Context()
	items, err := h.payments.Filter(ctx, f, sortBy, order, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "FILTER_FAILED", "message": err.Error()}})
		return
	}
	total, err := h.payments.CountFiltered(ctx, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "COUNT_FAILED", "message": err.Error()}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "payments": items, "total": total, "limit": limit, "offset": offset})
}

// Statistics returns the aggregate counters for the admin dashboard.
func (h *AdminHandler) Statistics(c *gin.Context) {
	stats, err := h.payments.GetStatistics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "STATISTICS_FAILED", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "statistics": stats})
}
