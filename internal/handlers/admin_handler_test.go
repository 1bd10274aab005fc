package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnpay/core/internal/handlers"
	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/notify"
	"github.com/vpnpay/core/internal/payment"
	"github.com/vpnpay/core/internal/paymentstore/fake"
	"github.com/vpnpay/core/internal/providers"
	"github.com/vpnpay/core/internal/purchase"
	"github.com/vpnpay/core/internal/reconcile"
	"github.com/vpnpay/core/internal/vpnadapter"
	"github.com/vpnpay/core/internal/webhook"
)

type adminRig struct {
	h        *handlers.AdminHandler
	payments *fake.PaymentStore
	provider *fake.ProviderAdapter
}

func newAdminHandler(t *testing.T) *adminRig {
	t.Helper()
	payments := fake.NewPaymentStore()
	catalog := fake.NewCatalogStore()
	subs := fake.NewSubscriptionStore()
	keys := fake.NewVpnKeyStore()
	events := fake.NewWebhookEventStore()
	provider := fake.NewProviderAdapter("yookassa")
	providerRegistry := providers.NewRegistry(provider)
	vpnRegistry := vpnadapter.NewRegistry(fake.NewVPNAdapter("outline"))
	notifier := notify.NewMulti()

	catalog.AddTariff(&models.Tariff{ID: 1, Name: "basic", DurationSec: 3600, Price: 500, TrafficLimitMB: 1000})
	catalog.AddServer(&models.Server{ID: 1, Protocol: models.ProtocolOutline, Active: true, IsPrimary: true, AccessLevel: models.AccessLevelAll})

	purchaseSvc := purchase.NewService(payments, subs, keys, catalog, vpnRegistry, notifier, purchase.Config{})
	paymentSvc := payment.NewService(payments, catalog, keys, providerRegistry, vpnRegistry, purchaseSvc, notifier, nil, payment.Config{DefaultCurrency: "RUB"})
	webhookSvc := webhook.NewService(providerRegistry, payments, events, paymentSvc, notifier, webhook.Config{})
	reconciler := reconcile.NewReconciler(payments, subs, paymentSvc, reconcile.Config{})

	h := handlers.NewAdminHandler(paymentSvc, webhookSvc, reconciler, payments, nil)
	return &adminRig{h: h, payments: payments, provider: provider}
}

func TestAdminRecheckHandlerSurfacesNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newAdminHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/payments/missing/recheck", nil)
	c.Params = gin.Params{{Key: "payment_id", Value: "missing"}}

	r.h.Recheck(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminRefundHandlerRequiresMFAConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newAdminHandler(t)

	body, _ := json.Marshal(map[string]interface{}{"amount": 500, "reason": "test", "mfa_code": "123456"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/payments/pay-1/refund", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "payment_id", Value: "pay-1"}}

	r.h.Refund(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminRefundHandlerInvalidJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newAdminHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/payments/pay-1/refund", bytes.NewReader([]byte("not json")))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "payment_id", Value: "pay-1"}}

	r.h.Refund(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminReconcileHandlerRunsAllSweeps(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newAdminHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)

	r.h.Reconcile(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
}

func TestAdminListPaymentsHandlerFiltersByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newAdminHandler(t)
	_, err := r.payments.Create(context.Background(), &models.Payment{
		PaymentID: "pay-2", UserID: 1, TariffID: 1, Amount: 500, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Status: models.PaymentStatusPending,
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/payments?status=pending", nil)
	c.Request.URL.RawQuery = "status=pending"

	r.h.ListPayments(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["total"])
}

func TestAdminStatisticsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newAdminHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/statistics", nil)

	r.h.Statistics(c)

	assert.Equal(t, http.StatusOK, w.Code)
}
