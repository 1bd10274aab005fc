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
	"github.com/vpnpay/core/internal/payment"
	"github.com/vpnpay/core/internal/paymentstore/fake"
	"github.com/vpnpay/core/internal/providers"
	"github.com/vpnpay/core/internal/purchase"
	"github.com/vpnpay/core/internal/vpnadapter"
)

func newPaymentHandler(t *testing.T) (*handlers.PaymentHandler, *fake.PaymentStore) {
	t.Helper()
	payments := fake.NewPaymentStore()
	catalog := fake.NewCatalogStore()
	subs := fake.NewSubscriptionStore()
	keys := fake.NewVpnKeyStore()
	notifier := fake.NewNotifier()
	provider := fake.NewProviderAdapter("yookassa")
	vpnRegistry := vpnadapter.NewRegistry(fake.NewVPNAdapter("outline"), fake.NewVPNAdapter("v2ray"))
	providerRegistry := providers.NewRegistry(provider)

	catalog.AddTariff(&models.Tariff{ID: 1, Name: "basic", DurationSec: 3600, Price: 500, TrafficLimitMB: 1000})
	catalog.AddServer(&models.Server{ID: 1, Protocol: models.ProtocolOutline, Active: true, IsPrimary: true, AccessLevel: models.AccessLevelAll})

	purchaseSvc := purchase.NewService(payments, subs, keys, catalog, vpnRegistry, notifier, purchase.Config{})
	paymentSvc := payment.NewService(payments, catalog, keys, providerRegistry, vpnRegistry, purchaseSvc, notifier, nil, payment.Config{DefaultCurrency: "RUB"})

	return handlers.NewPaymentHandler(paymentSvc, payments), payments
}

func TestCreateIntentHandlerInvalidJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newPaymentHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader([]byte("not json")))
	c.Request.Header.Set("Content-Type", "application/json")

	h.CreateIntent(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateIntentHandlerMissingRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newPaymentHandler(t)

	body, _ := json.Marshal(map[string]interface{}{"user_id": 1})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.CreateIntent(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateIntentHandlerSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newPaymentHandler(t)

	body, _ := json.Marshal(map[string]interface{}{
		"user_id": 1, "tariff_id": 1, "provider": "yookassa", "protocol": "outline",
	})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.CreateIntent(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.NotEmpty(t, resp["confirmation_url"])
}

func TestCreateIntentHandlerUnknownTariffSurfacesAsBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newPaymentHandler(t)

	body, _ := json.Marshal(map[string]interface{}{
		"user_id": 1, "tariff_id": 999, "provider": "yookassa", "protocol": "outline",
	})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.CreateIntent(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetStatusHandlerNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newPaymentHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/payments/missing", nil)
	c.Params = gin.Params{{Key: "payment_id", Value: "missing"}}

	h.GetStatus(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStatusHandlerFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, payments := newPaymentHandler(t)
	_, err := payments.Create(context.Background(), &models.Payment{
		PaymentID: "pay-1", UserID: 1, TariffID: 1, Amount: 500, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Status: models.PaymentStatusPending,
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/payments/pay-1", nil)
	c.Params = gin.Params{{Key: "payment_id", Value: "pay-1"}}

	h.GetStatus(c)

	assert.Equal(t, http.StatusOK, w.Code)
}
