package handlers_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/vpnpay/core/internal/handlers"
	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/notify"
	"github.com/vpnpay/core/internal/paymentstore/fake"
	"github.com/vpnpay/core/internal/providers"
	"github.com/vpnpay/core/internal/webhook"
)

func newWebhookHandler(t *testing.T) (*handlers.WebhookHandler, *fake.ProviderAdapter) {
	t.Helper()
	payments := fake.NewPaymentStore()
	events := fake.NewWebhookEventStore()
	provider := fake.NewProviderAdapter("yookassa")
	registry := providers.NewRegistry(provider)

	svc := webhook.NewService(registry, payments, events, nil, notify.NewMulti(), webhook.Config{})
	return handlers.NewWebhookHandler(svc), provider
}

func TestWebhookHandlerUnknownProvider(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newWebhookHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/bogus", bytes.NewReader([]byte("{}")))
	c.Params = gin.Params{{Key: "provider", Value: "bogus"}}

	h.Handle(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookHandlerAuthFailureReturnsForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, provider := newWebhookHandler(t)
	provider.VerifyWebhookOK = false

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/yookassa", bytes.NewReader([]byte("{}")))
	c.Params = gin.Params{{Key: "provider", Value: "yookassa"}}

	h.Handle(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookHandlerUnknownPaymentIsAcceptedAndQueued(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, provider := newWebhookHandler(t)
	provider.ParseWebhookPaymentID = "never-created"
	provider.ParseWebhookStatus = providers.StatusPaid

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/yookassa", bytes.NewReader([]byte("{}")))
	c.Params = gin.Params{{Key: "provider", Value: "yookassa"}}

	h.Handle(c)

	assert.Equal(t, http.StatusOK, w.Code, "the provider must still receive a 200 so it doesn't redeliver, even when the payment was unresolvable and got queued for retry")
}

var _ = models.ProviderYooKassa
