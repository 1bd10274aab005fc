package webhook_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/payment"
	"github.com/vpnpay/core/internal/paymentstore/fake"
	"github.com/vpnpay/core/internal/providers"
	"github.com/vpnpay/core/internal/purchase"
	"github.com/vpnpay/core/internal/vpnadapter"
	"github.com/vpnpay/core/internal/webhook"
)

type testRig struct {
	payments   *fake.PaymentStore
	events     *fake.WebhookEventStore
	catalog    *fake.CatalogStore
	subs       *fake.SubscriptionStore
	keys       *fake.VpnKeyStore
	notifier   *fake.Notifier
	provider   *fake.ProviderAdapter
	vpnAdapter *fake.VPNAdapter
	webhookSvc *webhook.Service
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	payments := fake.NewPaymentStore()
	events := fake.NewWebhookEventStore()
	catalog := fake.NewCatalogStore()
	subs := fake.NewSubscriptionStore()
	keys := fake.NewVpnKeyStore()
	notifier := fake.NewNotifier()
	provider := fake.NewProviderAdapter("yookassa")
	vpnAdapt := fake.NewVPNAdapter("outline")

	providerRegistry := providers.NewRegistry(provider)
	vpnRegistry := vpnadapter.NewRegistry(vpnAdapt)

	purchaseSvc := purchase.NewService(payments, subs, keys, catalog, vpnRegistry, notifier, purchase.Config{})
	paymentSvc := payment.NewService(payments, catalog, keys, providerRegistry, vpnRegistry, purchaseSvc, notifier, nil, payment.Config{DefaultCurrency: "RUB"})
	webhookSvc := webhook.NewService(providerRegistry, payments, events, paymentSvc, notifier, webhook.Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond})

	return &testRig{
		payments: payments, events: events, catalog: catalog, subs: subs, keys: keys,
		notifier: notifier, provider: provider, vpnAdapter: vpnAdapt, webhookSvc: webhookSvc,
	}
}

func (r *testRig) seedPendingPayment(t *testing.T, paymentID string) {
	t.Helper()
	r.catalog.AddTariff(&models.Tariff{ID: 1, Name: "basic", DurationSec: 3600, Price: 100, TrafficLimitMB: 1000})
	r.catalog.AddServer(&models.Server{ID: 1, Protocol: models.ProtocolOutline, Active: true, IsPrimary: true, AccessLevel: models.AccessLevelAll})
	_, err := r.payments.Create(context.Background(), &models.Payment{
		PaymentID: paymentID, UserID: 42, TariffID: 1, Amount: 100, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Status: models.PaymentStatusPending,
		Metadata: models.Metadata{models.MetaKeyType: models.KeyTypeKey},
	})
	require.NoError(t, err)
}

func TestHandleInboundUnknownProvider(t *testing.T) {
	r := newRig(t)
	err := r.webhookSvc.HandleInbound(context.Background(), "unknown", nil, []byte("{}"), "1.2.3.4")
	assert.Error(t, err)
}

func TestHandleInboundAuthFailure(t *testing.T) {
	r := newRig(t)
	r.provider.VerifyWebhookOK = false
	err := r.webhookSvc.HandleInbound(context.Background(), "yookassa", nil, []byte("{}"), "1.2.3.4")
	assert.ErrorIs(t, err, providers.ErrWebhookAuth)
}

func TestHandleInboundMalformed(t *testing.T) {
	r := newRig(t)
	r.provider.ParseWebhookErr = providers.ErrMalformedWebhook
	err := r.webhookSvc.HandleInbound(context.Background(), "yookassa", nil, []byte("garbage"), "1.2.3.4")
	assert.ErrorIs(t, err, providers.ErrMalformedWebhook)
}

func TestHandleInboundSuccessfulPaidDispatch(t *testing.T) {
	r := newRig(t)
	r.seedPendingPayment(t, "pay-1")
	r.provider.ParseWebhookPaymentID = "pay-1"
	r.provider.ParseWebhookStatus = providers.StatusPaid

	err := r.webhookSvc.HandleInbound(context.Background(), "yookassa", nil, []byte("{}"), "1.2.3.4")
	require.NoError(t, err)

	p, err := r.payments.GetByPaymentID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Len(t, r.notifier.PurchaseSuccessCalls, 1)
}

func TestHandleInboundPaidDispatchIsIdempotent(t *testing.T) {
	r := newRig(t)
	r.seedPendingPayment(t, "pay-2")
	r.provider.ParseWebhookPaymentID = "pay-2"
	r.provider.ParseWebhookStatus = providers.StatusPaid

	ctx := context.Background()
	require.NoError(t, r.webhookSvc.HandleInbound(ctx, "yookassa", nil, []byte("{}"), "1.2.3.4"))
	require.NoError(t, r.webhookSvc.HandleInbound(ctx, "yookassa", nil, []byte("{}"), "1.2.3.4"))

	assert.Len(t, r.notifier.PurchaseSuccessCalls, 1, "redelivered webhook must not re-issue a credential")
}

func TestHandleInboundFailedDispatch(t *testing.T) {
	r := newRig(t)
	r.seedPendingPayment(t, "pay-3")
	r.provider.ParseWebhookPaymentID = "pay-3"
	r.provider.ParseWebhookStatus = providers.StatusFailed

	err := r.webhookSvc.HandleInbound(context.Background(), "yookassa", nil, []byte("{}"), "1.2.3.4")
	require.NoError(t, err)

	p, err := r.payments.GetByPaymentID(context.Background(), "pay-3")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Len(t, r.notifier.PaymentFailedCalls, 1)
}

func TestHandleInboundDispatchFailureQueuesRetryButStillAcks(t *testing.T) {
	r := newRig(t)
	// No payment exists for this id: dispatch fails, but HandleInbound
	// must still return nil so the provider isn't redelivered forever.
	r.provider.ParseWebhookPaymentID = "missing-payment"
	r.provider.ParseWebhookStatus = providers.StatusPaid

	err := r.webhookSvc.HandleInbound(context.Background(), "yookassa", nil, []byte(`{"id":"missing-payment"}`), "1.2.3.4")
	assert.NoError(t, err)

	n, err := r.events.CountPendingRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProcessRetryQueueSuccessRemovesItem(t *testing.T) {
	r := newRig(t)
	r.seedPendingPayment(t, "pay-4")
	ctx := context.Background()
	require.NoError(t, r.events.AddToRetryQueue(ctx, "yookassa", "pay-4", string(providers.StatusPaid), map[string]string{"id": "pay-4"}, 3))
	// Make it immediately due.
	items := r.events.AllQueueItems()
	require.Len(t, items, 1)
	require.NoError(t, r.events.UpdateRetryQueueItem(ctx, items[0].ID, 0, ptrTime(time.Now().Add(-time.Second)), ""))

	require.NoError(t, r.webhookSvc.ProcessRetryQueue(ctx, 10))

	n, err := r.events.CountPendingRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	p, err := r.payments.GetByPaymentID(ctx, "pay-4")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
}

func TestProcessRetryQueueExhaustedMovesToDeadLetter(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	// No matching payment: dispatch always fails.
	require.NoError(t, r.events.AddToRetryQueue(ctx, "yookassa", "never-exists", string(providers.StatusPaid), map[string]string{}, 1))
	items := r.events.AllQueueItems()
	require.Len(t, items, 1)
	require.NoError(t, r.events.UpdateRetryQueueItem(ctx, items[0].ID, 0, ptrTime(time.Now().Add(-time.Second)), ""))

	require.NoError(t, r.webhookSvc.ProcessRetryQueue(ctx, 10))

	dlq, err := r.events.CountDeadLetterQueueItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlq)

	pending, err := r.events.CountPendingRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func ptrTime(t time.Time) *time.Time { return &t }
