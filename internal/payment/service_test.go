package payment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/payment"
	"github.com/vpnpay/core/internal/paymentstore/fake"
	"github.com/vpnpay/core/internal/providers"
	"github.com/vpnpay/core/internal/purchase"
	"github.com/vpnpay/core/internal/vpnadapter"
)

type paymentRig struct {
	payments *fake.PaymentStore
	catalog  *fake.CatalogStore
	keys     *fake.VpnKeyStore
	notifier *fake.Notifier
	provider *fake.ProviderAdapter
	svc      *payment.Service
}

func newPaymentRig(t *testing.T) *paymentRig {
	t.Helper()
	payments := fake.NewPaymentStore()
	catalog := fake.NewCatalogStore()
	subs := fake.NewSubscriptionStore()
	keys := fake.NewVpnKeyStore()
	notifier := fake.NewNotifier()
	provider := fake.NewProviderAdapter("yookassa")
	vpnRegistry := vpnadapter.NewRegistry(fake.NewVPNAdapter("outline"), fake.NewVPNAdapter("v2ray"))
	providerRegistry := providers.NewRegistry(provider)

	purchaseSvc := purchase.NewService(payments, subs, keys, catalog, vpnRegistry, notifier, purchase.Config{})
	svc := payment.NewService(payments, catalog, keys, providerRegistry, vpnRegistry, purchaseSvc, notifier, nil, payment.Config{DefaultCurrency: "RUB"})

	catalog.AddTariff(&models.Tariff{ID: 1, Name: "basic", DurationSec: 3600, Price: 500, TrafficLimitMB: 1000})
	catalog.AddServer(&models.Server{ID: 1, Protocol: models.ProtocolOutline, Active: true, IsPrimary: true, AccessLevel: models.AccessLevelAll})

	return &paymentRig{payments: payments, catalog: catalog, keys: keys, notifier: notifier, provider: provider, svc: svc}
}

func TestCreateIntentRejectsInvalidEmail(t *testing.T) {
	r := newPaymentRig(t)
	_, _, err := r.svc.CreateIntent(context.Background(), payment.IntentRequest{
		UserID: 1, TariffID: 1, Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Email: "not-an-email",
	})
	assert.Error(t, err)
}

func TestCreateIntentRejectsUnknownProvider(t *testing.T) {
	r := newPaymentRig(t)
	_, _, err := r.svc.CreateIntent(context.Background(), payment.IntentRequest{
		UserID: 1, TariffID: 1, Provider: models.Provider("bogus"), Protocol: models.ProtocolOutline,
	})
	assert.Error(t, err)
}

func TestCreateIntentRejectsNonPositiveTariffPrice(t *testing.T) {
	r := newPaymentRig(t)
	r.catalog.AddTariff(&models.Tariff{ID: 2, Name: "free", DurationSec: 3600, Price: 0})
	_, _, err := r.svc.CreateIntent(context.Background(), payment.IntentRequest{
		UserID: 1, TariffID: 2, Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline,
	})
	assert.Error(t, err)
}

func TestCreateIntentSucceeds(t *testing.T) {
	r := newPaymentRig(t)
	p, confirmURL, err := r.svc.CreateIntent(context.Background(), payment.IntentRequest{
		UserID: 1, TariffID: 1, Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, KeyType: models.KeyTypeKey,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, confirmURL)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, int64(500), p.Amount)
	assert.Equal(t, 1, r.provider.CreatePaymentCalls)
}

func TestCreateIntentSurfacesProviderError(t *testing.T) {
	r := newPaymentRig(t)
	r.provider.CreatePaymentErr = assertProviderErr
	_, _, err := r.svc.CreateIntent(context.Background(), payment.IntentRequest{
		UserID: 1, TariffID: 1, Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline,
	})
	assert.Error(t, err)
}

func TestOnPaidIssuesSimpleKeyForNonSubscriptionPayment(t *testing.T) {
	r := newPaymentRig(t)
	ctx := context.Background()
	_, err := r.payments.Create(ctx, &models.Payment{
		PaymentID: "key-1", UserID: 5, TariffID: 1, Amount: 500, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Status: models.PaymentStatusPaid,
		Metadata: models.Metadata{models.MetaKeyType: models.KeyTypeKey},
	})
	require.NoError(t, err)

	ok, err := r.svc.OnPaid(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := r.payments.GetByPaymentID(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Len(t, r.notifier.PurchaseSuccessCalls, 1)
}

func TestRefundRequiresPaidOrCompletedStatus(t *testing.T) {
	r := newPaymentRig(t)
	ctx := context.Background()
	_, err := r.payments.Create(ctx, &models.Payment{
		PaymentID: "refund-1", UserID: 1, TariffID: 1, Amount: 500, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Status: models.PaymentStatusPending,
	})
	require.NoError(t, err)

	err = r.svc.Refund(ctx, "refund-1", 500, "customer request")
	assert.Error(t, err)
	assert.Equal(t, 0, r.provider.RefundCalls)
}

func TestRefundSucceedsFromCompleted(t *testing.T) {
	r := newPaymentRig(t)
	ctx := context.Background()
	_, err := r.payments.Create(ctx, &models.Payment{
		PaymentID: "refund-2", UserID: 1, TariffID: 1, Amount: 500, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Status: models.PaymentStatusCompleted,
	})
	require.NoError(t, err)

	require.NoError(t, r.svc.Refund(ctx, "refund-2", 500, "customer request"))

	p, err := r.payments.GetByPaymentID(ctx, "refund-2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, p.Status)
	assert.Equal(t, 1, r.provider.RefundCalls)
	assert.Len(t, r.notifier.RefundIssuedCalls, 1)
}

func TestRecheckTreatsProviderNotFoundAsPaid(t *testing.T) {
	r := newPaymentRig(t)
	ctx := context.Background()
	_, err := r.payments.Create(ctx, &models.Payment{
		PaymentID: "notfound-1", UserID: 1, TariffID: 1, Amount: 500, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Status: models.PaymentStatusPending,
		Metadata: models.Metadata{models.MetaKeyType: models.KeyTypeKey},
	})
	require.NoError(t, err)
	r.provider.CheckPaymentErr = providers.ErrPaymentNotFound

	paid, err := r.svc.Recheck(ctx, "notfound-1")
	require.NoError(t, err)
	assert.True(t, paid, "a provider reporting no record of the payment must be treated as paid, not retried forever")

	p, err := r.payments.GetByPaymentID(ctx, "notfound-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
}

func TestRecheckToleratesGenericProviderErrorAsNotYetPaid(t *testing.T) {
	r := newPaymentRig(t)
	ctx := context.Background()
	_, err := r.payments.Create(ctx, &models.Payment{
		PaymentID: "transient-1", UserID: 1, TariffID: 1, Amount: 500, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Status: models.PaymentStatusPending,
		Metadata: models.Metadata{models.MetaKeyType: models.KeyTypeKey},
	})
	require.NoError(t, err)
	r.provider.CheckPaymentErr = assertProviderErr

	paid, err := r.svc.Recheck(ctx, "transient-1")
	require.NoError(t, err)
	assert.False(t, paid)

	p, err := r.payments.GetByPaymentID(ctx, "transient-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
}

var assertProviderErr = &testPaymentError{"provider down"}

type testPaymentError struct{ msg string }

func (e *testPaymentError) Error() string { return e.msg }
