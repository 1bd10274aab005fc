package purchase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/paymentstore/fake"
	"github.com/vpnpay/core/internal/purchase"
	"github.com/vpnpay/core/internal/vpnadapter"
)

type purchaseRig struct {
	payments *fake.PaymentStore
	subs     *fake.SubscriptionStore
	keys     *fake.VpnKeyStore
	catalog  *fake.CatalogStore
	notifier *fake.Notifier
	svc      *purchase.Service
}

func newPurchaseRig(t *testing.T) *purchaseRig {
	t.Helper()
	payments := fake.NewPaymentStore()
	subs := fake.NewSubscriptionStore()
	keys := fake.NewVpnKeyStore()
	catalog := fake.NewCatalogStore()
	notifier := fake.NewNotifier()
	vpnRegistry := vpnadapter.NewRegistry(fake.NewVPNAdapter("v2ray"), fake.NewVPNAdapter("outline"))

	svc := purchase.NewService(payments, subs, keys, catalog, vpnRegistry, notifier, purchase.Config{
		Grace: time.Hour, LockStaleness: time.Minute, BaseURL: "https://vpnpay.example", AdminUserID: 99,
	})

	catalog.AddTariff(&models.Tariff{ID: 1, Name: "1 month", DurationSec: int64((30 * 24 * time.Hour).Seconds()), Price: 500, TrafficLimitMB: 50000})
	catalog.AddServer(&models.Server{ID: 1, Protocol: models.ProtocolV2Ray, Active: true, AccessLevel: models.AccessLevelAll})
	catalog.AddServer(&models.Server{ID: 2, Protocol: models.ProtocolOutline, Active: true, IsPrimary: true, AccessLevel: models.AccessLevelAll})

	return &purchaseRig{payments: payments, subs: subs, keys: keys, catalog: catalog, notifier: notifier, svc: svc}
}

func (r *purchaseRig) seedPaidSubscriptionPayment(t *testing.T, paymentID string, userID int64) *models.Payment {
	t.Helper()
	p, err := r.payments.Create(context.Background(), &models.Payment{
		PaymentID: paymentID, UserID: userID, TariffID: 1, Amount: 500, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolV2Ray, Status: models.PaymentStatusPaid,
		Metadata: models.Metadata{models.MetaKeyType: models.KeyTypeSubscription},
	})
	require.NoError(t, err)
	return p
}

func TestProcessFirstPurchaseCreatesSubscriptionAndIssuesKeys(t *testing.T) {
	r := newPurchaseRig(t)
	r.seedPaidSubscriptionPayment(t, "sub-pay-1", 7)

	ok, err := r.svc.Process(context.Background(), "sub-pay-1")
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := r.payments.GetByPaymentID(context.Background(), "sub-pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	require.NotNil(t, p.SubscriptionID)

	sub, err := r.subs.GetByID(context.Background(), *p.SubscriptionID)
	require.NoError(t, err)
	assert.True(t, sub.IsActiveNow(time.Now(), time.Hour))
	assert.True(t, sub.PurchaseNotificationSent)

	assert.Len(t, r.notifier.PurchaseSuccessCalls, 1)
	assert.Len(t, r.notifier.AdminPurchaseCalls, 1)
}

func TestProcessIsIdempotentOnCompletedPayment(t *testing.T) {
	r := newPurchaseRig(t)
	r.seedPaidSubscriptionPayment(t, "sub-pay-2", 8)
	ctx := context.Background()

	ok1, err := r.svc.Process(ctx, "sub-pay-2")
	require.NoError(t, err)
	require.True(t, ok1)

	ok2, err := r.svc.Process(ctx, "sub-pay-2")
	require.NoError(t, err)
	assert.True(t, ok2)

	assert.Len(t, r.notifier.PurchaseSuccessCalls, 1, "replaying Process on an already-completed payment must not re-notify")
}

func TestProcessRejectsNonSubscriptionPayment(t *testing.T) {
	r := newPurchaseRig(t)
	_, err := r.payments.Create(context.Background(), &models.Payment{
		PaymentID: "simple-1", UserID: 1, TariffID: 1, Amount: 500, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Status: models.PaymentStatusPaid,
		Metadata: models.Metadata{models.MetaKeyType: models.KeyTypeKey},
	})
	require.NoError(t, err)

	_, err = r.svc.Process(context.Background(), "simple-1")
	assert.Error(t, err)
}

func TestProcessRenewalExtendsExistingSubscription(t *testing.T) {
	r := newPurchaseRig(t)
	ctx := context.Background()

	r.seedPaidSubscriptionPayment(t, "sub-pay-3", 9)
	_, err := r.svc.Process(ctx, "sub-pay-3")
	require.NoError(t, err)

	first, err := r.payments.GetByPaymentID(ctx, "sub-pay-3")
	require.NoError(t, err)
	firstSub, err := r.subs.GetByID(ctx, *first.SubscriptionID)
	require.NoError(t, err)
	firstExpiry := firstSub.ExpiresAt

	r.seedPaidSubscriptionPayment(t, "sub-pay-4", 9)
	ok, err := r.svc.Process(ctx, "sub-pay-4")
	require.NoError(t, err)
	assert.True(t, ok)

	second, err := r.payments.GetByPaymentID(ctx, "sub-pay-4")
	require.NoError(t, err)
	require.NotNil(t, second.SubscriptionID)
	assert.Equal(t, *first.SubscriptionID, *second.SubscriptionID, "renewal must reuse the active subscription, not create a second one")

	renewedSub, err := r.subs.GetByID(ctx, *second.SubscriptionID)
	require.NoError(t, err)
	assert.True(t, renewedSub.ExpiresAt.After(firstExpiry), "a renewal must extend expiry past the original subscription's expiry")
}
