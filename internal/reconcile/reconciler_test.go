package reconcile_test

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
	"github.com/vpnpay/core/internal/reconcile"
	"github.com/vpnpay/core/internal/vpnadapter"
)

type reconcileRig struct {
	payments *fake.PaymentStore
	catalog  *fake.CatalogStore
	notifier *fake.Notifier
	provider *fake.ProviderAdapter
	subs     *fake.SubscriptionStore
	vpnAdapt *fake.VPNAdapter
	rc       *reconcile.Reconciler
}

func newReconcileRig(t *testing.T, cfg reconcile.Config) *reconcileRig {
	t.Helper()
	payments := fake.NewPaymentStore()
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
	rc := reconcile.NewReconciler(payments, subs, paymentSvc, cfg)

	return &reconcileRig{payments: payments, catalog: catalog, notifier: notifier, provider: provider, subs: subs, vpnAdapt: vpnAdapt, rc: rc}
}

func (r *reconcileRig) seedPayment(t *testing.T, paymentID string, status models.PaymentStatus, createdAt time.Time) {
	t.Helper()
	r.catalog.AddTariff(&models.Tariff{ID: 1, Name: "basic", DurationSec: 3600, Price: 100, TrafficLimitMB: 1000})
	r.catalog.AddServer(&models.Server{ID: 1, Protocol: models.ProtocolOutline, Active: true, IsPrimary: true, AccessLevel: models.AccessLevelAll})
	_, err := r.payments.Create(context.Background(), &models.Payment{
		PaymentID: paymentID, UserID: 1, TariffID: 1, Amount: 100, Currency: models.CurrencyRUB,
		Provider: models.ProviderYooKassa, Protocol: models.ProtocolOutline, Status: status, CreatedAt: createdAt,
		Metadata: models.Metadata{models.MetaKeyType: models.KeyTypeKey},
	})
	require.NoError(t, err)
}

func TestSweepPendingReChecksProviderAndAppliesPaid(t *testing.T) {
	r := newReconcileRig(t, reconcile.Config{})
	r.seedPayment(t, "pend-1", models.PaymentStatusPending, time.Now())
	r.provider.CheckPaymentPaid = true

	require.NoError(t, r.rc.SweepPending(context.Background()))

	p, err := r.payments.GetByPaymentID(context.Background(), "pend-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
}

func TestSweepPendingToleratesProviderErrors(t *testing.T) {
	r := newReconcileRig(t, reconcile.Config{})
	r.seedPayment(t, "pend-2", models.PaymentStatusPending, time.Now())
	r.provider.CheckPaymentErr = assertErr

	assert.NoError(t, r.rc.SweepPending(context.Background()))

	p, err := r.payments.GetByPaymentID(context.Background(), "pend-2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, p.Status, "a polling error must not flip the payment out of pending")
}

func TestSweepPaidWithoutKeysUsesOtherPacerForOutline(t *testing.T) {
	r := newReconcileRig(t, reconcile.Config{OtherPace: time.Millisecond, V2RayPace: time.Hour})
	r.seedPayment(t, "paid-1", models.PaymentStatusPaid, time.Now())

	require.NoError(t, r.rc.SweepPaidWithoutKeys(context.Background()))

	p, err := r.payments.GetByPaymentID(context.Background(), "paid-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
}

func TestSweepPaidWithoutKeysSkipsReprovisioningWhenFeedIsStale(t *testing.T) {
	r := newReconcileRig(t, reconcile.Config{})
	r.seedPayment(t, "paid-2", models.PaymentStatusPaid, time.Now())
	p, err := r.payments.GetByPaymentID(context.Background(), "paid-2")
	require.NoError(t, err)

	r.subs.Add(&models.Subscription{
		UserID: p.UserID, TariffID: 1, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(24 * time.Hour), IsActive: true,
	})

	require.NoError(t, r.rc.SweepPaidWithoutKeys(context.Background()))

	got, err := r.payments.GetByPaymentID(context.Background(), "paid-2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, got.Status)
	assert.Equal(t, 0, r.vpnAdapt.CreateCalls, "a stale-feed renewal must finalize the payment directly, never re-issue a credential")
}

func TestSweepExpirationAgesOutStalePending(t *testing.T) {
	r := newReconcileRig(t, reconcile.Config{CleanupExpiredAfter: time.Hour})
	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now()
	r.seedPayment(t, "stale-1", models.PaymentStatusPending, old)
	r.seedPayment(t, "fresh-1", models.PaymentStatusPending, recent)

	n, err := r.rc.SweepExpiration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale, err := r.payments.GetByPaymentID(context.Background(), "stale-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusExpired, stale.Status)

	fresh, err := r.payments.GetByPaymentID(context.Background(), "fresh-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, fresh.Status)
}

var assertErr = &testProviderError{"provider unreachable"}

type testProviderError struct{ msg string }

func (e *testProviderError) Error() string { return e.msg }
