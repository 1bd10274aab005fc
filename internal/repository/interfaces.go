package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vpnpay/core/internal/models"
)

// PaymentRepo is the atomic-primitive contract §4.1 of the lifecycle
// engine. All mutating methods are safe under concurrent webhook
// deliveries and reconciler sweeps.
type PaymentRepo interface {
	Create(ctx context.Context, p *models.Payment) (*models.Payment, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error)
	GetByID(ctx context.Context, id int64) (*models.Payment, error)
	Update(ctx context.Context, p *models.Payment) error
	TryUpdateStatus(ctx context.Context, paymentID string, to, expectedFrom models.PaymentStatus) (bool, error)
	TryAcquireProcessingLock(ctx context.Context, paymentID, lockKey string, staleness time.Duration) (bool, error)
	ReleaseProcessingLock(ctx context.Context, paymentID, lockKey string) error
	UpdateSubscriptionID(ctx context.Context, paymentID string, subscriptionID int64) error
	Filter(ctx context.Context, f models.PaymentFilter, sortBy models.SortColumn, order models.SortOrder, limit, offset int) ([]*models.Payment, error)
	CountFiltered(ctx context.Context, f models.PaymentFilter) (int64, error)
	GetPaidPaymentsWithoutKeys(ctx context.Context) ([]*models.Payment, error)
	GetPendingPayments(ctx context.Context) ([]*models.Payment, error)
	GetStatistics(ctx context.Context) (*models.Statistics, error)
	// ExpireStalePending implements §4.5's expiration sweep: pendings
	// older than olderThan transition to expired in one statement.
	ExpireStalePending(ctx context.Context, olderThan time.Time) (int64, error)
}

// SubscriptionRepo is subscription CRUD plus the atomic notification-sent
// flip (TryFlipPurchaseNotificationSent) that §4.2 depends on. There is no
// atomic extend-by-duration primitive: the caller computes the new expiry
// and UpdateExpiryAndLimit writes it as an absolute value.
type SubscriptionRepo interface {
	GetByID(ctx context.Context, id int64) (*models.Subscription, error)
	GetActiveByUserID(ctx context.Context, userID int64, now time.Time, grace time.Duration) (*models.Subscription, error)
	// GetOrCreateActive implements the double-check-then-insert of §4.2.2
	// step 5 inside a single serializable transaction; returns the
	// committed row and whether it was freshly created.
	GetOrCreateActive(ctx context.Context, userID int64, tariff *models.Tariff, now time.Time, grace time.Duration, vip bool) (sub *models.Subscription, created bool, err error)
	UpdateExpiryAndLimit(ctx context.Context, id int64, expiresAt time.Time, tariffID int64, trafficLimitMB int64) error
	RefreshTariffAndLimit(ctx context.Context, id int64, tariffID int64, trafficLimitMB int64) error
	TryFlipPurchaseNotificationSent(ctx context.Context, id int64) (bool, error)
	CountKeys(ctx context.Context, subscriptionID int64) (int64, error)
	HasActiveCredential(ctx context.Context, userID int64, protocol models.Protocol, now time.Time, grace time.Duration) (bool, error)
	HasActivePaidSubscription(ctx context.Context, userID int64, now time.Time, grace time.Duration) (bool, error)
}

// VpnKeyRepo persists issued credentials and enforces the
// per-(server_id, subscription_id, protocol) uniqueness invariant.
type VpnKeyRepo interface {
	// InsertIfAbsent implements §4.2.4 step 3-4: inside a transaction it
	// re-checks the (server_id, subscription_id) row for the protocol and
	// only inserts if absent. Returns inserted=false if a racing writer
	// already holds the row.
	InsertIfAbsent(ctx context.Context, k *models.VpnKey) (inserted bool, err error)
	ListBySubscription(ctx context.Context, subscriptionID int64) ([]*models.VpnKey, error)
	ExistsForServer(ctx context.Context, serverID, subscriptionID int64, protocol models.Protocol) (bool, error)
	ResetTrafficCounters(ctx context.Context, subscriptionID int64) error
}

// CatalogRepo exposes the read-only tariff/server/referral catalogs.
type CatalogRepo interface {
	GetTariff(ctx context.Context, id int64) (*models.Tariff, error)
	ActiveV2RayServers(ctx context.Context, accessLevels []models.AccessLevel) ([]*models.Server, error)
	PrimaryOutlineServer(ctx context.Context) (*models.Server, error)
	ReferralsOf(ctx context.Context, referrerID int64) ([]*models.Referral, error)
	IsVIP(ctx context.Context, userID int64) (bool, error)
	ReferralHasCompletedPayment(ctx context.Context, referredUserID int64, cutoff int64) (bool, error)
	SumCompletedTariffDurations(ctx context.Context, subscriptionID int64, fallbackTariffID int64) (total int64, firstCreated int64, err error)
}

// WebhookEventRepo backs idempotency-checked webhook dispatch plus the
// retry queue / dead-letter queue for provider notifications that could
// not be applied immediately.
type WebhookEventRepo interface {
	AddToRetryQueue(ctx context.Context, provider, eventID, eventType string, payload interface{}, maxRetries int) error
	GetPendingRetries(ctx context.Context, limit int) ([]*models.WebhookRetryItem, error)
	UpdateRetryQueueItem(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt *time.Time, lastError string) error
	RemoveFromRetryQueue(ctx context.Context, provider, eventID string) error
	MoveToDeadLetterQueue(ctx context.Context, item *models.WebhookRetryItem, reason string) error
	CountDeadLetterQueueItems(ctx context.Context) (int64, error)
	CountPendingRetries(ctx context.Context) (int64, error)
}
