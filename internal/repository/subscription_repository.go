package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vpnpay/core/internal/models"
)

// SubscriptionRepository is the pgx-backed SubscriptionRepo.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

const subscriptionColumns = `id, user_id, subscription_token, tariff_id, created_at, expires_at,
	last_updated_at, is_active, traffic_limit_mb, purchase_notification_sent`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	if err := row.Scan(&s.ID, &s.UserID, &s.SubscriptionToken, &s.TariffID, &s.CreatedAt, &s.ExpiresAt,
		&s.LastUpdatedAt, &s.IsActive, &s.TrafficLimitMB, &s.PurchaseNotificationSent); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id int64) (*models.Subscription, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	s, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	return s, err
}

func (r *SubscriptionRepository) GetActiveByUserID(ctx context.Context, userID int64, now time.Time, grace time.Duration) (*models.Subscription, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND is_active = true AND expires_at > $2
		ORDER BY expires_at DESC LIMIT 1
	`, userID, now.Add(-grace))
	s, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	return s, err
}

// GetOrCreateActive implements §4.2.2 step 5: under a serializable
// transaction, look up an active subscription for the user; if absent,
// insert a freshly-tokened placeholder row. The double-check-then-insert
// inside one transaction is what defeats the race between two concurrent
// webhooks for the same user's first purchase.
func (r *SubscriptionRepository) GetOrCreateActive(ctx context.Context, userID int64, tariff *models.Tariff, now time.Time, grace time.Duration, vip bool) (*models.Subscription, bool, error) {
	var result *models.Subscription
	created := false

	err := withRetry(ctx, 3, 100*time.Millisecond, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		row := tx.QueryRow(ctx, `
			SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE user_id = $1 AND is_active = true AND expires_at > $2
			ORDER BY expires_at DESC LIMIT 1
			FOR UPDATE
		`, userID, now.Add(-grace))
		existing, err := scanSubscription(row)
		if err == nil {
			result = existing
			created = false
			return tx.Commit(ctx)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		limit := tariff.TrafficLimitMB
		if vip {
			limit = 0
		}
		token := uuid.New()
		insertRow := tx.QueryRow(ctx, `
			INSERT INTO subscriptions (user_id, subscription_token, tariff_id, created_at, expires_at,
				last_updated_at, is_active, traffic_limit_mb, purchase_notification_sent)
			VALUES ($1, $2, $3, $4, $4, $4, true, $5, false)
			RETURNING `+subscriptionColumns, userID, token, tariff.ID, now, limit)
		inserted, err := scanSubscription(insertRow)
		if err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		result = inserted
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// resolveTrafficLimit implements the §4.2.3 traffic-limit preservation
// invariant: never reduce an existing positive limit below the tariff
// limit, and never overwrite an explicit unlimited (0).
func resolveTrafficLimit(current, tariffLimit int64) int64 {
	if current == 0 {
		return 0
	}
	if current > tariffLimit && tariffLimit > 0 {
		return current
	}
	return tariffLimit
}

// UpdateExpiryAndLimit writes a new expiry and tariff, preserving the
// traffic-limit invariant against the current stored value.
func (r *SubscriptionRepository) UpdateExpiryAndLimit(ctx context.Context, id int64, expiresAt time.Time, tariffID int64, trafficLimitMB int64) error {
	return withRetry(ctx, 3, 100*time.Millisecond, func() error {
		var current int64
		if err := r.pool.QueryRow(ctx, `SELECT traffic_limit_mb FROM subscriptions WHERE id = $1`, id).Scan(&current); err != nil {
			return fmt.Errorf("%w: %v", ErrSubscriptionNotFound, err)
		}
		limit := resolveTrafficLimit(current, trafficLimitMB)
		tag, err := r.pool.Exec(ctx, `
			UPDATE subscriptions SET expires_at = $2, tariff_id = $3, traffic_limit_mb = $4,
				is_active = true, last_updated_at = $5
			WHERE id = $1
		`, id, expiresAt, tariffID, limit, time.Now().UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrSubscriptionNotFound
		}
		return nil
	})
}

// RefreshTariffAndLimit writes tariff_id/traffic_limit_mb without
// touching expiry — used when the recomputed expiry is within 60s of
// the current value (§4.2.2 step 10).
func (r *SubscriptionRepository) RefreshTariffAndLimit(ctx context.Context, id int64, tariffID int64, trafficLimitMB int64) error {
	return withRetry(ctx, 3, 100*time.Millisecond, func() error {
		var current int64
		if err := r.pool.QueryRow(ctx, `SELECT traffic_limit_mb FROM subscriptions WHERE id = $1`, id).Scan(&current); err != nil {
			return fmt.Errorf("%w: %v", ErrSubscriptionNotFound, err)
		}
		limit := resolveTrafficLimit(current, trafficLimitMB)
		_, err := r.pool.Exec(ctx, `
			UPDATE subscriptions SET tariff_id = $2, traffic_limit_mb = $3, last_updated_at = $4 WHERE id = $1
		`, id, tariffID, limit, time.Now().UTC())
		return err
	})
}

// TryFlipPurchaseNotificationSent is the CAS gate for exactly-once
// purchase notification: only the first successful flipper may send
// the "purchase" message.
func (r *SubscriptionRepository) TryFlipPurchaseNotificationSent(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE subscriptions SET purchase_notification_sent = true, last_updated_at = $2
		WHERE id = $1 AND purchase_notification_sent = false
	`, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SubscriptionRepository) CountKeys(ctx context.Context, subscriptionID int64) (int64, error) {
	var n int64
	query := `
		SELECT
			(SELECT COUNT(*) FROM keys WHERE subscription_id = $1) +
			(SELECT COUNT(*) FROM v2ray_keys WHERE subscription_id = $1)
	`
	err := r.pool.QueryRow(ctx, query, subscriptionID).Scan(&n)
	return n, err
}

// HasActiveCredential answers the RenewalDetector question "does the
// user already hold an active credential of this protocol?", sourcing
// expiry from the parent subscription join rather than any historical
// per-key expiry column (§9 open question resolution).
func (r *SubscriptionRepository) HasActiveCredential(ctx context.Context, userID int64, protocol models.Protocol, now time.Time, grace time.Duration) (bool, error) {
	var table string
	switch protocol {
	case models.ProtocolV2Ray:
		table = "v2ray_keys"
	default:
		table = "keys"
	}
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s k
			JOIN subscriptions s ON s.id = k.subscription_id
			WHERE k.user_id = $1 AND s.is_active = true AND s.expires_at > $2
		)
	`, table)
	var exists bool
	err := r.pool.QueryRow(ctx, query, userID, now.Add(-grace)).Scan(&exists)
	return exists, err
}

func (r *SubscriptionRepository) HasActivePaidSubscription(ctx context.Context, userID int64, now time.Time, grace time.Duration) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions WHERE user_id = $1 AND is_active = true AND expires_at > $2
		)
	`, userID, now.Add(-grace)).Scan(&exists)
	return exists, err
}
