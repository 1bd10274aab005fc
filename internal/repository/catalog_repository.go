package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vpnpay/core/internal/models"
)

// CatalogRepository reads the read-only tariffs/servers/referrals
// catalogs and the VIP flag on users. None of these rows are written by
// the core.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) GetTariff(ctx context.Context, id int64) (*models.Tariff, error) {
	var t models.Tariff
	err := r.pool.QueryRow(ctx, `SELECT id, name, duration_sec, price, traffic_limit_mb FROM tariffs WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.DurationSec, &t.Price, &t.TrafficLimitMB)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTariffNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ActiveV2RayServers enumerates active v2ray servers whose access_level
// is in the given whitelist (§4.2.4: "all" always, "vip"/"paid" gated by
// caller-computed access tier).
func (r *CatalogRepository) ActiveV2RayServers(ctx context.Context, accessLevels []models.AccessLevel) ([]*models.Server, error) {
	if len(accessLevels) == 0 {
		return nil, nil
	}
	levels := make([]string, len(accessLevels))
	for i, l := range accessLevels {
		levels[i] = string(l)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, protocol, api_url, api_key, country, active, access_level, is_primary
		FROM servers WHERE protocol = 'v2ray' AND active = true AND access_level = ANY($1)
		ORDER BY id ASC
	`, levels)
	if err != nil {
		return nil, fmt.Errorf("%w: list v2ray servers: %v", ErrStorage, err)
	}
	defer rows.Close()
	var out []*models.Server
	for rows.Next() {
		var s models.Server
		if err := rows.Scan(&s.ID, &s.Protocol, &s.APIURL, &s.APIKey, &s.Country, &s.Active, &s.AccessLevel, &s.IsPrimary); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// PrimaryOutlineServer picks at most one active outline server,
// preferring the catalog row flagged is_primary; falling back to the
// next active outline server if the preferred one is unavailable
// (§9 open-question resolution: fall back rather than return nothing).
func (r *CatalogRepository) PrimaryOutlineServer(ctx context.Context) (*models.Server, error) {
	var s models.Server
	err := r.pool.QueryRow(ctx, `
		SELECT id, protocol, api_url, api_key, country, active, access_level, is_primary
		FROM servers
		WHERE protocol = 'outline' AND active = true
		ORDER BY is_primary DESC, id ASC
		LIMIT 1
	`).Scan(&s.ID, &s.Protocol, &s.APIURL, &s.APIKey, &s.Country, &s.Active, &s.AccessLevel, &s.IsPrimary)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *CatalogRepository) ReferralsOf(ctx context.Context, referrerID int64) ([]*models.Referral, error) {
	rows, err := r.pool.Query(ctx, `SELECT referrer_id, referred_id, bonus_issued FROM referrals WHERE referrer_id = $1`, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Referral
	for rows.Next() {
		var rf models.Referral
		if err := rows.Scan(&rf.ReferrerID, &rf.ReferredID, &rf.BonusIssued); err != nil {
			return nil, err
		}
		out = append(out, &rf)
	}
	return out, rows.Err()
}

func (r *CatalogRepository) IsVIP(ctx context.Context, userID int64) (bool, error) {
	var vip bool
	err := r.pool.QueryRow(ctx, `SELECT is_vip FROM users WHERE id = $1`, userID).Scan(&vip)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	return vip, err
}

// ReferralHasCompletedPayment answers §4.2.2 step 9's bonus-eligibility
// check: does this referred user have at least one completed, positive-
// amount payment created at or before the cutoff?
func (r *CatalogRepository) ReferralHasCompletedPayment(ctx context.Context, referredUserID int64, cutoff int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE user_id = $1 AND status = 'completed' AND amount > 0 AND extract(epoch FROM created_at) <= $2
		)
	`, referredUserID, cutoff).Scan(&exists)
	return exists, err
}

// SumCompletedTariffDurations sums tariff.duration_sec across all
// completed payments linked to a subscription (§4.2.2 step 9), falling
// back to the current tariff's duration when the catalog join yields 0
// (tariff deleted/renamed since purchase).
func (r *CatalogRepository) SumCompletedTariffDurations(ctx context.Context, subscriptionID int64, fallbackTariffID int64) (int64, int64, error) {
	var total int64
	var firstCreated int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(t.duration_sec), 0), COALESCE(extract(epoch FROM MIN(p.created_at)), 0)
		FROM payments p
		JOIN tariffs t ON t.id = p.tariff_id
		WHERE p.subscription_id = $1 AND p.status = 'completed'
	`, subscriptionID).Scan(&total, &firstCreated)
	if err != nil {
		return 0, 0, err
	}
	if total == 0 {
		fallback, ferr := r.GetTariff(ctx, fallbackTariffID)
		if ferr == nil {
			total = fallback.DurationSec
		}
	}
	return total, firstCreated, nil
}
