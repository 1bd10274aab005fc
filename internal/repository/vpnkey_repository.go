package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vpnpay/core/internal/models"
)

// VpnKeyRepository is the pgx-backed VpnKeyRepo. It enforces the at-
// most-one-row-per-(server_id, subscription_id, protocol) invariant by
// re-checking inside the same transaction as the insert (§4.2.4 step 3).
type VpnKeyRepository struct {
	pool *pgxpool.Pool
}

func NewVpnKeyRepository(pool *pgxpool.Pool) *VpnKeyRepository {
	return &VpnKeyRepository{pool: pool}
}

func (r *VpnKeyRepository) InsertIfAbsent(ctx context.Context, k *models.VpnKey) (bool, error) {
	inserted := false
	err := withRetry(ctx, 3, 100*time.Millisecond, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		table := "keys"
		if k.Protocol == models.ProtocolV2Ray {
			table = "v2ray_keys"
		}

		var exists bool
		checkQuery := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE server_id = $1 AND subscription_id = $2 FOR UPDATE)`, table)
		if err := tx.QueryRow(ctx, checkQuery, k.ServerID, k.SubscriptionID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			inserted = false
			return tx.Commit(ctx)
		}

		if k.Protocol == models.ProtocolV2Ray {
			_, err = tx.Exec(ctx, `
				INSERT INTO v2ray_keys (server_id, user_id, v2ray_uuid, email, created_at, tariff_id, client_config, subscription_id, traffic_limit_mb)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, k.ServerID, k.UserID, k.V2RayUUID, k.Email, k.CreatedAt, k.TariffID, k.ClientConfig, k.SubscriptionID, k.TrafficLimitMB)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO keys (server_id, user_id, access_url, traffic_limit_mb, key_id, created_at, email, tariff_id, protocol, subscription_id)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`, k.ServerID, k.UserID, k.AccessURL, k.TrafficLimitMB, k.KeyID, k.CreatedAt, k.Email, k.TariffID, k.Protocol, k.SubscriptionID)
		}
		if err != nil {
			return err
		}

		var verify bool
		if err := tx.QueryRow(ctx, checkQuery, k.ServerID, k.SubscriptionID).Scan(&verify); err != nil {
			return err
		}
		if !verify {
			return fmt.Errorf("%w: key row not visible after insert", ErrStorage)
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *VpnKeyRepository) ListBySubscription(ctx context.Context, subscriptionID int64) ([]*models.VpnKey, error) {
	var out []*models.VpnKey

	rows, err := r.pool.Query(ctx, `
		SELECT server_id, user_id, v2ray_uuid, email, created_at, tariff_id, client_config, traffic_limit_mb
		FROM v2ray_keys WHERE subscription_id = $1
	`, subscriptionID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		k := &models.VpnKey{Protocol: models.ProtocolV2Ray, SubscriptionID: &subscriptionID}
		if err := rows.Scan(&k.ServerID, &k.UserID, &k.V2RayUUID, &k.Email, &k.CreatedAt, &k.TariffID, &k.ClientConfig, &k.TrafficLimitMB); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT server_id, user_id, access_url, traffic_limit_mb, key_id, created_at, email, tariff_id
		FROM keys WHERE subscription_id = $1
	`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		k := &models.VpnKey{Protocol: models.ProtocolOutline, SubscriptionID: &subscriptionID}
		if err := rows.Scan(&k.ServerID, &k.UserID, &k.AccessURL, &k.TrafficLimitMB, &k.KeyID, &k.CreatedAt, &k.Email, &k.TariffID); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *VpnKeyRepository) ExistsForServer(ctx context.Context, serverID, subscriptionID int64, protocol models.Protocol) (bool, error) {
	table := "keys"
	if protocol == models.ProtocolV2Ray {
		table = "v2ray_keys"
	}
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE server_id = $1 AND subscription_id = $2)`, table)
	err := r.pool.QueryRow(ctx, query, serverID, subscriptionID).Scan(&exists)
	return exists, err
}

// ResetTrafficCounters is invoked whenever a subscription was genuinely
// extended (§4.2.2 step 11): traffic usage accounting lives on the
// remote VPN server, so resetting the counter clears the local
// "notified" flag that gates traffic-limit warning resends. Only the
// outline `keys` table carries that flag in this persistence layout.
func (r *VpnKeyRepository) ResetTrafficCounters(ctx context.Context, subscriptionID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE keys SET notified = false WHERE subscription_id = $1`, subscriptionID)
	return err
}
